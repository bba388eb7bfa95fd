package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDBSink(t *testing.T) (*DBSink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))

	sink, err := NewDBSink(db)
	require.NoError(t, err)
	return sink, mock
}

func TestDBSinkRequiresConnection(t *testing.T) {
	_, err := NewDBSink(nil)
	assert.Error(t, err)
}

func TestDBSinkWrite(t *testing.T) {
	sink, mock := newTestDBSink(t)

	e := &Entry{
		ID:        "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Actor:     "dr.chen@example.org",
		Action:    ActionLoginSuccess,
		Provider:  "hospital-idp",
		Outcome:   OutcomeSuccess,
		Context:   map[string]string{"role": "attending"},
	}

	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(e.ID, e.Timestamp, e.Actor, string(e.Action), e.Provider,
			"", "", string(e.Outcome), "", "",
			"", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, sink.Write(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBSinkWriteError(t *testing.T) {
	sink, mock := newTestDBSink(t)

	mock.ExpectExec("INSERT INTO audit_entries").
		WillReturnError(errors.New("connection lost"))

	err := sink.Write(context.Background(), testEntry("actor", ActionLoginFailure, OutcomeFailure))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBSinkQuery(t *testing.T) {
	sink, mock := newTestDBSink(t)

	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "timestamp", "actor", "action", "provider",
		"resource_type", "resource_id", "outcome", "stage", "reason",
		"request_id", "ip_address", "context",
	}).AddRow(
		"01ARZ3NDEKTSV4RRFFQ69G5FAV", ts, "dr.chen@example.org", "auth.login_success", "hospital-idp",
		nil, nil, "success", nil, nil,
		nil, nil, []byte(`{"role":"attending"}`),
	)

	mock.ExpectQuery("SELECT (.+) FROM audit_entries").
		WithArgs("dr.chen@example.org", 50).
		WillReturnRows(rows)

	entries, err := sink.Query(context.Background(), "dr.chen@example.org", 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionLoginSuccess, entries[0].Action)
	assert.Equal(t, "attending", entries[0].Context["role"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
