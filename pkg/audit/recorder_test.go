package audit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webqx-health/authcore/pkg/autherr"
	"github.com/webqx-health/authcore/pkg/observability"
)

type failingSink struct {
	err error
}

func (s *failingSink) Write(ctx context.Context, e *Entry) error { return s.err }
func (s *failingSink) Close() error                              { return nil }

func TestRecorderStampsEntries(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(sink, "memory", nil, nil)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec.SetClock(func() time.Time { return now })

	e := &Entry{Actor: "dr.chen@example.org", Action: ActionLoginSuccess, Outcome: OutcomeSuccess}
	require.NoError(t, rec.Record(context.Background(), e))

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, now, entries[0].Timestamp)
}

func TestRecorderPreservesExistingID(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(sink, "memory", nil, nil)

	e := &Entry{ID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", Actor: "a", Action: ActionTokenIssued, Outcome: OutcomeSuccess}
	require.NoError(t, rec.Record(context.Background(), e))
	assert.Equal(t, "01ARZ3NDEKTSV4RRFFQ69G5FAV", sink.Entries()[0].ID)
}

func TestRecorderULIDsSortByTime(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(sink, "memory", nil, nil)

	for i := 0; i < 10; i++ {
		e := &Entry{Actor: "a", Action: ActionLoginFailure, Outcome: OutcomeFailure}
		require.NoError(t, rec.Record(context.Background(), e))
	}

	entries := sink.Entries()
	for i := 1; i < len(entries); i++ {
		assert.LessOrEqual(t, entries[i-1].ID, entries[i].ID)
	}
}

func TestRecorderSinkFailureDoesNotPanic(t *testing.T) {
	logger := observability.NewLogger(observability.WarnLevel, io.Discard)
	rec := NewRecorder(&failingSink{err: errors.New("disk full")}, "file", logger, nil)

	err := rec.Record(context.Background(), &Entry{Actor: "a", Action: ActionLoginSuccess, Outcome: OutcomeSuccess})
	var logErr *autherr.LogError
	require.True(t, errors.As(err, &logErr))
	assert.Equal(t, "file", logErr.Sink)
}

func TestRecorderCountsWriteErrors(t *testing.T) {
	metrics := observability.NewMetrics(nil)
	rec := NewRecorder(&failingSink{err: errors.New("disk full")}, "file", nil, metrics)

	_ = rec.Record(context.Background(), &Entry{Actor: "a", Action: ActionLoginSuccess, Outcome: OutcomeSuccess})
	// A second failure must still be recorded without affecting the caller.
	_ = rec.Record(context.Background(), &Entry{Actor: "a", Action: ActionLoginFailure, Outcome: OutcomeFailure})
}

func TestMultiSinkContinuesPastFailure(t *testing.T) {
	mem := NewMemorySink()
	multi := NewMultiSink(&failingSink{err: errors.New("down")}, mem)

	err := multi.Write(context.Background(), testEntry("actor", ActionLoginSuccess, OutcomeSuccess))
	assert.Error(t, err)
	assert.Len(t, mem.Entries(), 1, "healthy sink must still receive the entry")
}
