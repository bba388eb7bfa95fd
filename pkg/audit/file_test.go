package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(actor string, action Action, outcome Outcome) *Entry {
	return &Entry{
		ID:        "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Actor:     actor,
		Action:    action,
		Provider:  "hospital-idp",
		Outcome:   outcome,
	}
}

func TestFileSinkWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkConfig{BasePath: dir})
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, testEntry("dr.chen@example.org", ActionLoginSuccess, OutcomeSuccess)))
	require.NoError(t, sink.Write(ctx, testEntry("dr.chen@example.org", ActionSessionCreated, OutcomeSuccess)))

	entries, err := sink.ReadEntries(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionLoginSuccess, entries[0].Action)
	assert.Equal(t, ActionSessionCreated, entries[1].Action)
	assert.Equal(t, "dr.chen@example.org", entries[0].Actor)
}

func TestFileSinkReadLimit(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkConfig{BasePath: dir})
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Write(ctx, testEntry("actor", ActionLoginFailure, OutcomeFailure)))
	}

	entries, err := sink.ReadEntries(3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestFileSinkRotation(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkConfig{BasePath: dir, MaxSize: 256, MaxFiles: 5})
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, sink.Write(ctx, testEntry("actor", ActionLoginFailure, OutcomeFailure)))
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, rotated, "expected at least one rotated file")
}

func TestFileSinkCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkConfig{BasePath: dir})
	require.NoError(t, err)

	assert.NoError(t, sink.Close())
	assert.NoError(t, sink.Close())
}
