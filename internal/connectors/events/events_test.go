package events

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_RecordRecentSummary(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	batchID := uuid.NewString()
	require.NoError(t, store.Record(ctx, Event{Type: TypeFetchFailed, BatchID: batchID, Position: 2, Endpoint: "/check-domains", Cause: "malformed", Reason: "no columns", OccurredAt: base}))
	require.NoError(t, store.Record(ctx, Event{Type: TypeFetchFailed, BatchID: batchID, Position: 7, Endpoint: "/get-data-exfiltration", Cause: "http_status", OccurredAt: base.Add(time.Second)}))
	require.NoError(t, store.Record(ctx, Event{Type: TypeUploadFailed, Cause: "network", OccurredAt: base.Add(2 * time.Second)}))

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, TypeUploadFailed, recent[0].Type)
	assert.Equal(t, "/get-data-exfiltration", recent[1].Endpoint)
	assert.Equal(t, 7, recent[1].Position)
	assert.NotEqual(t, uuid.Nil, recent[1].ID)

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Summary{
		{Type: TypeFetchFailed, Cause: "http_status", Count: 1},
		{Type: TypeFetchFailed, Cause: "malformed", Count: 1},
		{Type: TypeUploadFailed, Cause: "network", Count: 1},
	}, summary)
	assert.Equal(t, "sqlite", store.Driver())
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	_, err := NewSQLiteStore("  ")
	assert.Error(t, err)
}

type recordingSink struct {
	events []Event
	err    error
	closed bool
}

func (s *recordingSink) Record(_ context.Context, ev Event) error {
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return s.err
}

func TestMulti(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("broker down")}
	m := Multi{ok, bad}

	err := m.Record(context.Background(), Event{Type: TypeFetchFailed})

	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, bad.events, 1)
	assert.Error(t, m.Close())
	assert.True(t, ok.closed)
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "fetch_failed.network", routingKey(Event{Type: TypeFetchFailed, Cause: "network"}))
	assert.Equal(t, "batch_completed.none", routingKey(Event{Type: TypeBatchDone}))
}

func TestStamp(t *testing.T) {
	ev := stamp(Event{})
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.False(t, ev.OccurredAt.IsZero())
}
