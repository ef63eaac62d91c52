package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/core"
)

func newTestEventStorage(t *testing.T) *SQLiteEventStorage {
	t.Helper()
	return NewSQLiteEventStorage(newTestSQLite(t))
}

func makeEvent(id string, ts time.Time) *core.Event {
	return &core.Event{
		ID:        id,
		Timestamp: ts,
		Actor:     "alice",
		SourceIP:  "203.0.113.7",
		UserAgent: "curl/8.0",
		Action:    "user.login",
		Resource:  "session",
		Outcome:   "failure",
		RequestID: "req-" + id,
	}
}

func TestInsertEvents_RoundTrip(t *testing.T) {
	storage := newTestEventStorage(t)
	ctx := context.Background()

	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	event := makeEvent("evt-1", ts)
	event.RawData = map[string]interface{}{
		"source":  "auth-service",
		"attempt": float64(3),
	}

	require.NoError(t, storage.InsertEvents(ctx, []*core.Event{event}))

	got, err := storage.EventsInWindow(ctx, ts.Add(-time.Minute), ts.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "evt-1", got[0].ID)
	assert.True(t, ts.Equal(got[0].Timestamp))
	assert.Equal(t, "alice", got[0].Actor)
	assert.Equal(t, "203.0.113.7", got[0].SourceIP)
	assert.Equal(t, "curl/8.0", got[0].UserAgent)
	assert.Equal(t, "user.login", got[0].Action)
	assert.Equal(t, "session", got[0].Resource)
	assert.Equal(t, "failure", got[0].Outcome)
	assert.Equal(t, "req-evt-1", got[0].RequestID)
	assert.Equal(t, event.RawData, got[0].RawData)
}

func TestInsertEvents_OptionalFieldsEmpty(t *testing.T) {
	storage := newTestEventStorage(t)
	ctx := context.Background()

	ts := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	event := &core.Event{
		ID:        "evt-min",
		Timestamp: ts,
		Action:    "token.refresh",
		RequestID: "req-min",
	}

	require.NoError(t, storage.InsertEvents(ctx, []*core.Event{event}))

	got, err := storage.EventsInWindow(ctx, ts, ts)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Empty(t, got[0].Actor)
	assert.Empty(t, got[0].SourceIP)
	assert.Empty(t, got[0].UserAgent)
	assert.Empty(t, got[0].Resource)
	assert.Empty(t, got[0].Outcome)
	assert.Nil(t, got[0].RawData)
}

func TestInsertEvents_EmptyBatch(t *testing.T) {
	storage := newTestEventStorage(t)

	require.NoError(t, storage.InsertEvents(context.Background(), nil))
	require.NoError(t, storage.InsertEvents(context.Background(), []*core.Event{}))

	count, err := storage.CountEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestInsertEvents_BatchIsAtomic(t *testing.T) {
	storage := newTestEventStorage(t)
	ctx := context.Background()

	ts := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	batch := []*core.Event{
		makeEvent("evt-dup", ts),
		makeEvent("evt-ok", ts.Add(time.Second)),
		makeEvent("evt-dup", ts.Add(2*time.Second)), // duplicate primary key
	}

	err := storage.InsertEvents(ctx, batch)
	require.Error(t, err)

	count, err := storage.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "failed batch must leave no partial rows")
}

func TestEventsInWindow_InclusiveBounds(t *testing.T) {
	storage := newTestEventStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	events := []*core.Event{
		makeEvent("before", base.Add(-time.Second)),
		makeEvent("at-start", base),
		makeEvent("inside", base.Add(30*time.Second)),
		makeEvent("at-end", base.Add(time.Minute)),
		makeEvent("after", base.Add(time.Minute+time.Second)),
	}
	require.NoError(t, storage.InsertEvents(ctx, events))

	got, err := storage.EventsInWindow(ctx, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Both window edges are included, ordered oldest first
	assert.Equal(t, "at-start", got[0].ID)
	assert.Equal(t, "inside", got[1].ID)
	assert.Equal(t, "at-end", got[2].ID)
}

func TestEventsInWindow_EmptyResult(t *testing.T) {
	storage := newTestEventStorage(t)

	got, err := storage.EventsInWindow(context.Background(),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCountEvents(t *testing.T) {
	storage := newTestEventStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	batch := []*core.Event{
		makeEvent("c1", base),
		makeEvent("c2", base.Add(time.Second)),
		makeEvent("c3", base.Add(2*time.Second)),
	}
	require.NoError(t, storage.InsertEvents(ctx, batch))

	count, err := storage.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
