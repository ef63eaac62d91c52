package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
	"argus/storage"
)

// mockAlertStore keeps alerts in a map and mimics the sqlite store's
// contract: not-found sentinels, false-positive record lifecycle, fresh
// copies on every read.
type mockAlertStore struct {
	mu     sync.Mutex
	alerts map[string]*core.Alert
	fps    map[string]*core.FalsePositiveRecord

	getCalls    int
	updateCalls int
	lastFP      *core.FalsePositiveRecord
	listResult  []*core.Alert
	lastFilter  core.AlertFilter
}

func newMockAlertStore(alerts ...*core.Alert) *mockAlertStore {
	m := &mockAlertStore{
		alerts: make(map[string]*core.Alert),
		fps:    make(map[string]*core.FalsePositiveRecord),
	}
	for _, a := range alerts {
		m.alerts[a.ID] = a
	}
	return m
}

func (m *mockAlertStore) GetAlert(_ context.Context, id string) (*core.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	a, ok := m.alerts[id]
	if !ok {
		return nil, storage.ErrAlertNotFound
	}
	cp := *a
	if fp, ok := m.fps[id]; ok {
		fpCp := *fp
		cp.FalsePositive = &fpCp
	}
	return &cp, nil
}

func (m *mockAlertStore) ListAlerts(_ context.Context, filter core.AlertFilter) ([]*core.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	return m.listResult, nil
}

func (m *mockAlertStore) UpdateAlertStatus(_ context.Context, id string, status core.AlertStatus, fp *core.FalsePositiveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	a, ok := m.alerts[id]
	if !ok {
		return storage.ErrAlertNotFound
	}
	a.Status = status
	m.lastFP = fp
	if fp != nil {
		m.fps[id] = fp
	}
	if status != core.AlertStatusFalsePositive {
		delete(m.fps, id)
	}
	return nil
}

func (m *mockAlertStore) GetFalsePositive(_ context.Context, alertID string) (*core.FalsePositiveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp, ok := m.fps[alertID]
	if !ok {
		return nil, storage.ErrFalsePositiveNotFound
	}
	cp := *fp
	return &cp, nil
}

// stubBroadcaster records broadcast alerts.
type stubBroadcaster struct {
	mu     sync.Mutex
	alerts []*core.Alert
}

func (b *stubBroadcaster) BroadcastAlert(alert *core.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts = append(b.alerts, alert)
}

func (b *stubBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.alerts)
}

func storedAlert(id string, status core.AlertStatus) *core.Alert {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &core.Alert{
		ID:        id,
		RuleID:    "brute_force_login",
		Severity:  core.SeverityHigh,
		Status:    status,
		Summary:   "6 failed logins from 198.51.100.23",
		Evidence:  map[string]interface{}{"failure_count": float64(6)},
		AlertTime: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newCacheForTest(t *testing.T) (*miniredis.Miniredis, *core.RedisCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache := core.NewRedisCache(mr.Addr(), "", 0, 10, zap.NewNop().Sugar())
	t.Cleanup(func() { _ = cache.Close() })
	return mr, cache
}

func TestAlertService_Get_CacheMissThenHit(t *testing.T) {
	store := newMockAlertStore(storedAlert("al-1", core.AlertStatusOpen))
	_, cache := newCacheForTest(t)
	svc := NewAlertService(store, cache, time.Minute, nil, zap.NewNop().Sugar())

	first, err := svc.Get(context.Background(), "al-1")
	require.NoError(t, err)
	assert.Equal(t, "al-1", first.ID)
	assert.Equal(t, 1, store.getCalls)

	// Second read serves from the cache without touching the store.
	second, err := svc.Get(context.Background(), "al-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, 1, store.getCalls)
}

func TestAlertService_Get_NotFound(t *testing.T) {
	store := newMockAlertStore()
	svc := NewAlertService(store, nil, 0, nil, zap.NewNop().Sugar())

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
	assert.Contains(t, err.Error(), "alert missing not found")
}

func TestAlertService_Get_WithoutCache(t *testing.T) {
	store := newMockAlertStore(storedAlert("al-1", core.AlertStatusOpen))
	svc := NewAlertService(store, nil, 0, nil, zap.NewNop().Sugar())

	for i := 0; i < 2; i++ {
		alert, err := svc.Get(context.Background(), "al-1")
		require.NoError(t, err)
		assert.Equal(t, "al-1", alert.ID)
	}
	assert.Equal(t, 2, store.getCalls)
}

func TestAlertService_Get_CacheDownDegradesToStore(t *testing.T) {
	store := newMockAlertStore(storedAlert("al-1", core.AlertStatusOpen))
	mr, cache := newCacheForTest(t)
	svc := NewAlertService(store, cache, time.Minute, nil, zap.NewNop().Sugar())

	mr.Close()

	alert, err := svc.Get(context.Background(), "al-1")
	require.NoError(t, err, "a dead cache must not fail the read")
	assert.Equal(t, "al-1", alert.ID)
	assert.Equal(t, 1, store.getCalls)
}

func TestAlertService_List_PassesFilter(t *testing.T) {
	store := newMockAlertStore()
	store.listResult = []*core.Alert{storedAlert("al-2", core.AlertStatusTriaged)}
	svc := NewAlertService(store, nil, 0, nil, zap.NewNop().Sugar())

	filter := core.AlertFilter{Status: core.AlertStatusTriaged, Limit: 10}
	alerts, err := svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Equal(t, filter, store.lastFilter)
}

func TestAlertService_UpdateStatus_HappyPath(t *testing.T) {
	store := newMockAlertStore(storedAlert("al-1", core.AlertStatusOpen))
	mr, cache := newCacheForTest(t)
	broadcaster := &stubBroadcaster{}
	svc := NewAlertService(store, cache, time.Minute, broadcaster, zap.NewNop().Sugar())

	// Warm the cache, then mutate: the stale entry must be dropped.
	_, err := svc.Get(context.Background(), "al-1")
	require.NoError(t, err)
	require.True(t, mr.Exists(core.GetAlertCacheKey("al-1")))

	updated, err := svc.UpdateStatus(context.Background(), "al-1", core.AlertStatusTriaged, "", "")
	require.NoError(t, err)

	assert.Equal(t, core.AlertStatusTriaged, updated.Status)
	assert.Equal(t, 1, store.updateCalls)
	assert.False(t, mr.Exists(core.GetAlertCacheKey("al-1")))
	require.Equal(t, 1, broadcaster.count())
	assert.Equal(t, core.AlertStatusTriaged, broadcaster.alerts[0].Status)
}

func TestAlertService_UpdateStatus_InvalidTransition(t *testing.T) {
	store := newMockAlertStore(storedAlert("al-1", core.AlertStatusClosed))
	svc := NewAlertService(store, nil, 0, nil, zap.NewNop().Sugar())

	_, err := svc.UpdateStatus(context.Background(), "al-1", core.AlertStatusTriaged, "", "")
	require.Error(t, err)
	assert.True(t, core.IsInvalidTransition(err))
	assert.Equal(t, 0, store.updateCalls, "a rejected transition never reaches the store")
}

func TestAlertService_UpdateStatus_SelfTransitionRejected(t *testing.T) {
	store := newMockAlertStore(storedAlert("al-1", core.AlertStatusOpen))
	svc := NewAlertService(store, nil, 0, nil, zap.NewNop().Sugar())

	_, err := svc.UpdateStatus(context.Background(), "al-1", core.AlertStatusOpen, "", "")
	require.Error(t, err)
	assert.True(t, core.IsInvalidTransition(err))
}

func TestAlertService_UpdateStatus_UnknownStatus(t *testing.T) {
	store := newMockAlertStore(storedAlert("al-1", core.AlertStatusOpen))
	svc := NewAlertService(store, nil, 0, nil, zap.NewNop().Sugar())

	_, err := svc.UpdateStatus(context.Background(), "al-1", core.AlertStatus("escalated"), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid alert status")
	assert.Equal(t, 0, store.getCalls)
}

func TestAlertService_UpdateStatus_NotFound(t *testing.T) {
	store := newMockAlertStore()
	svc := NewAlertService(store, nil, 0, nil, zap.NewNop().Sugar())

	_, err := svc.UpdateStatus(context.Background(), "ghost", core.AlertStatusTriaged, "", "")
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestAlertService_UpdateStatus_FalsePositiveRequiresReason(t *testing.T) {
	store := newMockAlertStore(storedAlert("al-1", core.AlertStatusOpen))
	svc := NewAlertService(store, nil, 0, nil, zap.NewNop().Sugar())

	_, err := svc.UpdateStatus(context.Background(), "al-1", core.AlertStatusFalsePositive, "   ", "sam")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFalsePositiveReasonRequired)
	assert.Equal(t, 0, store.updateCalls)
}

func TestAlertService_MarkFalsePositive(t *testing.T) {
	store := newMockAlertStore(storedAlert("al-1", core.AlertStatusOpen))
	svc := NewAlertService(store, nil, 0, nil, zap.NewNop().Sugar())

	before := time.Now().UTC()
	updated, err := svc.MarkFalsePositive(context.Background(), "al-1", "scheduled pentest", "sam")
	require.NoError(t, err)

	assert.Equal(t, core.AlertStatusFalsePositive, updated.Status)
	require.NotNil(t, updated.FalsePositive)
	assert.Equal(t, "scheduled pentest", updated.FalsePositive.Reason)
	assert.Equal(t, "sam", updated.FalsePositive.MarkedBy)
	assert.False(t, updated.FalsePositive.MarkedAt.Before(before))

	require.NotNil(t, store.lastFP)
	assert.Equal(t, "al-1", store.lastFP.AlertID)
}

func TestAlertService_Reopen_ClearsFalsePositive(t *testing.T) {
	store := newMockAlertStore(storedAlert("al-1", core.AlertStatusOpen))
	svc := NewAlertService(store, nil, 0, nil, zap.NewNop().Sugar())

	_, err := svc.MarkFalsePositive(context.Background(), "al-1", "noise", "sam")
	require.NoError(t, err)

	reopened, err := svc.Reopen(context.Background(), "al-1")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusOpen, reopened.Status)
	assert.Nil(t, reopened.FalsePositive)

	_, err = svc.GetFalsePositive(context.Background(), "al-1")
	assert.True(t, core.IsNotFound(err), "reopening discards the dismissal record")
}

func TestAlertService_GetFalsePositive(t *testing.T) {
	store := newMockAlertStore(storedAlert("al-1", core.AlertStatusOpen))
	svc := NewAlertService(store, nil, 0, nil, zap.NewNop().Sugar())

	_, err := svc.GetFalsePositive(context.Background(), "al-1")
	assert.True(t, core.IsNotFound(err))

	_, err = svc.MarkFalsePositive(context.Background(), "al-1", "maintenance window", "ops")
	require.NoError(t, err)

	fp, err := svc.GetFalsePositive(context.Background(), "al-1")
	require.NoError(t, err)
	assert.Equal(t, "maintenance window", fp.Reason)
	assert.Equal(t, "ops", fp.MarkedBy)
}

func TestNewAlertService_RequiresDependencies(t *testing.T) {
	assert.Panics(t, func() {
		NewAlertService(nil, nil, 0, nil, zap.NewNop().Sugar())
	})
	assert.Panics(t, func() {
		NewAlertService(newMockAlertStore(), nil, 0, nil, nil)
	})
}
