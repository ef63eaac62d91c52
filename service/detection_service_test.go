package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
	"argus/detect"
)

// stubRunner stands in for the detection engine.
type stubRunner struct {
	result *detect.RunResult
	err    error
	calls  int
}

func (r *stubRunner) Run(_ context.Context) (*detect.RunResult, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

// stubLocker controls lock acquisition outcomes.
type stubLocker struct {
	acquired   bool
	acquireErr error

	mu           sync.Mutex
	acquireCalls int
	releaseCalls int
}

func (l *stubLocker) AcquireLock(_ context.Context, _ string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquireCalls++
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	return l.acquired, nil
}

func (l *stubLocker) ReleaseLock(_ context.Context, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseCalls++
	return nil
}

// stubDispatcher records dispatched alerts.
type stubDispatcher struct {
	mu     sync.Mutex
	alerts []*core.Alert
}

func (d *stubDispatcher) Dispatch(alert *core.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, alert)
}

func (d *stubDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.alerts)
}

func sweepResult(alerts ...*core.Alert) *detect.RunResult {
	return &detect.RunResult{
		AlertsGenerated: len(alerts),
		RulesExecuted:   []string{"brute_force_login", "password_spray"},
		ExecutionTimeMS: 4.2,
		Alerts:          alerts,
	}
}

func TestDetectionService_Run_FansOutAlerts(t *testing.T) {
	a1 := storedAlert("al-1", core.AlertStatusOpen)
	a2 := storedAlert("al-2", core.AlertStatusOpen)
	runner := &stubRunner{result: sweepResult(a1, a2)}
	locker := &stubLocker{acquired: true}
	broadcaster := &stubBroadcaster{}
	dispatcher := &stubDispatcher{}

	svc := NewDetectionService(runner, locker, broadcaster, dispatcher, zap.NewNop().Sugar())

	result, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.AlertsGenerated)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 2, broadcaster.count())
	assert.Equal(t, 2, dispatcher.count())
	assert.Equal(t, 1, locker.acquireCalls)
	assert.Equal(t, 1, locker.releaseCalls)
}

func TestDetectionService_Run_LockHeldElsewhere(t *testing.T) {
	runner := &stubRunner{result: sweepResult()}
	locker := &stubLocker{acquired: false}

	svc := NewDetectionService(runner, locker, nil, nil, zap.NewNop().Sugar())

	_, err := svc.Run(context.Background())
	assert.ErrorIs(t, err, detect.ErrRunInProgress)
	assert.Equal(t, 0, runner.calls, "a held lock is checked before the engine runs")
	assert.Equal(t, 0, locker.releaseCalls, "a lock we never took is never released")
}

func TestDetectionService_Run_LockerFailureDegrades(t *testing.T) {
	runner := &stubRunner{result: sweepResult()}
	locker := &stubLocker{acquireErr: errors.New("redis: connection refused")}

	svc := NewDetectionService(runner, locker, nil, nil, zap.NewNop().Sugar())

	_, err := svc.Run(context.Background())
	require.NoError(t, err, "redis being down falls back to the in-process guard")
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 0, locker.releaseCalls)
}

func TestDetectionService_Run_WithoutLocker(t *testing.T) {
	runner := &stubRunner{result: sweepResult()}

	svc := NewDetectionService(runner, nil, nil, nil, zap.NewNop().Sugar())

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.AlertsGenerated)
}

func TestDetectionService_Run_EngineBusyReleasesLock(t *testing.T) {
	runner := &stubRunner{err: detect.ErrRunInProgress}
	locker := &stubLocker{acquired: true}

	svc := NewDetectionService(runner, locker, nil, nil, zap.NewNop().Sugar())

	_, err := svc.Run(context.Background())
	assert.ErrorIs(t, err, detect.ErrRunInProgress)
	assert.Equal(t, 1, locker.releaseCalls)
}

func TestDetectionService_Run_RedisLockSerializes(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache := core.NewRedisCache(mr.Addr(), "", 0, 10, zap.NewNop().Sugar())
	t.Cleanup(func() { _ = cache.Close() })

	runner := &stubRunner{result: sweepResult()}
	svc := NewDetectionService(runner, cache, nil, nil, zap.NewNop().Sugar())

	ctx := context.Background()

	// Simulate another replica holding the sweep lock.
	held, err := cache.AcquireLock(ctx, core.DetectionLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	_, err = svc.Run(ctx)
	assert.ErrorIs(t, err, detect.ErrRunInProgress)
	assert.Equal(t, 0, runner.calls)

	// Once the other replica releases, the sweep proceeds and releases the
	// lock on its way out.
	require.NoError(t, cache.ReleaseLock(ctx, core.DetectionLockKey))
	_, err = svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)

	exists, err := cache.Exists(ctx, core.DetectionLockKey)
	require.NoError(t, err)
	assert.False(t, exists)
}
