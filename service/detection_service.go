package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"argus/core"
	"argus/detect"
)

// detectionLockTTL caps how long a crashed replica can hold the sweep
// lock. It must comfortably exceed the longest expected sweep.
const detectionLockTTL = 5 * time.Minute

// DetectionLocker serializes sweeps across replicas. core.RedisCache
// implements it; a nil locker falls back to the engine's in-process guard
// only.
type DetectionLocker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// AlertDispatcher hands new alerts to the notification workers.
// notify.Dispatcher implements it.
type AlertDispatcher interface {
	Dispatch(alert *core.Alert)
}

// DetectionService runs detection sweeps and fans the resulting alerts out
// to websocket clients and notifiers. It implements detect.SweepRunner, so
// the cron scheduler and the manual API trigger share one code path.
type DetectionService struct {
	runner      detect.SweepRunner
	locker      DetectionLocker
	broadcaster AlertBroadcaster
	dispatcher  AlertDispatcher
	logger      *zap.SugaredLogger
}

// NewDetectionService wires the service around the engine. runner and
// logger are required and panic when nil; locker, broadcaster and
// dispatcher are optional.
func NewDetectionService(
	runner detect.SweepRunner,
	locker DetectionLocker,
	broadcaster AlertBroadcaster,
	dispatcher AlertDispatcher,
	logger *zap.SugaredLogger,
) *DetectionService {
	if runner == nil {
		panic("NewDetectionService: runner is required")
	}
	if logger == nil {
		panic("NewDetectionService: logger is required")
	}
	return &DetectionService{
		runner:      runner,
		locker:      locker,
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
		logger:      logger,
	}
}

// Run executes one sweep.
//
// BUSINESS LOGIC:
//  1. Take the cross-replica redis lock. A held lock means another replica
//     is sweeping: return detect.ErrRunInProgress without touching the
//     engine. A redis failure degrades to the engine's in-process guard.
//  2. Run the engine.
//  3. Fan out every generated alert to the websocket hub and the
//     notification dispatcher.
//
// ERRORS:
//   - detect.ErrRunInProgress when a sweep is active here or elsewhere
func (s *DetectionService) Run(ctx context.Context) (*detect.RunResult, error) {
	locked := false
	if s.locker != nil {
		ok, err := s.locker.AcquireLock(ctx, core.DetectionLockKey, detectionLockTTL)
		switch {
		case err != nil:
			s.logger.Warnw("Detection lock unavailable, relying on in-process guard",
				"error", err)
		case !ok:
			return nil, detect.ErrRunInProgress
		default:
			locked = true
		}
	}
	if locked {
		defer func() {
			if err := s.locker.ReleaseLock(ctx, core.DetectionLockKey); err != nil {
				s.logger.Warnw("Failed to release detection lock, TTL will expire it",
					"error", err)
			}
		}()
	}

	result, err := s.runner.Run(ctx)
	if err != nil {
		return nil, err
	}

	for _, alert := range result.Alerts {
		if s.broadcaster != nil {
			s.broadcaster.BroadcastAlert(alert)
		}
		if s.dispatcher != nil {
			s.dispatcher.Dispatch(alert)
		}
	}

	return result, nil
}
