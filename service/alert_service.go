// Package service holds the orchestration layer between the HTTP handlers
// and the storage, cache and notification backends. Handlers stay thin;
// the business rules for alert lifecycle, ingestion and detection runs
// live here.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"argus/core"
	"argus/storage"
)

// ErrFalsePositiveReasonRequired is returned when a transition to
// false_positive arrives without a dismissal reason.
var ErrFalsePositiveReasonRequired = errors.New("a non-empty reason is required to mark an alert as a false positive")

// defaultAlertCacheTTL bounds how stale a cached alert detail can get if an
// invalidation is missed.
const defaultAlertCacheTTL = 5 * time.Minute

// AlertStore defines the alert persistence operations the service needs.
// Defined here, in the consumer package, so tests can substitute a fake
// without touching the storage layer.
type AlertStore interface {
	GetAlert(ctx context.Context, id string) (*core.Alert, error)
	ListAlerts(ctx context.Context, filter core.AlertFilter) ([]*core.Alert, error)
	UpdateAlertStatus(ctx context.Context, id string, status core.AlertStatus, fp *core.FalsePositiveRecord) error
	GetFalsePositive(ctx context.Context, alertID string) (*core.FalsePositiveRecord, error)
}

// AlertBroadcaster pushes alert changes to connected websocket clients.
// The API hub implements it; a nil broadcaster disables pushes.
type AlertBroadcaster interface {
	BroadcastAlert(alert *core.Alert)
}

// AlertService owns alert reads and the status lifecycle.
//
// Reads are cache-aside: a hit serves from redis, a miss reads the store
// and backfills. Every cache failure degrades to a direct store read, so
// redis being down slows the API rather than breaking it.
type AlertService struct {
	store       AlertStore
	cache       *core.RedisCache
	cacheTTL    time.Duration
	broadcaster AlertBroadcaster
	logger      *zap.SugaredLogger
}

// NewAlertService wires the service. store and logger are required and
// panic when nil; cache and broadcaster are optional.
func NewAlertService(
	store AlertStore,
	cache *core.RedisCache,
	cacheTTL time.Duration,
	broadcaster AlertBroadcaster,
	logger *zap.SugaredLogger,
) *AlertService {
	if store == nil {
		panic("NewAlertService: store is required")
	}
	if logger == nil {
		panic("NewAlertService: logger is required")
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultAlertCacheTTL
	}

	return &AlertService{
		store:       store,
		cache:       cache,
		cacheTTL:    cacheTTL,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// ============================================================================
// READS
// ============================================================================

// Get returns one alert by ID, false-positive record included.
//
// ERRORS:
//   - *core.NotFoundError when the alert does not exist
func (s *AlertService) Get(ctx context.Context, id string) (*core.Alert, error) {
	cacheKey := core.GetAlertCacheKey(id)

	if s.cache != nil {
		var cached core.Alert
		hit, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			s.logger.Warnw("Alert cache read failed, falling back to store",
				"alert_id", id, "error", err)
		} else if hit {
			return &cached, nil
		}
	}

	alert, err := s.store.GetAlert(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrAlertNotFound) {
			return nil, &core.NotFoundError{Resource: "alert", ID: id}
		}
		return nil, fmt.Errorf("failed to load alert %s: %w", id, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, alert, s.cacheTTL); err != nil {
			s.logger.Debugw("Alert cache backfill failed", "alert_id", id, "error", err)
		}
	}
	return alert, nil
}

// List returns alerts matching the filter, newest first. Pagination
// defaults and clamps are applied by the store.
func (s *AlertService) List(ctx context.Context, filter core.AlertFilter) ([]*core.Alert, error) {
	alerts, err := s.store.ListAlerts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// GetFalsePositive returns the dismissal record for an alert.
//
// ERRORS:
//   - *core.NotFoundError when the alert has no false-positive record
func (s *AlertService) GetFalsePositive(ctx context.Context, alertID string) (*core.FalsePositiveRecord, error) {
	fp, err := s.store.GetFalsePositive(ctx, alertID)
	if err != nil {
		if errors.Is(err, storage.ErrFalsePositiveNotFound) {
			return nil, &core.NotFoundError{Resource: "false positive record for alert", ID: alertID}
		}
		return nil, fmt.Errorf("failed to load false positive record for alert %s: %w", alertID, err)
	}
	return fp, nil
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// UpdateStatus moves an alert through the lifecycle state machine.
//
// BUSINESS LOGIC:
//  1. Load the current alert from the store, never the cache.
//  2. Validate the transition against the state machine.
//  3. A move to false_positive requires a non-empty reason and writes the
//     dismissal record in the same store transaction as the status.
//  4. A reopen clears any previous dismissal record.
//  5. On success: invalidate the cached detail, broadcast the new state.
//
// ERRORS:
//   - *core.NotFoundError when the alert does not exist
//   - *core.InvalidTransitionError when the state machine rejects the move
//   - ErrFalsePositiveReasonRequired when the FP reason is missing
func (s *AlertService) UpdateStatus(ctx context.Context, id string, newStatus core.AlertStatus, reason, markedBy string) (*core.Alert, error) {
	if !newStatus.IsValid() {
		return nil, fmt.Errorf("invalid alert status: %q", newStatus)
	}

	alert, err := s.store.GetAlert(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrAlertNotFound) {
			return nil, &core.NotFoundError{Resource: "alert", ID: id}
		}
		return nil, fmt.Errorf("failed to load alert %s: %w", id, err)
	}

	previous := alert.Status
	if err := alert.TransitionTo(newStatus); err != nil {
		return nil, err
	}

	var fp *core.FalsePositiveRecord
	if newStatus == core.AlertStatusFalsePositive {
		if strings.TrimSpace(reason) == "" {
			return nil, ErrFalsePositiveReasonRequired
		}
		fp = &core.FalsePositiveRecord{
			AlertID:  id,
			Reason:   strings.TrimSpace(reason),
			MarkedBy: strings.TrimSpace(markedBy),
			MarkedAt: time.Now().UTC(),
		}
	}

	if err := s.store.UpdateAlertStatus(ctx, id, newStatus, fp); err != nil {
		if errors.Is(err, storage.ErrAlertNotFound) {
			return nil, &core.NotFoundError{Resource: "alert", ID: id}
		}
		return nil, fmt.Errorf("failed to update alert %s status: %w", id, err)
	}

	alert.UpdatedAt = time.Now().UTC()
	switch newStatus {
	case core.AlertStatusFalsePositive:
		alert.FalsePositive = fp
	case core.AlertStatusOpen:
		alert.FalsePositive = nil
	}

	s.invalidate(ctx, id)

	if s.broadcaster != nil {
		s.broadcaster.BroadcastAlert(alert)
	}

	s.logger.Infow("Alert status updated",
		"alert_id", id,
		"from", previous.String(),
		"to", newStatus.String(),
		"marked_by", markedBy)

	return alert, nil
}

// MarkFalsePositive dismisses an alert with the given reason.
func (s *AlertService) MarkFalsePositive(ctx context.Context, id, reason, markedBy string) (*core.Alert, error) {
	return s.UpdateStatus(ctx, id, core.AlertStatusFalsePositive, reason, markedBy)
}

// Reopen puts a closed or dismissed alert back into triage.
func (s *AlertService) Reopen(ctx context.Context, id string) (*core.Alert, error) {
	return s.UpdateStatus(ctx, id, core.AlertStatusOpen, "", "")
}

// invalidate drops the cached detail after a write. A failed delete is
// logged and absorbed; the TTL caps the staleness window.
func (s *AlertService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, core.GetAlertCacheKey(id)); err != nil {
		s.logger.Warnw("Alert cache invalidation failed", "alert_id", id, "error", err)
	}
}
