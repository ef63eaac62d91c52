package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultDedupWindow is the trailing period during which a rule's repeat
// findings are suppressed rather than re-alerted.
const DefaultDedupWindow = 1 * time.Hour

// AlertStorageInterface defines the storage operations the pipeline needs.
// This allows for mocking in tests and decouples the pipeline from the
// storage implementation.
type AlertStorageInterface interface {
	InsertAlert(ctx context.Context, alert *Alert) error
	// LastAlertTime returns the most recent alert_time recorded for the
	// rule, regardless of alert status. found is false when the rule has
	// never alerted.
	LastAlertTime(ctx context.Context, ruleID string) (last time.Time, found bool, err error)
}

// AllowlistSource provides the active suppression entries
type AllowlistSource interface {
	ActiveEntries(ctx context.Context, now time.Time) ([]AllowlistEntry, error)
}

// PipelineResult summarizes one batch of candidates through the pipeline
type PipelineResult struct {
	Created             []*Alert
	SuppressedAllowlist int
	SuppressedDuplicate int
}

// AlertPipeline promotes detection candidates to alerts: allowlist filter,
// then per-rule dedup cooldown, then persistence with status open.
//
// Dedup is deliberately coarse: any alert for the rule within the trailing
// window suppresses, regardless of evidence content. Same-rule alerts are
// rate-limited to at most one per window system-wide.
type AlertPipeline struct {
	alerts      AlertStorageInterface
	allowlist   AllowlistSource
	dedupWindow time.Duration
	logger      *zap.SugaredLogger

	// lastInsert caches the newest alert_time this process inserted per
	// rule. Entries are only added on successful inserts, so a hit is
	// authoritative; a miss falls through to the store.
	lastInsert *lru.Cache[string, time.Time]

	mu        sync.Mutex
	ruleLocks map[string]*sync.Mutex
}

// NewAlertPipeline creates a pipeline. A non-positive dedupWindow selects
// the default one hour cooldown.
func NewAlertPipeline(alerts AlertStorageInterface, allowlist AllowlistSource, dedupWindow time.Duration, logger *zap.SugaredLogger) (*AlertPipeline, error) {
	if alerts == nil {
		return nil, fmt.Errorf("alert storage is required")
	}
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}

	cache, err := lru.New[string, time.Time](128)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	return &AlertPipeline{
		alerts:      alerts,
		allowlist:   allowlist,
		dedupWindow: dedupWindow,
		logger:      logger,
		lastInsert:  cache,
		ruleLocks:   make(map[string]*sync.Mutex),
	}, nil
}

// DedupWindow returns the configured cooldown
func (p *AlertPipeline) DedupWindow() time.Duration {
	return p.dedupWindow
}

// Process runs the candidates through allowlist and dedup filtering and
// persists the survivors as open alerts. Candidates are processed in
// order; within one call the first accepted candidate for a rule starts
// that rule's cooldown and suppresses the rest.
//
// An error aborts processing and is reported to the caller; for engine
// runs that means the owning rule is treated as failed.
func (p *AlertPipeline) Process(ctx context.Context, candidates []DetectionCandidate, now time.Time) (*PipelineResult, error) {
	result := &PipelineResult{}
	if len(candidates) == 0 {
		return result, nil
	}

	var entries []AllowlistEntry
	if p.allowlist != nil {
		var err error
		entries, err = p.allowlist.ActiveEntries(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("failed to load allowlist: %w", err)
		}
	}

	for i := range candidates {
		candidate := &candidates[i]

		if p.isAllowlisted(candidate, entries, now) {
			result.SuppressedAllowlist++
			if p.logger != nil {
				p.logger.Debugw("Candidate suppressed by allowlist",
					"rule_id", candidate.RuleID)
			}
			continue
		}

		created, err := p.insertUnlessDuplicate(ctx, candidate, now)
		if err != nil {
			return nil, err
		}
		if created == nil {
			result.SuppressedDuplicate++
			continue
		}
		result.Created = append(result.Created, created)
	}

	return result, nil
}

func (p *AlertPipeline) isAllowlisted(c *DetectionCandidate, entries []AllowlistEntry, now time.Time) bool {
	for i := range entries {
		if entries[i].Matches(c, now) {
			return true
		}
	}
	return false
}

// insertUnlessDuplicate performs the check-then-insert sequence for one
// candidate. It is serialized per rule_id so two concurrent candidates for
// the same rule cannot both pass the dedup check.
func (p *AlertPipeline) insertUnlessDuplicate(ctx context.Context, c *DetectionCandidate, now time.Time) (*Alert, error) {
	lock := p.ruleLock(c.RuleID)
	lock.Lock()
	defer lock.Unlock()

	dup, err := p.isDuplicate(ctx, c.RuleID, now)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, nil
	}

	alert := c.ToAlert(now)
	if err := p.alerts.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}
	p.lastInsert.Add(c.RuleID, alert.AlertTime)

	return alert, nil
}

// isDuplicate checks whether any alert for the rule falls inside the
// trailing dedup window, consulting the local cache before the store.
func (p *AlertPipeline) isDuplicate(ctx context.Context, ruleID string, now time.Time) (bool, error) {
	cutoff := now.Add(-p.dedupWindow)

	if last, ok := p.lastInsert.Get(ruleID); ok && !last.Before(cutoff) {
		return true, nil
	}

	last, found, err := p.alerts.LastAlertTime(ctx, ruleID)
	if err != nil {
		return false, fmt.Errorf("failed to query recent alerts: %w", err)
	}
	return found && !last.Before(cutoff), nil
}

func (p *AlertPipeline) ruleLock(ruleID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	lock, ok := p.ruleLocks[ruleID]
	if !ok {
		lock = &sync.Mutex{}
		p.ruleLocks[ruleID] = lock
	}
	return lock
}
