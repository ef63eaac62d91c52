package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// ErrRunInProgress is returned when a sweep is requested while another
// one is still evaluating in this process.
var ErrRunInProgress = errors.New("detection run already in progress")

// EventSource provides the canonical events inside a detection window,
// sorted ascending by timestamp.
type EventSource interface {
	EventsInWindow(ctx context.Context, from, to time.Time) ([]*core.Event, error)
}

// AlertSink filters candidates and persists the survivors.
// *core.AlertPipeline implements it.
type AlertSink interface {
	Process(ctx context.Context, candidates []core.DetectionCandidate, now time.Time) (*core.PipelineResult, error)
}

// EngineConfig carries the engine's optional knobs
type EngineConfig struct {
	// RuleTimeout bounds a single rule's fetch-evaluate-persist sequence.
	// Zero disables the per-rule deadline.
	RuleTimeout time.Duration
}

// Engine runs the registered rules in order against their trailing
// windows. Rules are isolated: one failing rule is logged and skipped,
// the rest of the sweep continues.
type Engine struct {
	rules       []Rule
	events      EventSource
	pipeline    AlertSink
	ruleTimeout time.Duration
	logger      *zap.SugaredLogger

	mu      sync.Mutex
	running bool
}

// RunResult summarizes one detection sweep. Alerts carries the created
// alerts for downstream dispatch and stays out of the JSON shape.
type RunResult struct {
	AlertsGenerated int      `json:"alerts_generated"`
	RulesExecuted   []string `json:"rules_executed"`
	ExecutionTimeMS float64  `json:"execution_time_ms"`

	Alerts []*core.Alert `json:"-"`
}

// DefaultRules returns the built-in rules in their fixed execution order
func DefaultRules(logger *zap.SugaredLogger) []Rule {
	return []Rule{
		NewBruteForceRule(),
		NewPasswordSprayRule(),
		NewImpossibleTravelRule(OctetDistanceEstimator{}),
		NewSuspiciousUserAgentRule(logger),
		NewAPIAbuseRule(),
		NewPrivilegeEscalationRule(),
	}
}

// NewEngine creates an engine over an explicit rule list. The list is
// fixed after construction; there is no runtime registration.
func NewEngine(rules []Rule, events EventSource, pipeline AlertSink, cfg EngineConfig, logger *zap.SugaredLogger) (*Engine, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("at least one rule is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event source is required")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("alert pipeline is required")
	}

	seen := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		if _, dup := seen[rule.ID()]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", rule.ID())
		}
		seen[rule.ID()] = struct{}{}
	}

	return &Engine{
		rules:       rules,
		events:      events,
		pipeline:    pipeline,
		ruleTimeout: cfg.RuleTimeout,
		logger:      logger,
	}, nil
}

// Rules returns the registered rules in execution order
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Run executes one sweep: every rule over its own trailing window, each
// window anchored at the wall clock when that rule starts. Returns
// ErrRunInProgress when a sweep is already active in this process.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		metrics.DetectionRuns.WithLabelValues("skipped").Inc()
		return nil, ErrRunInProgress
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	start := time.Now()
	result := &RunResult{RulesExecuted: []string{}}

	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			metrics.DetectionRuns.WithLabelValues("error").Inc()
			return nil, err
		}

		created, err := e.runRule(ctx, rule)
		if err != nil {
			metrics.RuleFailures.WithLabelValues(rule.ID()).Inc()
			e.logger.Errorw("Detection rule failed",
				"rule_id", rule.ID(),
				"error", err)
			continue
		}

		result.AlertsGenerated += len(created)
		result.Alerts = append(result.Alerts, created...)
		result.RulesExecuted = append(result.RulesExecuted, rule.ID())
	}

	result.ExecutionTimeMS = round2(float64(time.Since(start).Microseconds()) / 1000)

	metrics.DetectionRuns.WithLabelValues("ok").Inc()
	e.logger.Infow("Detection sweep complete",
		"alerts_generated", result.AlertsGenerated,
		"rules_executed", len(result.RulesExecuted),
		"execution_time_ms", result.ExecutionTimeMS)

	return result, nil
}

// runRule performs the fetch-evaluate-persist sequence for one rule.
// Every failure is wrapped in RuleExecutionError so callers can tell
// which rule broke the sweep segment.
func (e *Engine) runRule(ctx context.Context, rule Rule) ([]*core.Alert, error) {
	if e.ruleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.ruleTimeout)
		defer cancel()
	}

	windowEnd := time.Now().UTC()
	windowStart := windowEnd.Add(-time.Duration(rule.WindowMinutes()) * time.Minute)

	start := time.Now()
	defer func() {
		metrics.RuleExecutionDuration.WithLabelValues(rule.ID()).Observe(time.Since(start).Seconds())
	}()

	events, err := e.events.EventsInWindow(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, &core.RuleExecutionError{RuleID: rule.ID(), Err: fmt.Errorf("failed to load window events: %w", err)}
	}

	candidates, err := rule.Evaluate(ctx, events, windowStart, windowEnd)
	if err != nil {
		return nil, &core.RuleExecutionError{RuleID: rule.ID(), Err: err}
	}

	outcome, err := e.pipeline.Process(ctx, candidates, windowEnd)
	if err != nil {
		return nil, &core.RuleExecutionError{RuleID: rule.ID(), Err: err}
	}

	metrics.AlertsSuppressed.WithLabelValues("allowlist").Add(float64(outcome.SuppressedAllowlist))
	metrics.AlertsSuppressed.WithLabelValues("duplicate").Add(float64(outcome.SuppressedDuplicate))
	for _, alert := range outcome.Created {
		metrics.AlertsGenerated.WithLabelValues(alert.RuleID, alert.Severity.String()).Inc()
	}

	e.logger.Debugw("Rule evaluated",
		"rule_id", rule.ID(),
		"window_events", len(events),
		"candidates", len(candidates),
		"alerts_created", len(outcome.Created),
		"suppressed_allowlist", outcome.SuppressedAllowlist,
		"suppressed_duplicate", outcome.SuppressedDuplicate)

	return outcome.Created, nil
}
