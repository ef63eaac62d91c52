package detect

import (
	"context"
	"fmt"
	"time"

	"argus/core"
)

// BruteForceRule detects repeated failed login attempts from a single
// source IP. MITRE ATT&CK: T1110 (Brute Force).
type BruteForceRule struct {
	threshold int
	window    int
}

// NewBruteForceRule creates the rule with its default threshold (5 failed
// attempts) and window (15 minutes)
func NewBruteForceRule() *BruteForceRule {
	return &BruteForceRule{threshold: 5, window: 15}
}

func (r *BruteForceRule) ID() string   { return "brute_force_login" }
func (r *BruteForceRule) Name() string { return "Brute Force Login Detection" }
func (r *BruteForceRule) Description() string {
	return "Detects multiple failed login attempts from the same IP address"
}
func (r *BruteForceRule) Severity() core.Severity { return core.SeverityHigh }
func (r *BruteForceRule) WindowMinutes() int      { return r.window }

func (r *BruteForceRule) setThreshold(n int)     { r.threshold = n }
func (r *BruteForceRule) setWindowMinutes(n int) { r.window = n }

type bruteForceGroup struct {
	count    int
	actors   map[string]struct{}
	eventIDs []string
	first    time.Time
	last     time.Time
}

// Evaluate groups failed login-class events by source IP and flags any IP
// that reaches the attempt threshold. One candidate per IP, not per event.
func (r *BruteForceRule) Evaluate(ctx context.Context, events []*core.Event, windowStart, windowEnd time.Time) ([]core.DetectionCandidate, error) {
	groups := make(map[string]*bruteForceGroup)
	var order []string

	for _, event := range events {
		if !isLoginAction(event.Action) || event.Outcome != core.OutcomeFailure || event.SourceIP == "" {
			continue
		}

		g, ok := groups[event.SourceIP]
		if !ok {
			g = &bruteForceGroup{actors: make(map[string]struct{}), first: event.Timestamp, last: event.Timestamp}
			groups[event.SourceIP] = g
			order = append(order, event.SourceIP)
		}

		g.count++
		g.eventIDs = append(g.eventIDs, event.ID)
		if event.Actor != "" {
			g.actors[event.Actor] = struct{}{}
		}
		if event.Timestamp.Before(g.first) {
			g.first = event.Timestamp
		}
		if event.Timestamp.After(g.last) {
			g.last = event.Timestamp
		}
	}

	var candidates []core.DetectionCandidate
	for _, sourceIP := range order {
		g := groups[sourceIP]
		if g.count < r.threshold {
			continue
		}

		targeted := make([]string, 0, len(g.actors))
		for actor := range g.actors {
			targeted = append(targeted, actor)
		}

		candidates = append(candidates, core.DetectionCandidate{
			RuleID:   r.ID(),
			Severity: r.Severity(),
			Summary:  fmt.Sprintf("Brute force attack detected: %d failed login attempts from %s", g.count, sourceIP),
			Evidence: map[string]interface{}{
				"source_ip":         sourceIP,
				"attempt_count":     g.count,
				"targeted_users":    targeted,
				"event_ids":         g.eventIDs,
				"first_attempt":     isoTime(g.first),
				"last_attempt":      isoTime(g.last),
				"time_span_seconds": g.last.Sub(g.first).Seconds(),
			},
			AlertTime:   windowEnd,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		})
	}

	return candidates, nil
}
