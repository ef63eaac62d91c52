package detect

import (
	"context"
	"fmt"
	"time"

	"argus/core"
)

// PasswordSprayRule detects a single IP attempting logins as many
// different users, the signature of common-password spraying.
// MITRE ATT&CK: T1110.003 (Password Spraying).
type PasswordSprayRule struct {
	threshold int
	window    int
}

// NewPasswordSprayRule creates the rule with its default threshold (10
// distinct users) and window (30 minutes)
func NewPasswordSprayRule() *PasswordSprayRule {
	return &PasswordSprayRule{threshold: 10, window: 30}
}

func (r *PasswordSprayRule) ID() string   { return "password_spray" }
func (r *PasswordSprayRule) Name() string { return "Password Spray Detection" }
func (r *PasswordSprayRule) Description() string {
	return "Detects login attempts targeting multiple users from a single IP"
}
func (r *PasswordSprayRule) Severity() core.Severity { return core.SeverityCritical }
func (r *PasswordSprayRule) WindowMinutes() int      { return r.window }

func (r *PasswordSprayRule) setThreshold(n int)     { r.threshold = n }
func (r *PasswordSprayRule) setWindowMinutes(n int) { r.window = n }

type sprayGroup struct {
	total     int
	actors    []string
	actorSeen map[string]struct{}
	eventIDs  []string
	first     time.Time
	last      time.Time
}

// Evaluate groups login-class events by source IP and flags any IP whose
// distinct targeted-actor count reaches the threshold. Outcome is
// deliberately ignored: spraying shows up in the attempt pattern whether
// or not any attempt succeeds.
func (r *PasswordSprayRule) Evaluate(ctx context.Context, events []*core.Event, windowStart, windowEnd time.Time) ([]core.DetectionCandidate, error) {
	groups := make(map[string]*sprayGroup)
	var order []string

	for _, event := range events {
		if !isLoginAction(event.Action) || event.SourceIP == "" || event.Actor == "" {
			continue
		}

		g, ok := groups[event.SourceIP]
		if !ok {
			g = &sprayGroup{actorSeen: make(map[string]struct{}), first: event.Timestamp, last: event.Timestamp}
			groups[event.SourceIP] = g
			order = append(order, event.SourceIP)
		}

		g.total++
		g.eventIDs = append(g.eventIDs, event.ID)
		if _, seen := g.actorSeen[event.Actor]; !seen {
			g.actorSeen[event.Actor] = struct{}{}
			g.actors = append(g.actors, event.Actor)
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
		if len(g.actors) < r.threshold {
			continue
		}

		candidates = append(candidates, core.DetectionCandidate{
			RuleID:   r.ID(),
			Severity: r.Severity(),
			Summary:  fmt.Sprintf("Password spray attack detected: %s targeted %d different users", sourceIP, len(g.actors)),
			Evidence: map[string]interface{}{
				"source_ip":             sourceIP,
				"unique_users_targeted": len(g.actors),
				"total_attempts":        g.total,
				"targeted_users":        g.actors,
				"event_ids":             g.eventIDs,
				"first_attempt":         isoTime(g.first),
				"last_attempt":          isoTime(g.last),
				"time_span_seconds":     g.last.Sub(g.first).Seconds(),
			},
			AlertTime:   windowEnd,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		})
	}

	return candidates, nil
}
