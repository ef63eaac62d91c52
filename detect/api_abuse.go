package detect

import (
	"context"
	"fmt"
	"time"

	"argus/core"
)

// APIAbuseRule detects abnormal request rates from a single IP or a
// single authenticated actor. MITRE ATT&CK: T1498 (Network Denial of
// Service).
type APIAbuseRule struct {
	threshold int
	window    int
}

// NewAPIAbuseRule creates the rule with its default threshold (100
// requests) and window (5 minutes)
func NewAPIAbuseRule() *APIAbuseRule {
	return &APIAbuseRule{threshold: 100, window: 5}
}

func (r *APIAbuseRule) ID() string   { return "api_abuse" }
func (r *APIAbuseRule) Name() string { return "API Abuse / Rate Spike Detection" }
func (r *APIAbuseRule) Description() string {
	return "Detects abnormally high API request rates indicating abuse"
}
func (r *APIAbuseRule) Severity() core.Severity { return core.SeverityMedium }
func (r *APIAbuseRule) WindowMinutes() int      { return r.window }

func (r *APIAbuseRule) setThreshold(n int)     { r.threshold = n }
func (r *APIAbuseRule) setWindowMinutes(n int) { r.window = n }

type rateGroup struct {
	count      int
	actionSeen map[string]struct{}
	sourceIPs  []string
	sourceSeen map[string]struct{}
	first      time.Time
	last       time.Time
}

func newRateGroup(at time.Time) *rateGroup {
	return &rateGroup{
		actionSeen: make(map[string]struct{}),
		sourceSeen: make(map[string]struct{}),
		first:      at,
		last:       at,
	}
}

func (g *rateGroup) observe(event *core.Event) {
	g.count++
	g.actionSeen[event.Action] = struct{}{}
	if event.Timestamp.Before(g.first) {
		g.first = event.Timestamp
	}
	if event.Timestamp.After(g.last) {
		g.last = event.Timestamp
	}
}

// requestsPerSecond spreads the request count over the observed span,
// clamped to at least one second so instantaneous bursts stay finite.
func (g *rateGroup) requestsPerSecond() float64 {
	elapsed := g.last.Sub(g.first).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return round2(float64(g.count) / elapsed)
}

// Evaluate counts requests per source IP and per actor over the window.
// All events count, regardless of action or outcome. IP candidates are
// emitted before actor candidates, so a burst with both identities set
// yields two candidates.
func (r *APIAbuseRule) Evaluate(ctx context.Context, events []*core.Event, windowStart, windowEnd time.Time) ([]core.DetectionCandidate, error) {
	ipGroups := make(map[string]*rateGroup)
	var ipOrder []string
	actorGroups := make(map[string]*rateGroup)
	var actorOrder []string

	for _, event := range events {
		if event.SourceIP != "" {
			g, ok := ipGroups[event.SourceIP]
			if !ok {
				g = newRateGroup(event.Timestamp)
				ipGroups[event.SourceIP] = g
				ipOrder = append(ipOrder, event.SourceIP)
			}
			g.observe(event)
		}

		if event.Actor != "" {
			g, ok := actorGroups[event.Actor]
			if !ok {
				g = newRateGroup(event.Timestamp)
				actorGroups[event.Actor] = g
				actorOrder = append(actorOrder, event.Actor)
			}
			g.observe(event)
			if event.SourceIP != "" {
				if _, seen := g.sourceSeen[event.SourceIP]; !seen {
					g.sourceSeen[event.SourceIP] = struct{}{}
					g.sourceIPs = append(g.sourceIPs, event.SourceIP)
				}
			}
		}
	}

	var candidates []core.DetectionCandidate

	for _, sourceIP := range ipOrder {
		g := ipGroups[sourceIP]
		if g.count < r.threshold {
			continue
		}

		candidates = append(candidates, core.DetectionCandidate{
			RuleID:   r.ID(),
			Severity: r.Severity(),
			Summary:  fmt.Sprintf("API abuse detected: %d requests from %s in %d minutes", g.count, sourceIP, r.window),
			Evidence: map[string]interface{}{
				"source_ip":           sourceIP,
				"request_count":       g.count,
				"unique_actions":      len(g.actionSeen),
				"requests_per_second": g.requestsPerSecond(),
				"first_request":       isoTime(g.first),
				"last_request":        isoTime(g.last),
			},
			AlertTime:   windowEnd,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		})
	}

	for _, actor := range actorOrder {
		g := actorGroups[actor]
		if g.count < r.threshold {
			continue
		}

		sourceIPs := g.sourceIPs
		if sourceIPs == nil {
			sourceIPs = []string{}
		}

		candidates = append(candidates, core.DetectionCandidate{
			RuleID:   r.ID(),
			Severity: r.Severity(),
			Summary:  fmt.Sprintf("API abuse detected: %d requests from user %s in %d minutes", g.count, actor, r.window),
			Evidence: map[string]interface{}{
				"actor":               actor,
				"request_count":       g.count,
				"unique_actions":      len(g.actionSeen),
				"source_ips":          sourceIPs,
				"requests_per_second": g.requestsPerSecond(),
				"first_request":       isoTime(g.first),
				"last_request":        isoTime(g.last),
			},
			AlertTime:   windowEnd,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		})
	}

	return candidates, nil
}
