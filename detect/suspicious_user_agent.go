package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"argus/core"
	"argus/metrics"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"
)

// uaMatchTimeout bounds backtracking per pattern evaluation. A pattern
// that times out counts as a non-match.
const uaMatchTimeout = 500 * time.Millisecond

// suspiciousUAPatterns are matched in order against the lowercased user
// agent; the first hit becomes the pattern_matched evidence field. The
// empty-string pattern cannot fire on canonical events (a missing user
// agent normalizes to empty and is filtered before matching) but stays
// listed for raw callers of matchUserAgent.
var suspiciousUAPatterns = []string{
	`^$`,
	`curl`,
	`wget`,
	`python-requests`,
	`python-urllib`,
	`scrapy`,
	`bot`,
	`crawler`,
	`spider`,
	`httpx`,
	`http\.client`,
	`libwww`,
	`^-$`,
}

// SuspiciousUserAgentRule detects bursts of requests carrying automation
// or scraper user agents. MITRE ATT&CK: T1071 (Application Layer Protocol).
type SuspiciousUserAgentRule struct {
	patterns  []*regexp2.Regexp
	threshold int
	window    int
	logger    *zap.SugaredLogger
}

// NewSuspiciousUserAgentRule compiles the pattern list once with a match
// timeout and creates the rule with its default threshold (5 requests)
// and window (15 minutes).
func NewSuspiciousUserAgentRule(logger *zap.SugaredLogger) *SuspiciousUserAgentRule {
	patterns := make([]*regexp2.Regexp, 0, len(suspiciousUAPatterns))
	for _, pattern := range suspiciousUAPatterns {
		re := regexp2.MustCompile(pattern, 0)
		re.MatchTimeout = uaMatchTimeout
		patterns = append(patterns, re)
	}
	return &SuspiciousUserAgentRule{
		patterns:  patterns,
		threshold: 5,
		window:    15,
		logger:    logger,
	}
}

func (r *SuspiciousUserAgentRule) ID() string   { return "suspicious_user_agent" }
func (r *SuspiciousUserAgentRule) Name() string { return "Suspicious User-Agent Detection" }
func (r *SuspiciousUserAgentRule) Description() string {
	return "Detects requests with suspicious or automated user agent strings"
}
func (r *SuspiciousUserAgentRule) Severity() core.Severity { return core.SeverityMedium }
func (r *SuspiciousUserAgentRule) WindowMinutes() int      { return r.window }

func (r *SuspiciousUserAgentRule) setThreshold(n int)     { r.threshold = n }
func (r *SuspiciousUserAgentRule) setWindowMinutes(n int) { r.window = n }

type userAgentGroup struct {
	pattern    string
	count      int
	actors     []string
	actorSeen  map[string]struct{}
	sourceIPs  []string
	sourceSeen map[string]struct{}
	eventIDs   []string
}

// Evaluate groups events by exact user agent string and flags any
// suspicious agent that reaches the request threshold.
func (r *SuspiciousUserAgentRule) Evaluate(ctx context.Context, events []*core.Event, windowStart, windowEnd time.Time) ([]core.DetectionCandidate, error) {
	groups := make(map[string]*userAgentGroup)
	var order []string

	for _, event := range events {
		if event.UserAgent == "" {
			continue
		}

		g, ok := groups[event.UserAgent]
		if !ok {
			pattern, suspicious := r.matchUserAgent(event.UserAgent)
			if !suspicious {
				// Remember the miss so repeated agents are matched once.
				groups[event.UserAgent] = nil
				continue
			}
			g = &userAgentGroup{
				pattern:    pattern,
				actorSeen:  make(map[string]struct{}),
				sourceSeen: make(map[string]struct{}),
			}
			groups[event.UserAgent] = g
			order = append(order, event.UserAgent)
		} else if g == nil {
			continue
		}

		g.count++
		g.eventIDs = append(g.eventIDs, event.ID)
		if event.Actor != "" {
			if _, seen := g.actorSeen[event.Actor]; !seen {
				g.actorSeen[event.Actor] = struct{}{}
				g.actors = append(g.actors, event.Actor)
			}
		}
		if event.SourceIP != "" {
			if _, seen := g.sourceSeen[event.SourceIP]; !seen {
				g.sourceSeen[event.SourceIP] = struct{}{}
				g.sourceIPs = append(g.sourceIPs, event.SourceIP)
			}
		}
	}

	var candidates []core.DetectionCandidate
	for _, userAgent := range order {
		g := groups[userAgent]
		if g.count < r.threshold {
			continue
		}

		actors := g.actors
		if actors == nil {
			actors = []string{}
		}
		sourceIPs := g.sourceIPs
		if sourceIPs == nil {
			sourceIPs = []string{}
		}

		candidates = append(candidates, core.DetectionCandidate{
			RuleID:   r.ID(),
			Severity: r.Severity(),
			Summary:  fmt.Sprintf("Suspicious user agent detected: %d requests with automated/suspicious UA", g.count),
			Evidence: map[string]interface{}{
				"user_agent":      userAgent,
				"request_count":   g.count,
				"actors":          actors,
				"source_ips":      sourceIPs,
				"event_ids":       g.eventIDs,
				"pattern_matched": g.pattern,
			},
			AlertTime:   windowEnd,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		})
	}

	return candidates, nil
}

// matchUserAgent returns the first pattern the lowercased user agent
// matches. Pattern timeouts and evaluation errors count as non-matches.
func (r *SuspiciousUserAgentRule) matchUserAgent(userAgent string) (string, bool) {
	lowered := strings.ToLower(userAgent)

	for i, re := range r.patterns {
		match, err := re.MatchString(lowered)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "timeout") {
				metrics.RegexTimeouts.Inc()
				r.logger.Warnw("User agent pattern timed out",
					"pattern", suspiciousUAPatterns[i],
					"input_length", len(userAgent))
			} else {
				r.logger.Errorw("User agent pattern evaluation failed",
					"pattern", suspiciousUAPatterns[i],
					"error", err)
			}
			continue
		}
		if match {
			return suspiciousUAPatterns[i], true
		}
	}

	return "", false
}
