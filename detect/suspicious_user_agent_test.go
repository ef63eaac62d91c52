package detect

import (
	"context"
	"fmt"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newUARule() *SuspiciousUserAgentRule {
	return NewSuspiciousUserAgentRule(zap.NewNop().Sugar())
}

func uaEvent(userAgent, actor, sourceIP string, at time.Time) *core.Event {
	e := testEvent("api.request", core.OutcomeSuccess, actor, sourceIP, at)
	e.UserAgent = userAgent
	return e
}

func TestSuspiciousUserAgentRule_Metadata(t *testing.T) {
	rule := newUARule()

	assert.Equal(t, "suspicious_user_agent", rule.ID())
	assert.Equal(t, core.SeverityMedium, rule.Severity())
	assert.Equal(t, 15, rule.WindowMinutes())
}

func TestSuspiciousUserAgentRule_FiresAtThreshold(t *testing.T) {
	rule := newUARule()
	windowEnd := time.Date(2024, 2, 9, 12, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-15 * time.Minute)

	var events []*core.Event
	for i := 0; i < 5; i++ {
		events = append(events, uaEvent("curl/7.88.1", "alice", "203.0.113.50", windowStart.Add(time.Duration(i)*time.Second)))
	}

	candidates, err := rule.Evaluate(context.Background(), events, windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "suspicious_user_agent", c.RuleID)
	assert.Equal(t, core.SeverityMedium, c.Severity)
	assert.Equal(t, "Suspicious user agent detected: 5 requests with automated/suspicious UA", c.Summary)
	assert.Equal(t, "curl/7.88.1", c.Evidence["user_agent"])
	assert.Equal(t, 5, c.Evidence["request_count"])
	assert.Equal(t, "curl", c.Evidence["pattern_matched"])
	assert.Equal(t, []string{"alice"}, c.Evidence["actors"])
	assert.Equal(t, []string{"203.0.113.50"}, c.Evidence["source_ips"])
	assert.Len(t, c.Evidence["event_ids"], 5)
}

func TestSuspiciousUserAgentRule_BelowThresholdStaysQuiet(t *testing.T) {
	rule := newUARule()
	windowEnd := time.Date(2024, 2, 9, 12, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-15 * time.Minute)

	var events []*core.Event
	for i := 0; i < 4; i++ {
		events = append(events, uaEvent("curl/7.88.1", "alice", "203.0.113.50", windowStart.Add(time.Duration(i)*time.Second)))
	}

	candidates, err := rule.Evaluate(context.Background(), events, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSuspiciousUserAgentRule_GroupsByExactAgentString(t *testing.T) {
	rule := newUARule()
	windowEnd := time.Date(2024, 2, 9, 12, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-15 * time.Minute)

	// Three curl 7s and three curl 8s are six suspicious requests but
	// no single agent string reaches five.
	var events []*core.Event
	for i := 0; i < 3; i++ {
		at := windowStart.Add(time.Duration(i) * time.Second)
		events = append(events, uaEvent("curl/7.88.1", "alice", "203.0.113.50", at))
		events = append(events, uaEvent("curl/8.0.0", "alice", "203.0.113.50", at.Add(500*time.Millisecond)))
	}

	candidates, err := rule.Evaluate(context.Background(), events, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSuspiciousUserAgentRule_MatchesCaseInsensitively(t *testing.T) {
	rule := newUARule()
	windowEnd := time.Date(2024, 2, 9, 12, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-15 * time.Minute)

	var events []*core.Event
	for i := 0; i < 5; i++ {
		events = append(events, uaEvent("Mozilla/5.0 (compatible; Googlebot/2.1)", "", "203.0.113.50", windowStart.Add(time.Duration(i)*time.Second)))
	}

	candidates, err := rule.Evaluate(context.Background(), events, windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "bot", candidates[0].Evidence["pattern_matched"])
}

func TestSuspiciousUserAgentRule_SingleDashAgent(t *testing.T) {
	rule := newUARule()
	windowEnd := time.Date(2024, 2, 9, 12, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-15 * time.Minute)

	var events []*core.Event
	for i := 0; i < 5; i++ {
		events = append(events, uaEvent("-", "alice", "203.0.113.50", windowStart.Add(time.Duration(i)*time.Second)))
	}

	candidates, err := rule.Evaluate(context.Background(), events, windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, `^-$`, candidates[0].Evidence["pattern_matched"])
}

func TestSuspiciousUserAgentRule_BrowserAgentsPass(t *testing.T) {
	rule := newUARule()
	windowEnd := time.Date(2024, 2, 9, 12, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-15 * time.Minute)

	var events []*core.Event
	for i := 0; i < 20; i++ {
		events = append(events, uaEvent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36", "alice", "203.0.113.50", windowStart.Add(time.Duration(i)*time.Second)))
	}

	candidates, err := rule.Evaluate(context.Background(), events, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSuspiciousUserAgentRule_SkipsEventsWithoutAgent(t *testing.T) {
	rule := newUARule()
	windowEnd := time.Date(2024, 2, 9, 12, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-15 * time.Minute)

	var events []*core.Event
	for i := 0; i < 10; i++ {
		events = append(events, uaEvent("", "alice", "203.0.113.50", windowStart.Add(time.Duration(i)*time.Second)))
	}

	candidates, err := rule.Evaluate(context.Background(), events, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSuspiciousUserAgentRule_CollectsDistinctActorsAndIPs(t *testing.T) {
	rule := newUARule()
	windowEnd := time.Date(2024, 2, 9, 12, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-15 * time.Minute)

	var events []*core.Event
	for i := 0; i < 6; i++ {
		actor := fmt.Sprintf("user%d", i%2)
		sourceIP := fmt.Sprintf("203.0.113.%d", 50+i%3)
		events = append(events, uaEvent("python-requests/2.31", actor, sourceIP, windowStart.Add(time.Duration(i)*time.Second)))
	}

	candidates, err := rule.Evaluate(context.Background(), events, windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "python-requests", c.Evidence["pattern_matched"])
	assert.Equal(t, []string{"user0", "user1"}, c.Evidence["actors"])
	assert.Equal(t, []string{"203.0.113.50", "203.0.113.51", "203.0.113.52"}, c.Evidence["source_ips"])
}

func TestSuspiciousUserAgentRule_AnonymousGroupsKeepEmptyLists(t *testing.T) {
	rule := newUARule()
	windowEnd := time.Date(2024, 2, 9, 12, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-15 * time.Minute)

	var events []*core.Event
	for i := 0; i < 5; i++ {
		events = append(events, uaEvent("wget/1.21", "", "", windowStart.Add(time.Duration(i)*time.Second)))
	}

	candidates, err := rule.Evaluate(context.Background(), events, windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, []string{}, candidates[0].Evidence["actors"])
	assert.Equal(t, []string{}, candidates[0].Evidence["source_ips"])
}

func TestSuspiciousUserAgentRule_EmptyStringMatchesEmptyPattern(t *testing.T) {
	// Canonical events never carry an empty agent into Evaluate, but the
	// matcher itself still classifies one.
	rule := newUARule()

	pattern, ok := rule.matchUserAgent("")
	require.True(t, ok)
	assert.Equal(t, `^$`, pattern)
}

func TestSuspiciousUserAgentRule_FirstPatternInListWins(t *testing.T) {
	rule := newUARule()
	windowEnd := time.Date(2024, 2, 9, 12, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-15 * time.Minute)

	// Matches both "python-requests" and "bot"; list order decides.
	var events []*core.Event
	for i := 0; i < 5; i++ {
		events = append(events, uaEvent("python-requests robot runner", "alice", "203.0.113.50", windowStart.Add(time.Duration(i)*time.Second)))
	}

	candidates, err := rule.Evaluate(context.Background(), events, windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "python-requests", candidates[0].Evidence["pattern_matched"])
}
