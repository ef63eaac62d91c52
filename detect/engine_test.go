package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubEventSource struct {
	events []*core.Event
	err    error
	calls  []windowCall
}

type windowCall struct {
	from time.Time
	to   time.Time
}

func (s *stubEventSource) EventsInWindow(ctx context.Context, from, to time.Time) ([]*core.Event, error) {
	s.calls = append(s.calls, windowCall{from: from, to: to})
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

type stubSink struct {
	err       error
	processed [][]core.DetectionCandidate
}

func (s *stubSink) Process(ctx context.Context, candidates []core.DetectionCandidate, now time.Time) (*core.PipelineResult, error) {
	s.processed = append(s.processed, candidates)
	if s.err != nil {
		return nil, s.err
	}
	result := &core.PipelineResult{}
	for i := range candidates {
		result.Created = append(result.Created, candidates[i].ToAlert(now))
	}
	return result, nil
}

type stubRule struct {
	id         string
	window     int
	candidates []core.DetectionCandidate
	err        error
}

func (r *stubRule) ID() string              { return r.id }
func (r *stubRule) Name() string            { return r.id }
func (r *stubRule) Description() string     { return r.id }
func (r *stubRule) Severity() core.Severity { return core.SeverityLow }
func (r *stubRule) WindowMinutes() int      { return r.window }

func (r *stubRule) Evaluate(ctx context.Context, events []*core.Event, windowStart, windowEnd time.Time) ([]core.DetectionCandidate, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.candidates, nil
}

func candidateFor(ruleID string) core.DetectionCandidate {
	return core.DetectionCandidate{
		RuleID:   ruleID,
		Severity: core.SeverityLow,
		Summary:  "test candidate",
		Evidence: map[string]interface{}{"source_ip": "203.0.113.50"},
	}
}

func newTestEngine(t *testing.T, rules []Rule, source EventSource, sink AlertSink) *Engine {
	t.Helper()
	engine, err := NewEngine(rules, source, sink, EngineConfig{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return engine
}

func TestNewEngine_Validation(t *testing.T) {
	logger := zap.NewNop().Sugar()
	source := &stubEventSource{}
	sink := &stubSink{}
	rules := []Rule{&stubRule{id: "a", window: 5}}

	_, err := NewEngine(nil, source, sink, EngineConfig{}, logger)
	assert.Error(t, err, "empty rule list")

	_, err = NewEngine(rules, nil, sink, EngineConfig{}, logger)
	assert.Error(t, err, "missing event source")

	_, err = NewEngine(rules, source, nil, EngineConfig{}, logger)
	assert.Error(t, err, "missing pipeline")

	_, err = NewEngine([]Rule{&stubRule{id: "a", window: 5}, &stubRule{id: "a", window: 5}}, source, sink, EngineConfig{}, logger)
	assert.Error(t, err, "duplicate rule ids")
}

func TestEngine_RunExecutesRulesInOrder(t *testing.T) {
	rules := []Rule{
		&stubRule{id: "a", window: 5, candidates: []core.DetectionCandidate{candidateFor("a")}},
		&stubRule{id: "b", window: 5},
		&stubRule{id: "c", window: 5, candidates: []core.DetectionCandidate{candidateFor("c"), candidateFor("c")}},
	}
	sink := &stubSink{}
	engine := newTestEngine(t, rules, &stubEventSource{}, sink)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.AlertsGenerated)
	assert.Equal(t, []string{"a", "b", "c"}, result.RulesExecuted)
	assert.Len(t, result.Alerts, 3)
	require.Len(t, sink.processed, 3)
	assert.Len(t, sink.processed[0], 1)
	assert.Empty(t, sink.processed[1])
	assert.Len(t, sink.processed[2], 2)
	assert.GreaterOrEqual(t, result.ExecutionTimeMS, 0.0)
}

func TestEngine_FailingRuleIsIsolated(t *testing.T) {
	rules := []Rule{
		&stubRule{id: "a", window: 5, candidates: []core.DetectionCandidate{candidateFor("a")}},
		&stubRule{id: "b", window: 5, err: errors.New("boom")},
		&stubRule{id: "c", window: 5, candidates: []core.DetectionCandidate{candidateFor("c")}},
	}
	engine := newTestEngine(t, rules, &stubEventSource{}, &stubSink{})

	result, err := engine.Run(context.Background())
	require.NoError(t, err, "one failing rule must not fail the sweep")

	assert.Equal(t, 2, result.AlertsGenerated)
	assert.Equal(t, []string{"a", "c"}, result.RulesExecuted, "failed rule is omitted")
}

func TestEngine_EventSourceFailureFailsTheRule(t *testing.T) {
	rules := []Rule{&stubRule{id: "a", window: 5}}
	engine := newTestEngine(t, rules, &stubEventSource{err: errors.New("db down")}, &stubSink{})

	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.RulesExecuted)
	assert.Zero(t, result.AlertsGenerated)
}

func TestEngine_PipelineFailureFailsTheRule(t *testing.T) {
	rules := []Rule{
		&stubRule{id: "a", window: 5, candidates: []core.DetectionCandidate{candidateFor("a")}},
	}
	engine := newTestEngine(t, rules, &stubEventSource{}, &stubSink{err: errors.New("insert failed")})

	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.RulesExecuted)
	assert.Zero(t, result.AlertsGenerated)
}

func TestEngine_WindowSpansRuleMinutes(t *testing.T) {
	source := &stubEventSource{}
	rules := []Rule{&stubRule{id: "a", window: 15}, &stubRule{id: "b", window: 60}}
	engine := newTestEngine(t, rules, source, &stubSink{})

	before := time.Now().UTC()
	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	after := time.Now().UTC()

	require.Len(t, source.calls, 2)
	assert.Equal(t, 15*time.Minute, source.calls[0].to.Sub(source.calls[0].from))
	assert.Equal(t, 60*time.Minute, source.calls[1].to.Sub(source.calls[1].from))
	for _, call := range source.calls {
		assert.False(t, call.to.Before(before))
		assert.False(t, call.to.After(after))
	}
}

func TestEngine_SecondConcurrentRunRejected(t *testing.T) {
	engine := newTestEngine(t, []Rule{&stubRule{id: "a", window: 5}}, &stubEventSource{}, &stubSink{})

	engine.mu.Lock()
	engine.running = true
	engine.mu.Unlock()

	_, err := engine.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	engine.mu.Lock()
	engine.running = false
	engine.mu.Unlock()

	_, err = engine.Run(context.Background())
	assert.NoError(t, err)
}

func TestEngine_CancelledContextAbortsSweep(t *testing.T) {
	engine := newTestEngine(t, []Rule{&stubRule{id: "a", window: 5}}, &stubEventSource{}, &stubSink{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_RuleErrorsCarryTheRuleID(t *testing.T) {
	// The wrapped error type is what the logs and callers key on.
	ruleErr := errors.New("boom")
	rules := []Rule{&stubRule{id: "fragile", window: 5, err: ruleErr}}
	source := &stubEventSource{}
	engine := newTestEngine(t, rules, source, &stubSink{})

	created, err := engine.runRule(context.Background(), rules[0])
	require.Error(t, err)
	assert.Nil(t, created)

	var execErr *core.RuleExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "fragile", execErr.RuleID)
	assert.ErrorIs(t, err, ruleErr)
}

func TestDefaultRules_FixedOrder(t *testing.T) {
	rules := DefaultRules(zap.NewNop().Sugar())

	var ids []string
	for _, rule := range rules {
		ids = append(ids, rule.ID())
	}
	assert.Equal(t, []string{
		"brute_force_login",
		"password_spray",
		"impossible_travel",
		"suspicious_user_agent",
		"api_abuse",
		"privilege_escalation",
	}, ids)
}
