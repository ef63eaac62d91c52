package detect

import (
	"context"
	"math"
	"time"

	"argus/core"
)

// loginActions are the action names the authentication rules treat as
// login attempts: the canonical user.login plus raw forms that reach
// storage without passing the action synonym table.
var loginActions = map[string]struct{}{
	"user.login":   {},
	"login":        {},
	"signin":       {},
	"authenticate": {},
}

// Rule is one windowed detection. Evaluate receives the canonical events
// inside [windowStart, windowEnd], sorted by timestamp ascending, and
// returns the candidates that window yields. Implementations must not
// retain the event slice.
type Rule interface {
	ID() string
	Name() string
	Description() string
	Severity() core.Severity
	WindowMinutes() int
	Evaluate(ctx context.Context, events []*core.Event, windowStart, windowEnd time.Time) ([]core.DetectionCandidate, error)
}

func isLoginAction(action string) bool {
	_, ok := loginActions[action]
	return ok
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
