package detect

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"argus/core"
)

// ImpossibleTravelRule detects the same actor logging in successfully
// from locations too far apart for the elapsed time.
// MITRE ATT&CK: T1078 (Valid Accounts).
type ImpossibleTravelRule struct {
	distance DistanceEstimator
	window   int

	// A consecutive login pair fires when the estimated distance exceeds
	// minDistanceKm and the elapsed time is under maxTravelHours.
	minDistanceKm  float64
	maxTravelHours float64
}

// NewImpossibleTravelRule creates the rule with the given distance
// strategy, a 60-minute window and the 500km-in-2h travel limit
func NewImpossibleTravelRule(distance DistanceEstimator) *ImpossibleTravelRule {
	return &ImpossibleTravelRule{
		distance:       distance,
		window:         60,
		minDistanceKm:  500,
		maxTravelHours: 2,
	}
}

func (r *ImpossibleTravelRule) ID() string   { return "impossible_travel" }
func (r *ImpossibleTravelRule) Name() string { return "Impossible Travel Detection" }
func (r *ImpossibleTravelRule) Description() string {
	return "Detects logins from geographically impossible locations within short timeframes"
}
func (r *ImpossibleTravelRule) Severity() core.Severity { return core.SeverityHigh }
func (r *ImpossibleTravelRule) WindowMinutes() int      { return r.window }

func (r *ImpossibleTravelRule) setWindowMinutes(n int) { r.window = n }

// Evaluate orders each actor's successful logins by time and checks every
// consecutive pair against the travel limit.
func (r *ImpossibleTravelRule) Evaluate(ctx context.Context, events []*core.Event, windowStart, windowEnd time.Time) ([]core.DetectionCandidate, error) {
	byActor := make(map[string][]*core.Event)
	var order []string

	for _, event := range events {
		if !isLoginAction(event.Action) || event.Outcome != core.OutcomeSuccess {
			continue
		}
		if event.Actor == "" || event.SourceIP == "" {
			continue
		}
		if _, ok := byActor[event.Actor]; !ok {
			order = append(order, event.Actor)
		}
		byActor[event.Actor] = append(byActor[event.Actor], event)
	}

	var candidates []core.DetectionCandidate
	for _, actor := range order {
		logins := byActor[actor]
		if len(logins) < 2 {
			continue
		}

		for i := 0; i < len(logins)-1; i++ {
			first, second := logins[i], logins[i+1]

			distanceKm := r.distance.EstimateKm(first.SourceIP, second.SourceIP)
			deltaHours := second.Timestamp.Sub(first.Timestamp).Hours()

			if distanceKm <= r.minDistanceKm || deltaHours >= r.maxTravelHours {
				continue
			}

			speedKmh := 0.0
			if deltaHours > 0 {
				speedKmh = round2(distanceKm / deltaHours)
			}

			candidates = append(candidates, core.DetectionCandidate{
				RuleID:   r.ID(),
				Severity: r.Severity(),
				Summary: fmt.Sprintf("Impossible travel detected: %s logged in from %s and %s within %s hours",
					actor, first.SourceIP, second.SourceIP, formatHours(deltaHours)),
				Evidence: map[string]interface{}{
					"actor": actor,
					"location1": map[string]interface{}{
						"ip":        first.SourceIP,
						"timestamp": isoTime(first.Timestamp),
						"event_id":  first.ID,
					},
					"location2": map[string]interface{}{
						"ip":        second.SourceIP,
						"timestamp": isoTime(second.Timestamp),
						"event_id":  second.ID,
					},
					"estimated_distance_km": distanceKm,
					"time_delta_hours":      round2(deltaHours),
					"impossible_speed_kmh":  speedKmh,
				},
				AlertTime:   windowEnd,
				WindowStart: windowStart,
				WindowEnd:   windowEnd,
			})
		}
	}

	return candidates, nil
}

func formatHours(hours float64) string {
	return strconv.FormatFloat(round1(hours), 'f', -1, 64)
}
