package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"argus/core"
	"argus/ingest"
)

// defaultSeedCount is used when the CLI asks for a seed without a count.
const defaultSeedCount = 500

// EventService fronts the ingestion pipeline for the API and the CLI
// seeder. Both paths go through the same normalizer and batch validation.
type EventService struct {
	ingestor *ingest.Service
	logger   *zap.SugaredLogger
}

// NewEventService panics when either dependency is nil.
func NewEventService(ingestor *ingest.Service, logger *zap.SugaredLogger) *EventService {
	if ingestor == nil {
		panic("NewEventService: ingestor is required")
	}
	if logger == nil {
		panic("NewEventService: logger is required")
	}
	return &EventService{ingestor: ingestor, logger: logger}
}

// Ingest normalizes and persists one batch of raw events.
//
// RETURNS: per-item validation rejects inside the result, an error only
// for whole-batch failures (oversized batch, storage down).
func (s *EventService) Ingest(ctx context.Context, items []interface{}) (*ingest.BatchResult, error) {
	result, err := s.ingestor.IngestBatch(ctx, items)
	if err != nil {
		return nil, err
	}
	if len(result.Errors) > 0 {
		s.logger.Debugw("Batch accepted with per-item rejects",
			"ingested", result.Ingested,
			"rejected", len(result.Errors))
	}
	return result, nil
}

// Seed pushes count synthetic events through the normal ingest path. The
// stream opens with attack-shaped scenarios that trip every detection rule
// on the next sweep, padded with benign background traffic.
func (s *EventService) Seed(ctx context.Context, count int) (*ingest.BatchResult, error) {
	if count <= 0 {
		count = defaultSeedCount
	}

	raw := buildSeedEvents(count, time.Now().UTC())

	total := &ingest.BatchResult{}
	for start := 0; start < len(raw); start += ingest.DefaultMaxBatch {
		end := start + ingest.DefaultMaxBatch
		if end > len(raw) {
			end = len(raw)
		}

		result, err := s.ingestor.IngestBatch(ctx, raw[start:end])
		if err != nil {
			return nil, fmt.Errorf("seed batch starting at %d failed: %w", start, err)
		}

		total.Ingested += result.Ingested
		total.EventIDs = append(total.EventIDs, result.EventIDs...)
		for _, verr := range result.Errors {
			total.Errors = append(total.Errors, &core.ValidationError{
				Index:  start + verr.Index,
				Reason: verr.Reason,
			})
		}
	}

	s.logger.Infow("Seeded demo telemetry",
		"requested", count,
		"ingested", total.Ingested,
		"rejected", len(total.Errors))
	return total, nil
}

// buildSeedEvents lays out the demo stream: scenario events first, then
// benign filler until count is reached. Asking for fewer events than the
// scenarios need truncates coverage from the tail.
func buildSeedEvents(count int, now time.Time) []interface{} {
	events := make([]interface{}, 0, count)
	events = append(events, bruteForceScenario(now)...)
	events = append(events, passwordSprayScenario(now)...)
	events = append(events, impossibleTravelScenario(now)...)
	events = append(events, suspiciousAgentScenario(now)...)
	events = append(events, apiAbuseScenario(now)...)
	events = append(events, privilegeEscalationScenario(now)...)

	if len(events) > count {
		return events[:count]
	}
	for i := len(events); i < count; i++ {
		events = append(events, benignEvent(i, now))
	}
	return events
}

// bruteForceScenario: six failed logins from one IP inside the 15 minute
// brute force window.
func bruteForceScenario(now time.Time) []interface{} {
	events := make([]interface{}, 0, 6)
	for i := 0; i < 6; i++ {
		ts := now.Add(-10*time.Minute + time.Duration(i)*40*time.Second)
		events = append(events, map[string]interface{}{
			"timestamp":  ts.Format(time.RFC3339),
			"actor":      "svc-backup",
			"source_ip":  "198.51.100.23",
			"user_agent": "Mozilla/5.0 (X11; Linux x86_64)",
			"action":     "user.login",
			"resource":   "sso",
			"outcome":    "failure",
		})
	}
	return events
}

// passwordSprayScenario: twelve distinct actors failing from one IP. The
// alias keys and denied outcome exercise the normalizer's synonym tables.
func passwordSprayScenario(now time.Time) []interface{} {
	events := make([]interface{}, 0, 12)
	for i := 0; i < 12; i++ {
		ts := now.Add(-20*time.Minute + time.Duration(i)*time.Minute)
		events = append(events, map[string]interface{}{
			"time":      ts.Format(time.RFC3339),
			"user":      fmt.Sprintf("spray-user-%02d", i+1),
			"client_ip": "203.0.113.50",
			"event":     "SignIn",
			"result":    "denied",
		})
	}
	return events
}

// impossibleTravelScenario: one actor logging in successfully from two
// addresses far enough apart to break the travel limit within minutes.
func impossibleTravelScenario(now time.Time) []interface{} {
	return []interface{}{
		map[string]interface{}{
			"timestamp":  now.Add(-25 * time.Minute).Format(time.RFC3339),
			"actor":      "erin.traveler",
			"source_ip":  "81.2.69.142",
			"user_agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
			"action":     "user.login",
			"resource":   "vpn",
			"outcome":    "success",
		},
		map[string]interface{}{
			"timestamp":  now.Add(-15 * time.Minute).Format(time.RFC3339),
			"actor":      "erin.traveler",
			"source_ip":  "203.0.113.9",
			"user_agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
			"action":     "user.login",
			"resource":   "vpn",
			"outcome":    "success",
		},
	}
}

// suspiciousAgentScenario: a scripted client hammering the API with an
// automation user agent.
func suspiciousAgentScenario(now time.Time) []interface{} {
	events := make([]interface{}, 0, 6)
	for i := 0; i < 6; i++ {
		ts := now.Add(-8*time.Minute + time.Duration(i)*30*time.Second)
		events = append(events, map[string]interface{}{
			"timestamp":  ts.Format(time.RFC3339),
			"actor":      "data-export",
			"source_ip":  "192.0.2.199",
			"user_agent": "python-requests/2.31.0",
			"action":     "api.request",
			"resource":   "/api/v1/export",
			"outcome":    "success",
		})
	}
	return events
}

// apiAbuseScenario: 110 requests in under four minutes from one actor,
// timestamped with epoch milliseconds the way high-volume shippers emit
// them.
func apiAbuseScenario(now time.Time) []interface{} {
	events := make([]interface{}, 0, 110)
	for i := 0; i < 110; i++ {
		ts := now.Add(-4*time.Minute + time.Duration(i)*2*time.Second)
		events = append(events, map[string]interface{}{
			"timestamp":  ts.UnixMilli(),
			"actor":      "api-flood",
			"source_ip":  "192.0.2.77",
			"user_agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
			"action":     "api.request",
			"resource":   "/api/v1/search",
			"outcome":    "success",
		})
	}
	return events
}

// privilegeEscalationScenario: IAM changes that fire one candidate each.
func privilegeEscalationScenario(now time.Time) []interface{} {
	return []interface{}{
		map[string]interface{}{
			"timestamp":  now.Add(-30 * time.Minute).Format(time.RFC3339),
			"actor":      "mallory.admin",
			"source_ip":  "203.0.113.99",
			"user_agent": "aws-cli/2.15.0",
			"action":     "iam.user.promote",
			"resource":   "user/mallory.admin",
			"outcome":    "success",
		},
		map[string]interface{}{
			"timestamp":  now.Add(-12 * time.Minute).Format(time.RFC3339),
			"actor":      "mallory.admin",
			"source_ip":  "203.0.113.99",
			"user_agent": "aws-cli/2.15.0",
			"action":     "AttachRolePolicy",
			"resource":   "role/prod-admin",
			"outcome":    "success",
		},
	}
}

// benignEvent fills the remainder with routine traffic spread over the
// preceding six hours.
func benignEvent(i int, now time.Time) map[string]interface{} {
	actors := []string{"alice", "bob", "carol", "dave", "grace"}
	ips := []string{"10.20.30.11", "10.20.30.12", "10.20.30.41", "10.20.31.7"}
	actions := []string{"user.login", "api.request", "file.download", "user.logout"}

	ts := now.Add(-6 * time.Hour).Add(time.Duration(i) * 13 * time.Second)
	return map[string]interface{}{
		"timestamp":  ts.Format(time.RFC3339),
		"actor":      actors[i%len(actors)],
		"source_ip":  ips[i%len(ips)],
		"user_agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Firefox/126.0",
		"action":     actions[i%len(actions)],
		"resource":   "portal",
		"outcome":    "success",
	}
}
