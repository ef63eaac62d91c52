// Package core defines the Argus domain model and the shared runtime
// primitives built on it.
//
// The model side covers the three persisted entities and their rules:
//
//   - Event, the normalized security telemetry record
//   - Alert, an actionable finding with an enforced triage lifecycle
//     (open, triaged, closed, false_positive)
//   - AllowlistEntry, a suppression applied before alerts are created
//
// Status changes must go through Alert.TransitionTo, which rejects
// transitions the lifecycle does not permit. DetectionCandidate is the
// pre-persistence shape a rule emits; the detection pipeline promotes
// surviving candidates to Alerts.
//
// The runtime side holds infrastructure shared across packages: the
// worker pool used by notification dispatch, the Redis cache backing
// alert lookups and the cross-replica detection lock, and the circuit
// breaker wrapped around flaky downstream destinations.
package core
