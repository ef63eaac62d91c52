package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"argus/core"
)

// privilegeActions are matched as substrings of the event action. The
// list carries both canonical forms and the raw vendor spellings that
// pass through the action synonym table unchanged.
var privilegeActions = []string{
	"iam.role.create",
	"iam.role.update",
	"iam.role.delete",
	"iam.role.attach_policy",
	"iam.role.detach_policy",
	"iam.user.create",
	"iam.user.update",
	"iam.user.promote",
	"iam.user.add_to_group",
	"iam.policy.create",
	"iam.policy.attach",
	"permissions.grant",
	"permissions.modify",
	"admin.action",
	"createrole",
	"updaterole",
	"attachrolepolicy",
	"createuser",
	"addusertogroup",
}

// PrivilegeEscalationRule flags every IAM privilege change inside the
// window, one candidate per event. MITRE ATT&CK: T1078.004 (Cloud
// Accounts), T1548 (Abuse Elevation Control Mechanism).
type PrivilegeEscalationRule struct {
	window int
}

// NewPrivilegeEscalationRule creates the rule with its default window
// (60 minutes)
func NewPrivilegeEscalationRule() *PrivilegeEscalationRule {
	return &PrivilegeEscalationRule{window: 60}
}

func (r *PrivilegeEscalationRule) ID() string   { return "privilege_escalation" }
func (r *PrivilegeEscalationRule) Name() string { return "Privilege Escalation Detection" }
func (r *PrivilegeEscalationRule) Description() string {
	return "Detects IAM privilege changes and role elevations"
}
func (r *PrivilegeEscalationRule) Severity() core.Severity { return core.SeverityCritical }
func (r *PrivilegeEscalationRule) WindowMinutes() int      { return r.window }

func (r *PrivilegeEscalationRule) setWindowMinutes(n int) { r.window = n }

// Evaluate emits one candidate per privilege-related event. Admin
// actions are critical, the rest high.
func (r *PrivilegeEscalationRule) Evaluate(ctx context.Context, events []*core.Event, windowStart, windowEnd time.Time) ([]core.DetectionCandidate, error) {
	var candidates []core.DetectionCandidate

	for _, event := range events {
		if !isPrivilegeAction(event.Action) {
			continue
		}

		actor := event.Actor
		if actor == "" {
			actor = "unknown"
		}
		resource := event.Resource
		if resource == "" {
			resource = "unknown resource"
		}

		severity := core.SeverityHigh
		if strings.Contains(strings.ToLower(event.Action), "admin") {
			severity = core.SeverityCritical
		}

		candidates = append(candidates, core.DetectionCandidate{
			RuleID:   r.ID(),
			Severity: severity,
			Summary:  fmt.Sprintf("Privilege escalation detected: %s performed %s on %s", actor, event.Action, resource),
			Evidence: map[string]interface{}{
				"actor":      event.Actor,
				"action":     event.Action,
				"resource":   event.Resource,
				"outcome":    event.Outcome,
				"source_ip":  event.SourceIP,
				"timestamp":  isoTime(event.Timestamp),
				"event_id":   event.ID,
				"user_agent": event.UserAgent,
			},
			AlertTime:   windowEnd,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		})
	}

	return candidates, nil
}

func isPrivilegeAction(action string) bool {
	lowered := strings.ToLower(action)
	for _, privileged := range privilegeActions {
		if strings.Contains(lowered, privileged) {
			return true
		}
	}
	return false
}
