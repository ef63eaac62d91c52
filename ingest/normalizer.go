package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"argus/core"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultSynonyms holds the built-in field synonym chains, tried in order.
// The first present, non-empty value wins. Dotted names traverse nested
// maps (identity.principalId reads raw["identity"]["principalId"]).
var defaultSynonyms = map[string][]string{
	"timestamp":  {"timestamp", "@timestamp", "time"},
	"actor":      {"actor", "user", "username", "identity.principalId"},
	"source_ip":  {"source_ip", "sourceIP", "client_ip", "clientIP", "source.ip", "network.client_ip"},
	"user_agent": {"user_agent", "userAgent"},
	"action":     {"action", "event", "eventName"},
	"resource":   {"resource", "target", "object", "requestParameters.resource"},
	"outcome":    {"outcome", "result", "status", "responseElements.status"},
	"request_id": {"request_id", "requestId", "trace_id", "traceId"},
}

// actionSynonyms maps cleaned action names to their canonical dotted form.
// Lookup keys have underscores and hyphens removed; unmapped actions pass
// through in their lower-cased form.
var actionSynonyms = map[string]string{
	"login":            "user.login",
	"logout":           "user.logout",
	"signin":           "user.login",
	"signout":          "user.logout",
	"authenticate":     "user.login",
	"createuser":       "iam.user.create",
	"deleteuser":       "iam.user.delete",
	"updateuser":       "iam.user.update",
	"createrole":       "iam.role.create",
	"deleterole":       "iam.role.delete",
	"updaterole":       "iam.role.update",
	"attachrolepolicy": "iam.role.attach_policy",
	"detachrolepolicy": "iam.role.detach_policy",
	"putobject":        "storage.object.create",
	"getobject":        "storage.object.read",
	"deleteobject":     "storage.object.delete",
}

// timestampLayouts are tried in order for string timestamps. Layouts
// without zone information parse as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// Normalizer converts arbitrary producer payloads into canonical events.
// Normalization is total: an event always comes out, however sparse or
// malformed the input, because telemetry sources cannot be trusted to be
// well-formed.
type Normalizer struct {
	synonyms map[string][]string
	logger   *zap.SugaredLogger
}

// NewNormalizer creates a normalizer with the built-in synonym chains
func NewNormalizer(logger *zap.SugaredLogger) *Normalizer {
	n := &Normalizer{
		synonyms: make(map[string][]string, len(defaultSynonyms)),
		logger:   logger,
	}
	for field, chain := range defaultSynonyms {
		n.synonyms[field] = append([]string(nil), chain...)
	}
	return n
}

// ApplyOverrides appends operator-supplied source keys to the built-in
// synonym chains. Built-in keys keep precedence; overrides only extend.
func (n *Normalizer) ApplyOverrides(overrides *MappingOverrides) {
	if overrides == nil {
		return
	}
	for field, extra := range overrides.Fields {
		chain, ok := n.synonyms[field]
		if !ok {
			continue
		}
		for _, source := range extra {
			if !containsString(chain, source) {
				chain = append(chain, source)
			}
		}
		n.synonyms[field] = chain
	}
}

// Normalize resolves a raw payload into a canonical event. It never fails.
func (n *Normalizer) Normalize(raw map[string]interface{}) *core.Event {
	event := core.NewEvent()
	event.Timestamp = n.resolveTimestamp(raw)

	event.Actor = stringField(n.resolve(raw, "actor"))
	event.SourceIP = stringField(n.resolve(raw, "source_ip"))
	event.UserAgent = stringField(n.resolve(raw, "user_agent"))
	event.Resource = stringField(n.resolve(raw, "resource"))

	if action := stringField(n.resolve(raw, "action")); action != "" {
		event.Action = NormalizeAction(action)
	} else {
		event.Action = "unknown"
	}

	event.Outcome = NormalizeOutcome(n.resolve(raw, "outcome"))

	if rid := stringField(n.resolve(raw, "request_id")); rid != "" {
		event.RequestID = rid
	} else {
		event.RequestID = uuid.New().String()
	}

	if data, ok := serializeRaw(raw).(map[string]interface{}); ok {
		event.RawData = data
	}
	return event
}

// resolve walks the synonym chain for a canonical field and returns the
// first present, non-empty value.
func (n *Normalizer) resolve(raw map[string]interface{}, field string) interface{} {
	for _, path := range n.synonyms[field] {
		if v := lookupPath(raw, path); present(v) {
			return v
		}
	}
	return nil
}

func (n *Normalizer) resolveTimestamp(raw map[string]interface{}) time.Time {
	v := n.resolve(raw, "timestamp")
	if !present(v) {
		return time.Now().UTC()
	}
	return n.parseTimestamp(v)
}

func (n *Normalizer) parseTimestamp(v interface{}) time.Time {
	switch ts := v.(type) {
	case time.Time:
		return ts.UTC()
	case float64:
		return timeFromEpoch(ts)
	case int:
		return timeFromEpoch(float64(ts))
	case int64:
		return timeFromEpoch(float64(ts))
	case uint64:
		return timeFromEpoch(float64(ts))
	case string:
		trimmed := strings.TrimSpace(ts)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t.UTC()
			}
		}
		n.logger.Debugw("Unparseable timestamp, defaulting to now", "value", ts)
		return time.Now().UTC()
	default:
		return time.Now().UTC()
	}
}

// timeFromEpoch converts a numeric epoch to UTC time. Values above 1e10
// are milliseconds and divided by 1000 first.
func timeFromEpoch(epoch float64) time.Time {
	if epoch > 1e10 {
		epoch = epoch / 1000
	}
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// NormalizeAction canonicalizes an action name: lower-case and trim, keep
// only the substring after the last colon (vendor-style s3:PutObject),
// then look up the underscore/hyphen-stripped form in the synonym table.
// Already-canonical actions pass through unchanged.
func NormalizeAction(action string) string {
	action = strings.ToLower(strings.TrimSpace(action))
	if idx := strings.LastIndex(action, ":"); idx >= 0 {
		action = action[idx+1:]
	}
	key := strings.NewReplacer("_", "", "-", "").Replace(action)
	if canonical, ok := actionSynonyms[key]; ok {
		return canonical
	}
	return action
}

// NormalizeOutcome buckets an outcome value into success, failure or
// error. Purely numeric strings bucket by HTTP status range. Anything
// unrecognized passes through lower-cased rather than being dropped.
func NormalizeOutcome(v interface{}) string {
	if !present(v) {
		return ""
	}
	outcome := strings.ToLower(stringField(v))
	switch outcome {
	case "success", "succeeded", "ok", "200", "201", "204":
		return core.OutcomeSuccess
	case "failure", "failed", "denied", "unauthorized", "401", "403":
		return core.OutcomeFailure
	case "error", "exception", "500", "503":
		return core.OutcomeError
	}
	if isDigits(outcome) {
		code, err := strconv.Atoi(outcome)
		if err == nil {
			switch {
			case code >= 200 && code < 300:
				return core.OutcomeSuccess
			case code >= 400 && code < 500:
				return core.OutcomeFailure
			case code >= 500 && code < 600:
				return core.OutcomeError
			}
		}
	}
	return outcome
}

// lookupPath retrieves a value by key, traversing nested maps for dotted
// paths (e.g. "identity.principalId").
func lookupPath(data map[string]interface{}, path string) interface{} {
	if !strings.Contains(path, ".") {
		return data[path]
	}
	parts := strings.Split(path, ".")
	current := data
	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]interface{})
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// present reports whether a resolved value should win its synonym chain.
// Null, empty strings, zero numbers and empty collections all fall
// through to the next candidate key.
func present(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	case map[string]interface{}:
		return len(val) > 0
	case []interface{}:
		return len(val) > 0
	default:
		return true
	}
}

// stringField renders a winning synonym value as a string field
func stringField(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// serializeRaw renders embedded time values as RFC 3339 strings so the
// retained payload stays JSON-serializable.
func serializeRaw(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = serializeRaw(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = serializeRaw(item)
		}
		return out
	default:
		return v
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
