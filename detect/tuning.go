package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// tuningSchema constrains the tuning file shape before any override is
// applied. Thresholds and windows must be positive integers.
const tuningSchema = `{
  "type": "object",
  "required": ["rules"],
  "additionalProperties": false,
  "properties": {
    "rules": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "threshold": {"type": "integer", "minimum": 1},
          "window_minutes": {"type": "integer", "minimum": 1}
        }
      }
    }
  }
}`

// RuleTuning overrides one rule's constants. Nil fields keep the
// built-in default.
type RuleTuning struct {
	Threshold     *int `json:"threshold,omitempty"`
	WindowMinutes *int `json:"window_minutes,omitempty"`
}

// TuningConfig is the parsed tuning file, keyed by rule ID
type TuningConfig struct {
	Rules map[string]RuleTuning `json:"rules"`
}

// Rules that accept a threshold override implement setThreshold; every
// built-in rule accepts a window override via setWindowMinutes. The
// interfaces stay unexported so tuning is the only caller.
type thresholdTunable interface {
	setThreshold(n int)
}

type windowTunable interface {
	setWindowMinutes(n int)
}

// LoadTuning reads and parses a tuning file
func LoadTuning(filename string, logger *zap.SugaredLogger) (*TuningConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}

	cfg, err := ParseTuning(data)
	if err != nil {
		return nil, err
	}

	logger.Infof("Loaded tuning overrides for %d rules from %s", len(cfg.Rules), filename)
	return cfg, nil
}

// ParseTuning validates the document against the tuning schema and
// unmarshals it.
func ParseTuning(data []byte) (*TuningConfig, error) {
	schemaLoader := gojsonschema.NewStringLoader(tuningSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("failed to validate tuning file: %w", err)
	}
	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}
		return nil, fmt.Errorf("tuning validation failed: %s", strings.Join(errors, "; "))
	}

	var cfg TuningConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tuning file: %w", err)
	}
	return &cfg, nil
}

// ApplyTuning applies overrides to the given rules. Overrides naming an
// unknown rule, or a threshold for a rule that has none, are rejected so
// a typo cannot silently leave a default in place.
func ApplyTuning(rules []Rule, cfg *TuningConfig, logger *zap.SugaredLogger) error {
	if cfg == nil || len(cfg.Rules) == 0 {
		return nil
	}

	byID := make(map[string]Rule, len(rules))
	for _, rule := range rules {
		byID[rule.ID()] = rule
	}

	for ruleID, tuning := range cfg.Rules {
		rule, ok := byID[ruleID]
		if !ok {
			return fmt.Errorf("tuning references unknown rule %q", ruleID)
		}

		if tuning.Threshold != nil {
			tunable, ok := rule.(thresholdTunable)
			if !ok {
				return fmt.Errorf("rule %q does not accept a threshold override", ruleID)
			}
			tunable.setThreshold(*tuning.Threshold)
			logger.Infow("Rule threshold overridden",
				"rule_id", ruleID,
				"threshold", *tuning.Threshold)
		}

		if tuning.WindowMinutes != nil {
			tunable, ok := rule.(windowTunable)
			if !ok {
				return fmt.Errorf("rule %q does not accept a window override", ruleID)
			}
			tunable.setWindowMinutes(*tuning.WindowMinutes)
			logger.Infow("Rule window overridden",
				"rule_id", ruleID,
				"window_minutes", *tuning.WindowMinutes)
		}
	}

	return nil
}
