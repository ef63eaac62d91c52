package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/storage"
)

// InitDetectionEngine builds the rule set, applies tuning overrides, and
// wires the alert pipeline behind the engine. Tuning errors fail startup
// rather than silently running built-in defaults.
func InitDetectionEngine(cfg *config.Config, store *storage.Store, sugar *zap.SugaredLogger) (*detect.Engine, error) {
	rules := detect.DefaultRules(sugar)

	if cfg.Detection.TuningFile != "" {
		tuning, err := detect.LoadTuning(cfg.Detection.TuningFile, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to load detection tuning: %w", err)
		}
		if err := detect.ApplyTuning(rules, tuning, sugar); err != nil {
			return nil, fmt.Errorf("failed to apply detection tuning: %w", err)
		}
	}

	pipeline, err := core.NewAlertPipeline(store.Alerts, store.Allowlist, cfg.Detection.DedupWindow(), sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize alert pipeline: %w", err)
	}

	engine, err := detect.NewEngine(rules, store.Events, pipeline, detect.EngineConfig{
		RuleTimeout: cfg.Detection.RuleTimeout(),
	}, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize detection engine: %w", err)
	}

	ruleIDs := make([]string, len(rules))
	for i, rule := range rules {
		ruleIDs[i] = rule.ID()
	}
	sugar.Infow("Detection engine initialized",
		"rules", ruleIDs,
		"dedup_window", cfg.Detection.DedupWindow(),
		"rule_timeout", cfg.Detection.RuleTimeout())

	return engine, nil
}

// InitScheduler sets up periodic sweeps when a cron schedule is
// configured. Returns nil without error when the schedule is empty.
func InitScheduler(runner detect.SweepRunner, cfg *config.Config, sugar *zap.SugaredLogger) (*detect.Scheduler, error) {
	if cfg.Detection.Schedule == "" {
		sugar.Info("No detection schedule configured, sweeps run on demand only")
		return nil, nil
	}

	scheduler, err := detect.NewScheduler(runner, cfg.Detection.Schedule, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize detection scheduler: %w", err)
	}

	return scheduler, nil
}
