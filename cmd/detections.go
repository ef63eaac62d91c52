package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"argus/bootstrap"
	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/service"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// NewDetectionsCmd creates the root detections command with all subcommands.
func NewDetectionsCmd() *cobra.Command {
	detectionsCmd := &cobra.Command{
		Use:   "detections",
		Short: "Run detection sweeps and inspect rules",
		Long: `Run detection sweeps and inspect the registered detection rules.

A sweep evaluates every rule against its trailing event window and persists
the alerts that survive allowlist and dedup filtering. Sweeps started here
take the same cross-replica lock as the server's scheduler, so running one
next to a live server is safe.`,
	}

	addCommonFlags(detectionsCmd)

	detectionsCmd.AddCommand(newDetectionsRunCmd())
	detectionsCmd.AddCommand(newDetectionsRulesCmd())

	return detectionsCmd
}

// newDetectionsRunCmd creates the 'run' subcommand
func newDetectionsRunCmd() *cobra.Command {
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one detection sweep",
		Long:  "Evaluate every detection rule against its trailing window and persist the resulting alerts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			engine, err := bootstrap.InitDetectionEngine(b.cfg, b.store, b.sugar)
			if err != nil {
				return err
			}

			// The redis lock keeps a CLI sweep from racing a server-side
			// scheduled sweep against the same store.
			cache := bootstrap.InitCache(ctx, b.cfg, b.sugar)
			if cache != nil {
				defer cache.Close()
			}
			var locker service.DetectionLocker
			if cache != nil {
				locker = cache
			}
			detections := service.NewDetectionService(engine, locker, nil, nil, b.sugar)

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Running detection sweep..."
				s.Start()
			}

			result, err := detections.Run(ctx)

			if s != nil {
				s.Stop()
			}

			if err != nil {
				if errors.Is(err, detect.ErrRunInProgress) {
					return fmt.Errorf("a detection sweep is already running elsewhere, try again shortly")
				}
				return fmt.Errorf("detection sweep failed: %w", err)
			}

			if outputJSON {
				return outputAsJSON(struct {
					*detect.RunResult
					Alerts []*core.Alert `json:"alerts"`
				}{result, result.Alerts})
			}

			renderSweepResult(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")

	return cmd
}

// ruleSummary is the JSON shape for 'detections rules'
type ruleSummary struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Severity      core.Severity `json:"severity"`
	WindowMinutes int           `json:"window_minutes"`
}

// newDetectionsRulesCmd creates the 'rules' subcommand
func newDetectionsRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the registered detection rules",
		Long:  "Display the built-in detection rules with any threshold overrides from the tuning file applied.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			_, sugar, err := newCLILogger()
			if err != nil {
				return err
			}

			rules := detect.DefaultRules(sugar)
			if cfg.Detection.TuningFile != "" {
				tuning, err := detect.LoadTuning(cfg.Detection.TuningFile, sugar)
				if err != nil {
					return fmt.Errorf("failed to load tuning file: %w", err)
				}
				if err := detect.ApplyTuning(rules, tuning, sugar); err != nil {
					return fmt.Errorf("failed to apply tuning: %w", err)
				}
			}

			if outputJSON {
				summaries := make([]ruleSummary, 0, len(rules))
				for _, rule := range rules {
					summaries = append(summaries, ruleSummary{
						ID:            rule.ID(),
						Name:          rule.Name(),
						Description:   rule.Description(),
						Severity:      rule.Severity(),
						WindowMinutes: rule.WindowMinutes(),
					})
				}
				return outputAsJSON(summaries)
			}

			renderRulesTable(rules)
			return nil
		},
	}
}
