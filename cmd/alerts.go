package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"argus/core"
	"argus/service"

	"github.com/spf13/cobra"
)

// NewAlertsCmd creates the root alerts command with all subcommands.
func NewAlertsCmd() *cobra.Command {
	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "List and triage alerts",
		Long: `List, inspect and triage alerts.

Status changes run through the same lifecycle state machine as the HTTP
API: open -> triaged -> closed/false_positive, with reopen allowed from
every non-open state. Dismissing an alert as a false positive records the
reason for later rule tuning.`,
	}

	addCommonFlags(alertsCmd)

	alertsCmd.AddCommand(newAlertsListCmd())
	alertsCmd.AddCommand(newAlertsShowCmd())
	alertsCmd.AddCommand(newAlertsAckCmd())
	alertsCmd.AddCommand(newAlertsCloseCmd())
	alertsCmd.AddCommand(newAlertsDismissCmd())
	alertsCmd.AddCommand(newAlertsReopenCmd())

	return alertsCmd
}

// alertService builds the alert lifecycle service over the open store.
// The CLI runs without redis caching or websocket broadcast.
func alertService(b *backend) *service.AlertService {
	return service.NewAlertService(b.store.Alerts, nil, 0, nil, b.sugar)
}

// newAlertsListCmd creates the 'list' subcommand
func newAlertsListCmd() *cobra.Command {
	var (
		status   string
		ruleID   string
		severity string
		since    time.Duration
		limit    int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List alerts",
		Long:    "Display a table of alerts, newest first, optionally filtered by status, rule, severity and age.",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := core.AlertFilter{
				RuleID: ruleID,
				Limit:  limit,
			}

			if status != "" {
				filter.Status = core.AlertStatus(status)
				if !filter.Status.IsValid() {
					return fmt.Errorf("invalid status %q (valid: open, triaged, closed, false_positive)", status)
				}
			}
			if severity != "" {
				filter.Severity = core.Severity(severity)
				if !filter.Severity.IsValid() {
					return fmt.Errorf("invalid severity %q (valid: low, medium, high, critical)", severity)
				}
			}
			if since > 0 {
				filter.Since = time.Now().UTC().Add(-since)
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			alerts, err := alertService(b).List(ctx, filter)
			if err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(alerts)
			}

			renderAlertsTable(alerts)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (open, triaged, closed, false_positive)")
	cmd.Flags().StringVar(&ruleID, "rule", "", "Filter by rule id")
	cmd.Flags().StringVar(&severity, "severity", "", "Filter by severity (low, medium, high, critical)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only alerts newer than this (e.g. 24h, 30m)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of alerts to show")

	return cmd
}

// newAlertsShowCmd creates the 'show' subcommand
func newAlertsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <alert-id>",
		Short: "Show alert details",
		Long:  "Display one alert with its evidence and, when dismissed, the false-positive record.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			alert, err := alertService(b).Get(ctx, args[0])
			if err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(alert)
			}

			renderAlertDetails(alert)
			return nil
		},
	}
}

// reportTransition prints the outcome of a status change.
func reportTransition(alert *core.Alert) error {
	if outputJSON {
		return outputAsJSON(alert)
	}
	if !quiet {
		successColor.Printf("✓ Alert %s is now %s\n", shortID(alert.ID), alert.Status)
	}
	return nil
}

// newAlertsAckCmd creates the 'ack' subcommand
func newAlertsAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <alert-id>",
		Short: "Mark an alert as triaged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			alert, err := alertService(b).UpdateStatus(ctx, args[0], core.AlertStatusTriaged, "", "")
			if err != nil {
				return err
			}
			return reportTransition(alert)
		},
	}
}

// newAlertsCloseCmd creates the 'close' subcommand
func newAlertsCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <alert-id>",
		Short: "Close an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			alert, err := alertService(b).UpdateStatus(ctx, args[0], core.AlertStatusClosed, "", "")
			if err != nil {
				return err
			}
			return reportTransition(alert)
		},
	}
}

// newAlertsDismissCmd creates the 'dismiss' subcommand
func newAlertsDismissCmd() *cobra.Command {
	var (
		reason   string
		markedBy string
	)

	cmd := &cobra.Command{
		Use:   "dismiss <alert-id>",
		Short: "Dismiss an alert as a false positive",
		Long:  "Mark an alert as a false positive. The reason is recorded alongside the alert for rule tuning.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(reason) == "" {
				return fmt.Errorf("a dismissal reason is required (use --reason)")
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			alert, err := alertService(b).MarkFalsePositive(ctx, args[0], reason, markedBy)
			if err != nil {
				return err
			}
			return reportTransition(alert)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why this alert is a false positive (required)")
	cmd.Flags().StringVar(&markedBy, "by", "", "Who is dismissing the alert")
	cmd.MarkFlagRequired("reason")

	return cmd
}

// newAlertsReopenCmd creates the 'reopen' subcommand
func newAlertsReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <alert-id>",
		Short: "Reopen a closed or dismissed alert",
		Long:  "Put an alert back into the open state. Reopening clears a recorded false-positive reason.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			alert, err := alertService(b).Reopen(ctx, args[0])
			if err != nil {
				return err
			}
			return reportTransition(alert)
		},
	}
}
