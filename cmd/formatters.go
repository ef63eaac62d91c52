package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"argus/core"
	"argus/detect"
	"argus/ingest"

	"github.com/fatih/color"
)

// renderAlertsTable displays alerts in a formatted table
func renderAlertsTable(alerts []*core.Alert) {
	if len(alerts) == 0 {
		warningColor.Println("No alerts found")
		return
	}

	headerColor.Println("ALERTS")
	headerColor.Println(strings.Repeat("=", 120))
	fmt.Printf("%-10s %-22s %-10s %-15s %-14s %s\n",
		"ID", "Rule", "Severity", "Status", "Age", "Summary")
	fmt.Println(strings.Repeat("-", 120))

	for _, alert := range alerts {
		fmt.Printf("%-10s %-22s %-10s %-15s %-14s %s\n",
			shortID(alert.ID),
			truncate(alert.RuleID, 21),
			alert.Severity,
			alert.Status,
			formatTimeSince(alert.AlertTime),
			truncate(alert.Summary, 45))
	}

	fmt.Println(strings.Repeat("=", 120))
	fmt.Printf("\nTotal alerts: %d\n", len(alerts))
}

// renderAlertDetails displays one alert with its evidence
func renderAlertDetails(alert *core.Alert) {
	headerColor.Println("═══════════════════════════════════════════════════════════════")
	headerColor.Printf("  Alert: %s\n", alert.ID)
	headerColor.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()

	printSection("Basic Information")
	printField("ID", alert.ID)
	printField("Rule", alert.RuleID)
	printField("Severity", formatSeverity(alert.Severity))
	printField("Status", formatAlertStatus(alert.Status))
	printField("Summary", alert.Summary)
	fmt.Println()

	printSection("Detection Window")
	printField("Alert Time", formatTime(alert.AlertTime))
	if !alert.WindowStart.IsZero() {
		printField("Window Start", formatTime(alert.WindowStart))
	}
	if !alert.WindowEnd.IsZero() {
		printField("Window End", formatTime(alert.WindowEnd))
	}
	fmt.Println()

	if len(alert.Evidence) > 0 {
		printSection("Evidence")
		keys := make([]string, 0, len(alert.Evidence))
		for k := range alert.Evidence {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			printField(k, fmt.Sprintf("%v", alert.Evidence[k]))
		}
		fmt.Println()
	}

	if alert.FalsePositive != nil {
		printSection("False Positive")
		printField("Reason", alert.FalsePositive.Reason)
		printField("Marked By", alert.FalsePositive.MarkedBy)
		printField("Marked At", formatTime(alert.FalsePositive.MarkedAt))
		fmt.Println()
	}

	printSection("Timestamps")
	printField("Created At", formatTime(alert.CreatedAt))
	printField("Updated At", formatTime(alert.UpdatedAt))
	fmt.Println()
}

// renderAllowlistTable displays allowlist entries in a formatted table
func renderAllowlistTable(entries []core.AllowlistEntry) {
	if len(entries) == 0 {
		warningColor.Println("No allowlist entries")
		return
	}

	headerColor.Println("ALLOWLIST")
	headerColor.Println(strings.Repeat("=", 120))
	fmt.Printf("%-10s %-7s %-24s %-22s %-18s %s\n",
		"ID", "Type", "Value", "Scope", "Expires", "Reason")
	fmt.Println(strings.Repeat("-", 120))

	now := time.Now().UTC()
	for i := range entries {
		entry := &entries[i]

		scope := "all rules"
		if entry.RuleID != "" {
			scope = entry.RuleID
		}

		expires := "never"
		if entry.ExpiresAt != nil {
			expires = formatTime(*entry.ExpiresAt)
			if entry.IsExpired(now) {
				expires = "expired"
			}
		}

		fmt.Printf("%-10s %-7s %-24s %-22s %-18s %s\n",
			shortID(entry.ID),
			entry.EntryType,
			truncate(entry.EntryValue, 23),
			truncate(scope, 21),
			expires,
			truncate(entry.Reason, 35))
	}

	fmt.Println(strings.Repeat("=", 120))
	fmt.Printf("\nTotal entries: %d\n", len(entries))
}

// renderRulesTable displays the registered detection rules
func renderRulesTable(rules []detect.Rule) {
	headerColor.Println("DETECTION RULES")
	headerColor.Println(strings.Repeat("=", 120))
	fmt.Printf("%-24s %-28s %-10s %-8s %s\n",
		"ID", "Name", "Severity", "Window", "Description")
	fmt.Println(strings.Repeat("-", 120))

	for _, rule := range rules {
		fmt.Printf("%-24s %-28s %-10s %-8s %s\n",
			rule.ID(),
			truncate(rule.Name(), 27),
			rule.Severity(),
			fmt.Sprintf("%dm", rule.WindowMinutes()),
			truncate(rule.Description(), 45))
	}

	fmt.Println(strings.Repeat("=", 120))
}

// renderSweepResult displays the outcome of one detection sweep
func renderSweepResult(result *detect.RunResult) {
	successColor.Printf("✓ Sweep complete\n")
	fmt.Printf("  Rules executed: %d\n", len(result.RulesExecuted))
	fmt.Printf("  Alerts generated: %d\n", result.AlertsGenerated)
	fmt.Printf("  Duration: %.1fms\n", result.ExecutionTimeMS)

	if len(result.Alerts) == 0 {
		return
	}

	fmt.Println()
	headerColor.Println("NEW ALERTS")
	for _, alert := range result.Alerts {
		severityColor(alert.Severity).Printf("  [%s]", alert.Severity)
		fmt.Printf(" %s  %s  %s\n", shortID(alert.ID), alert.RuleID, truncate(alert.Summary, 70))
	}
}

// renderBatchResult displays an ingestion result, listing the first few
// per-item rejects.
func renderBatchResult(result *ingest.BatchResult) {
	const maxShownErrors = 10

	if len(result.Errors) == 0 {
		successColor.Printf("✓ Ingested %d events\n", result.Ingested)
		return
	}

	warningColor.Printf("⚠ Ingested %d events, rejected %d\n", result.Ingested, len(result.Errors))
	for i, verr := range result.Errors {
		if i >= maxShownErrors {
			fmt.Printf("  ... and %d more\n", len(result.Errors)-maxShownErrors)
			break
		}
		errorColor.Printf("  ✗ item %d: %s\n", verr.Index, verr.Reason)
	}
}

// printSection prints a section header
func printSection(title string) {
	headerColor.Printf("  %s\n", title)
	headerColor.Println("  " + strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Printf("  %-25s %s\n", key+":", value)
}

// severityColor maps a severity to its display color
func severityColor(s core.Severity) *color.Color {
	switch s {
	case core.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case core.SeverityHigh:
		return color.New(color.FgRed)
	case core.SeverityMedium:
		return color.New(color.FgYellow)
	case core.SeverityLow:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

// formatSeverity returns a colored severity string for detail views
func formatSeverity(s core.Severity) string {
	return severityColor(s).Sprint(string(s))
}

// formatAlertStatus returns a colored status string for detail views
func formatAlertStatus(s core.AlertStatus) string {
	switch s {
	case core.AlertStatusOpen:
		return color.New(color.FgRed).Sprint("open")
	case core.AlertStatusTriaged:
		return color.New(color.FgCyan).Sprint("triaged")
	case core.AlertStatusClosed:
		return color.New(color.FgGreen).Sprint("closed")
	case core.AlertStatusFalsePositive:
		return color.New(color.FgYellow).Sprint("false_positive")
	default:
		return string(s)
	}
}

// shortID returns the first 8 characters of a UUID for table display
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens a string to at most n characters
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// formatTime formats a timestamp for display
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// formatTimeSince formats time elapsed since a timestamp
func formatTimeSince(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}

	duration := time.Since(t)
	if duration < time.Minute {
		return fmt.Sprintf("%ds ago", int(duration.Seconds()))
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	}
	if duration < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}
