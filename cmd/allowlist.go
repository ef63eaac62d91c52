package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"argus/core"
	"argus/storage"

	"github.com/spf13/cobra"
)

// NewAllowlistCmd creates the root allowlist command with all subcommands.
func NewAllowlistCmd() *cobra.Command {
	allowlistCmd := &cobra.Command{
		Use:   "allowlist",
		Short: "Manage allowlist entries",
		Long: `Manage the allowlist that suppresses alerts for known-safe sources.

An entry matches detection candidates by source IP or actor, optionally
scoped to a single rule and optionally time-limited. Suppression happens
at detection time, so entries added now only affect future sweeps.`,
	}

	addCommonFlags(allowlistCmd)

	allowlistCmd.AddCommand(newAllowlistListCmd())
	allowlistCmd.AddCommand(newAllowlistAddCmd())
	allowlistCmd.AddCommand(newAllowlistRemoveCmd())

	return allowlistCmd
}

// newAllowlistListCmd creates the 'list' subcommand
func newAllowlistListCmd() *cobra.Command {
	var includeExpired bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List allowlist entries",
		Long:    "Display allowlist entries, newest first. Expired entries are hidden unless --all is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := b.store.Allowlist.ListEntries(ctx, includeExpired)
			if err != nil {
				return fmt.Errorf("failed to list allowlist entries: %w", err)
			}

			if outputJSON {
				if entries == nil {
					entries = []core.AllowlistEntry{}
				}
				return outputAsJSON(entries)
			}

			renderAllowlistTable(entries)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&includeExpired, "all", "a", false, "Include expired entries")

	return cmd
}

// newAllowlistAddCmd creates the 'add' subcommand
func newAllowlistAddCmd() *cobra.Command {
	var (
		entryType string
		value     string
		reason    string
		ruleID    string
		expiresIn time.Duration
		createdBy string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an allowlist entry",
		Long: `Add an allowlist entry suppressing alerts for a source IP or actor.

Examples:
  argus allowlist add --type ip --value 10.0.0.5 --reason "office NAT gateway"
  argus allowlist add --type actor --value svc-backup --rule geo_anomaly \
      --expires-in 720h --reason "nightly backup job"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := &core.AllowlistEntry{
				EntryType:  core.AllowlistEntryType(entryType),
				EntryValue: strings.TrimSpace(value),
				Reason:     strings.TrimSpace(reason),
				RuleID:     ruleID,
				CreatedBy:  createdBy,
			}
			if expiresIn > 0 {
				expires := time.Now().UTC().Add(expiresIn)
				entry.ExpiresAt = &expires
			}

			// Validate before opening the store so flag mistakes fail fast.
			if err := entry.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := b.store.Allowlist.InsertEntry(ctx, entry); err != nil {
				return fmt.Errorf("failed to add allowlist entry: %w", err)
			}

			if outputJSON {
				return outputAsJSON(entry)
			}

			if !quiet {
				scope := entry.RuleID
				if scope == "" {
					scope = "all rules"
				}
				successColor.Printf("✓ Allowlist entry added: %s %s (%s)\n", entry.EntryType, entry.EntryValue, scope)
				fmt.Printf("  ID: %s\n", entry.ID)
				if entry.ExpiresAt != nil {
					fmt.Printf("  Expires: %s\n", formatTime(*entry.ExpiresAt))
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&entryType, "type", "t", "", "Entry type: ip or actor (required)")
	cmd.Flags().StringVar(&value, "value", "", "IP address or actor name to suppress (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Why this source is safe (required)")
	cmd.Flags().StringVar(&ruleID, "rule", "", "Limit suppression to one rule id (default: all rules)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Expire the entry after this duration (e.g. 720h)")
	cmd.Flags().StringVar(&createdBy, "by", "", "Who is adding the entry")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("value")
	cmd.MarkFlagRequired("reason")

	return cmd
}

// newAllowlistRemoveCmd creates the 'remove' subcommand
func newAllowlistRemoveCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "remove <entry-id>",
		Aliases: []string{"rm"},
		Short:   "Remove an allowlist entry",
		Long:    "Remove an allowlist entry. Alerts for the source resume on the next detection sweep.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			entryID := args[0]

			// Look up the entry so the confirmation shows what is being removed.
			entries, err := b.store.Allowlist.ListEntries(ctx, true)
			if err != nil {
				return fmt.Errorf("failed to load allowlist entries: %w", err)
			}
			var target *core.AllowlistEntry
			for i := range entries {
				if entries[i].ID == entryID {
					target = &entries[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("allowlist entry not found: %s", entryID)
			}

			// Confirm removal unless force flag is set
			if !force {
				fmt.Printf("Remove allowlist entry %s %q (ID: %s)? [y/N]: ", target.EntryType, target.EntryValue, entryID)
				var response string
				_, err = fmt.Scanln(&response)
				if err != nil {
					// Treat empty input or EOF as "no"
					if err.Error() == "unexpected newline" || err.Error() == "EOF" {
						fmt.Println("\nRemoval cancelled")
						return nil
					}
					return fmt.Errorf("failed to read confirmation: %w", err)
				}
				if strings.ToLower(response) != "y" && strings.ToLower(response) != "yes" {
					fmt.Println("Removal cancelled")
					return nil
				}
			}

			if err := b.store.Allowlist.DeleteEntry(ctx, entryID); err != nil {
				if errors.Is(err, storage.ErrAllowlistEntryNotFound) {
					return fmt.Errorf("allowlist entry not found: %s", entryID)
				}
				return fmt.Errorf("failed to remove allowlist entry: %w", err)
			}

			if !quiet {
				successColor.Printf("✓ Allowlist entry removed: %s %s\n", target.EntryType, target.EntryValue)
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}
