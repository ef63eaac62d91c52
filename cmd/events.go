package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"argus/bootstrap"
	"argus/core"
	"argus/ingest"
	"argus/service"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// NewEventsCmd creates the root events command with all subcommands.
func NewEventsCmd() *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Ingest and inspect telemetry events",
		Long: `Ingest telemetry events into the store without going through the HTTP API.

Events ingested here pass through the same normalizer and validation as
the /api/v1/events endpoint, so field synonyms, timestamp formats and
per-item rejects behave identically.`,
	}

	addCommonFlags(eventsCmd)

	eventsCmd.AddCommand(newEventsSeedCmd())
	eventsCmd.AddCommand(newEventsIngestCmd())
	eventsCmd.AddCommand(newEventsCountCmd())

	return eventsCmd
}

// eventService builds the ingestion service over the open store.
func eventService(b *backend) (*service.EventService, error) {
	normalizer := bootstrap.InitNormalizer(b.cfg, b.sugar)
	ingestor, err := bootstrap.InitIngest(b.store, normalizer, b.cfg, b.sugar)
	if err != nil {
		return nil, err
	}
	return service.NewEventService(ingestor, b.sugar), nil
}

// newEventsSeedCmd creates the 'seed' subcommand
func newEventsSeedCmd() *cobra.Command {
	var (
		count        int
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the store with demo telemetry",
		Long: `Generate synthetic telemetry and push it through the ingest pipeline.

The stream opens with attack-shaped scenarios that trip every detection
rule, padded with benign background traffic. Useful for demos and for
exercising a fresh deployment end to end.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := eventService(b)
			if err != nil {
				return err
			}

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = fmt.Sprintf(" Seeding %d events...", count)
				s.Start()
			}

			result, err := events.Seed(ctx, count)

			if s != nil {
				s.Stop()
			}

			if err != nil {
				return fmt.Errorf("seeding failed: %w", err)
			}

			if outputJSON {
				return outputAsJSON(result)
			}

			renderBatchResult(result)
			if !quiet {
				infoColor.Println("\nRun 'argus detections run' to evaluate the rules over the seeded events.")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "c", 500, "Number of events to generate")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")

	return cmd
}

// newEventsIngestCmd creates the 'ingest' subcommand
func newEventsIngestCmd() *cobra.Command {
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest events from a file",
		Long: `Read events from a JSON file and push them through the ingest pipeline.

The file may hold a JSON array of event objects, a single event object,
or newline-delimited JSON (one object per line). Batches larger than the
configured ingest limit are split automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename := args[0]
			if err := validateFilePath(filename); err != nil {
				return err
			}

			info, err := os.Stat(filename)
			if err != nil {
				return fmt.Errorf("failed to stat file: %w", err)
			}
			if info.Size() > maxIngestFileSize {
				return fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxIngestFileSize)
			}

			data, err := os.ReadFile(filename)
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}

			items, err := parseEventFile(data)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				warningColor.Println("No events found in file")
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := eventService(b)
			if err != nil {
				return err
			}

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = fmt.Sprintf(" Ingesting %d events...", len(items))
				s.Start()
			}

			result, err := ingestInChunks(ctx, events, items, b.cfg.Ingest.MaxBatch)

			if s != nil {
				s.Stop()
			}

			if err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}

			if outputJSON {
				return outputAsJSON(result)
			}

			renderBatchResult(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")

	return cmd
}

// parseEventFile decodes a JSON array, a single object, or NDJSON.
func parseEventFile(data []byte) ([]interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		items, err := ingest.DecodeJSONBatch(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		return items, nil
	case '{':
		// A single pretty-printed object spans lines, so try the whole
		// file first and fall back to line-by-line NDJSON.
		var single map[string]interface{}
		if err := json.Unmarshal(trimmed, &single); err == nil {
			return []interface{}{single}, nil
		}
		return parseNDJSON(trimmed)
	default:
		return nil, fmt.Errorf("file must contain a JSON array, a JSON object, or newline-delimited JSON")
	}
}

// parseNDJSON decodes one event object per line, reporting the first bad
// line by number.
func parseNDJSON(data []byte) ([]interface{}, error) {
	var items []interface{}
	for i, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var item interface{}
		if err := json.Unmarshal(line, &item); err != nil {
			return nil, fmt.Errorf("line %d: invalid JSON: %w", i+1, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// ingestInChunks splits items into store-sized batches and aggregates the
// per-batch results, re-basing reject indices onto the original file order.
func ingestInChunks(ctx context.Context, events *service.EventService, items []interface{}, maxBatch int) (*ingest.BatchResult, error) {
	if maxBatch <= 0 {
		maxBatch = ingest.DefaultMaxBatch
	}

	total := &ingest.BatchResult{}
	for start := 0; start < len(items); start += maxBatch {
		end := start + maxBatch
		if end > len(items) {
			end = len(items)
		}

		result, err := events.Ingest(ctx, items[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch starting at item %d failed: %w", start, err)
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
	return total, nil
}

// newEventsCountCmd creates the 'count' subcommand
func newEventsCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count stored events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			count, err := b.store.Events.CountEvents(ctx)
			if err != nil {
				return fmt.Errorf("failed to count events: %w", err)
			}

			if outputJSON {
				return outputAsJSON(map[string]int64{"count": count})
			}

			fmt.Printf("Total events: %d\n", count)
			return nil
		},
	}
}
