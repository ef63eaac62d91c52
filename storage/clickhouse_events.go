package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ClickHouseEventStorageConfig tunes the async batch writer
type ClickHouseEventStorageConfig struct {
	BatchSize      int           // Events per insert batch (default 10000)
	FlushInterval  time.Duration // Max age of a partial batch (default 5s)
	QueueSize      int           // Buffered channel capacity (default 50000)
	DedupCacheSize int           // LRU size for event-id dedup (default 65536)
}

// ClickHouseEventStorage implements EventStorageInterface on ClickHouse
// with an asynchronous batch writer. InsertEvents enqueues; background
// workers batch by size and flush interval. Reads see a batch only after
// it has flushed, which detection sweeps tolerate since they run on a
// schedule measured in minutes.
type ClickHouseEventStorage struct {
	clickhouse    *ClickHouse
	batchSize     int
	flushInterval time.Duration
	eventCh       chan *core.Event
	wg            sync.WaitGroup
	dedupCache    *lru.Cache[string, bool]
	logger        *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClickHouseEventStorage creates the batch writer. Call Start to
// launch workers and Stop to drain them.
func NewClickHouseEventStorage(parentCtx context.Context, clickhouse *ClickHouse, cfg ClickHouseEventStorageConfig, logger *zap.SugaredLogger) (*ClickHouseEventStorage, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10000
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 50000
	}
	dedupSize := cfg.DedupCacheSize
	if dedupSize <= 0 {
		dedupSize = 65536
	}

	dedupCache, err := lru.New[string, bool](dedupSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	ctx, cancel := context.WithCancel(parentCtx)

	return &ClickHouseEventStorage{
		clickhouse:    clickhouse,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		eventCh:       make(chan *core.Event, queueSize),
		dedupCache:    dedupCache,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the batch workers
func (ces *ClickHouseEventStorage) Start(numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	ces.logger.Infof("Starting %d ClickHouse event batch workers", numWorkers)
	for i := 0; i < numWorkers; i++ {
		ces.wg.Add(1)
		workerID := i
		go ces.worker(workerID)
	}
}

// InsertEvents enqueues events for asynchronous persistence. Events whose
// id was seen recently are silently skipped. Blocks for backpressure when
// the queue is full rather than dropping; a cancelled ctx aborts the wait.
func (ces *ClickHouseEventStorage) InsertEvents(ctx context.Context, events []*core.Event) error {
	for _, event := range events {
		if _, seen := ces.dedupCache.Get(event.ID); seen {
			ces.logger.Debugw("Event deduplicated", "event_id", event.ID)
			continue
		}
		ces.dedupCache.Add(event.ID, true)

		select {
		case ces.eventCh <- event:
		case <-ctx.Done():
			return ctx.Err()
		case <-ces.ctx.Done():
			return fmt.Errorf("event storage is shutting down")
		}
	}
	return nil
}

// worker accumulates events into batches and flushes on size or interval
func (ces *ClickHouseEventStorage) worker(workerID int) {
	defer ces.wg.Done()
	defer goroutine.Recover("clickhouse-event-worker", ces.logger)

	batch := make([]*core.Event, 0, ces.batchSize)
	flushTicker := time.NewTicker(ces.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case event := <-ces.eventCh:
			batch = append(batch, event)
			if len(batch) >= ces.batchSize {
				ces.flush(ces.ctx, batch, workerID)
				batch = batch[:0]
				flushTicker.Reset(ces.flushInterval)
			}

		case <-flushTicker.C:
			if len(batch) > 0 {
				ces.flush(ces.ctx, batch, workerID)
				batch = batch[:0]
			}

		case <-ces.ctx.Done():
			// Drain whatever is still queued, then flush with a fresh
			// timeout context since the parent is already cancelled
			for drained := false; !drained; {
				select {
				case event := <-ces.eventCh:
					batch = append(batch, event)
				default:
					drained = true
				}
			}
			if len(batch) > 0 {
				ces.logger.Infof("ClickHouse worker %d shutting down, flushing %d events", workerID, len(batch))
				flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				ces.flush(flushCtx, batch, workerID)
				cancel()
			}
			ces.logger.Infof("ClickHouse worker %d stopped", workerID)
			return
		}
	}
}

// flush writes one batch, retrying once before dropping it. Failures are
// accounted in metrics so lost events are visible.
func (ces *ClickHouseEventStorage) flush(ctx context.Context, batch []*core.Event, workerID int) {
	err := ces.insertBatch(ctx, batch)
	if err != nil {
		ces.logger.Warnw("ClickHouse batch insert failed, retrying once",
			"error", err,
			"event_count", len(batch),
			"worker_id", workerID)
		time.Sleep(500 * time.Millisecond)
		err = ces.insertBatch(ctx, batch)
	}

	if err != nil {
		metrics.EventBatchFlushes.WithLabelValues("error").Inc()
		metrics.EventBatchDropped.Add(float64(len(batch)))
		ces.logger.Errorw("Dropping event batch after retry failure",
			"error", err,
			"event_count", len(batch),
			"worker_id", workerID)
		return
	}

	metrics.EventBatchFlushes.WithLabelValues("ok").Inc()
}

// insertBatch inserts a batch of events using the ClickHouse batch API
func (ces *ClickHouseEventStorage) insertBatch(ctx context.Context, batch []*core.Event) error {
	if ces.clickhouse == nil || ces.clickhouse.Conn == nil {
		return fmt.Errorf("clickhouse connection not available")
	}

	start := time.Now()

	prepareBatch, err := ces.clickhouse.Conn.PrepareBatch(ctx, `
		INSERT INTO events (
			id, timestamp, actor, source_ip, user_agent, action,
			resource, outcome, request_id, raw_data, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	now := time.Now().UTC()
	for i, event := range batch {
		// Check cancellation periodically on large batches
		if i > 0 && i%1000 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		rawJSON := ""
		if event.RawData != nil {
			if data, err := json.Marshal(event.RawData); err == nil {
				rawJSON = string(data)
			}
		}

		err := prepareBatch.Append(
			event.ID,
			event.Timestamp.UTC(),
			event.Actor,
			event.SourceIP,
			event.UserAgent,
			event.Action,
			event.Resource,
			event.Outcome,
			event.RequestID,
			rawJSON,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to append event %s: %w", event.ID, err)
		}
	}

	if err := prepareBatch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	duration := time.Since(start)
	ces.logger.Debugf("Inserted %d events in %v (%.0f events/sec)",
		len(batch), duration, float64(len(batch))/duration.Seconds())

	return nil
}

// EventsInWindow returns events with from <= timestamp <= to, ascending
// by timestamp. Only flushed batches are visible.
func (ces *ClickHouseEventStorage) EventsInWindow(ctx context.Context, from, to time.Time) ([]*core.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := `
		SELECT id, timestamp, actor, source_ip, user_agent, action,
			   resource, outcome, request_id, raw_data
		FROM events
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := ces.clickhouse.Conn.Query(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*core.Event{}
	for rows.Next() {
		event := &core.Event{}
		var rawJSON string

		err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&event.Actor,
			&event.SourceIP,
			&event.UserAgent,
			&event.Action,
			&event.Resource,
			&event.Outcome,
			&event.RequestID,
			&rawJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.Timestamp = event.Timestamp.UTC()
		if rawJSON != "" {
			if err := json.Unmarshal([]byte(rawJSON), &event.RawData); err != nil {
				return nil, fmt.Errorf("failed to unmarshal raw data: %w", err)
			}
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

// CountEvents returns the total number of stored events
func (ces *ClickHouseEventStorage) CountEvents(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var count uint64
	err := ces.clickhouse.Conn.QueryRow(ctx, "SELECT count() FROM events").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	return int64(count), nil
}

// Stop signals workers to drain and waits for them, up to a deadline
func (ces *ClickHouseEventStorage) Stop() error {
	if ces.cancel != nil {
		ces.cancel()
	}

	done := make(chan struct{})
	go func() {
		defer goroutine.Recover("clickhouse-event-shutdown", ces.logger)
		ces.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ces.logger.Info("All ClickHouse event workers stopped gracefully")
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("graceful shutdown timeout: event workers did not stop within 30s")
	}
}

var _ EventStorageInterface = (*ClickHouseEventStorage)(nil)
