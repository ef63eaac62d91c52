package ingest

import (
	"context"
	"errors"
	"fmt"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// DefaultMaxBatch is the default maximum number of items per ingest batch
const DefaultMaxBatch = 1000

// ErrBatchTooLarge is returned when a batch exceeds the configured limit
var ErrBatchTooLarge = errors.New("batch exceeds maximum size")

// EventStoreInterface is the slice of event persistence the ingestion
// service needs. The batch insert is atomic: either every event in the
// slice is durable or none is.
type EventStoreInterface interface {
	InsertEvents(ctx context.Context, events []*core.Event) error
}

// BatchResult reports the outcome of one ingest batch. EventIDs holds the
// ids of accepted events in input order; Errors holds the per-item
// rejections that did not abort the batch.
type BatchResult struct {
	Ingested int
	EventIDs []string
	Errors   []*core.ValidationError
}

// Service normalizes and persists batches of raw events
type Service struct {
	store      EventStoreInterface
	normalizer *Normalizer
	maxBatch   int
	logger     *zap.SugaredLogger
}

// NewService creates an ingestion service. maxBatch <= 0 selects the
// default limit.
func NewService(store EventStoreInterface, normalizer *Normalizer, maxBatch int, logger *zap.SugaredLogger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if normalizer == nil {
		return nil, fmt.Errorf("normalizer is required")
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Service{
		store:      store,
		normalizer: normalizer,
		maxBatch:   maxBatch,
		logger:     logger,
	}, nil
}

// IngestBatch normalizes each item and persists the batch atomically.
// Items that are not field maps are rejected individually without
// aborting their siblings; a storage failure rolls back the whole batch
// and reports zero accepted.
func (s *Service) IngestBatch(ctx context.Context, items []interface{}) (*BatchResult, error) {
	if len(items) > s.maxBatch {
		return nil, fmt.Errorf("%w: %d items, limit %d", ErrBatchTooLarge, len(items), s.maxBatch)
	}

	metrics.IngestBatchSize.Observe(float64(len(items)))

	result := &BatchResult{}
	events := make([]*core.Event, 0, len(items))

	for idx, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			verr := &core.ValidationError{Index: idx, Reason: fmt.Sprintf("expected an object, got %T", item)}
			result.Errors = append(result.Errors, verr)
			metrics.EventsRejected.WithLabelValues("not_an_object").Inc()
			continue
		}

		event := s.normalizer.Normalize(obj)
		events = append(events, event)
		result.EventIDs = append(result.EventIDs, event.ID)
	}

	if len(events) > 0 {
		if err := s.store.InsertEvents(ctx, events); err != nil {
			s.logger.Errorw("Batch insert failed, rolling back", "events", len(events), "error", err)
			return nil, &core.StorageError{Op: "insert events", Err: err}
		}
	}

	result.Ingested = len(events)
	metrics.EventsIngested.WithLabelValues("api").Add(float64(len(events)))

	s.logger.Debugw("Batch ingested", "accepted", result.Ingested, "rejected", len(result.Errors))
	return result, nil
}
