package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"argus/config"
	"argus/ingest"
	"argus/storage"
)

// InitNormalizer builds the field normalizer, extended by the optional
// mappings file. A broken mappings file logs a warning and keeps the
// built-in synonym chains.
func InitNormalizer(cfg *config.Config, sugar *zap.SugaredLogger) *ingest.Normalizer {
	normalizer := ingest.NewNormalizer(sugar)

	if cfg.Ingest.MappingsFile == "" {
		return normalizer
	}

	overrides, err := ingest.LoadMappingOverrides(cfg.Ingest.MappingsFile)
	if err != nil {
		sugar.Warnw("Failed to load field mapping overrides, using built-in chains",
			"file", cfg.Ingest.MappingsFile,
			"error", err)
		return normalizer
	}

	normalizer.ApplyOverrides(overrides)
	sugar.Infow("Field mapping overrides applied", "file", cfg.Ingest.MappingsFile)
	return normalizer
}

// InitIngest builds the batch ingestion service over the event store.
func InitIngest(store *storage.Store, normalizer *ingest.Normalizer, cfg *config.Config, sugar *zap.SugaredLogger) (*ingest.Service, error) {
	svc, err := ingest.NewService(store.Events, normalizer, cfg.Ingest.MaxBatch, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ingest service: %w", err)
	}
	return svc, nil
}
