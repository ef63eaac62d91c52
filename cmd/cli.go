// Package cmd provides the command-line interface for operating Argus:
// running detection sweeps, triaging alerts, managing the allowlist and
// feeding telemetry into the store without going through the HTTP API.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"argus/bootstrap"
	"argus/config"
	"argus/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Flags shared by every command family
var (
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool
)

const (
	// maxIngestFileSize caps event files read by 'events ingest' so a
	// mistyped path cannot pull gigabytes into memory.
	maxIngestFileSize = 10 * 1024 * 1024

	// defaultTimeout bounds every CLI operation.
	defaultTimeout = 5 * time.Minute
)

// addCommonFlags registers the flags every family shares. The families
// bind to the same package-level variables; only one family executes per
// process.
func addCommonFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (defaults to config.yaml in . or ./config)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	}
}

// validateFilePath rejects file arguments that escape the working
// directory, URL-decoding first so encoded traversal sequences cannot
// slip through.
func validateFilePath(filename string) error {
	decoded, err := url.QueryUnescape(filename)
	if err != nil {
		decoded = filename
	}

	if strings.Contains(decoded, "..") || strings.Contains(filename, "..") {
		return fmt.Errorf("path traversal detected: '..' not allowed in file path")
	}

	cleanPath := filepath.Clean(decoded)

	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	if !strings.HasPrefix(absPath, workDir) {
		return fmt.Errorf("path escapes current directory")
	}

	return nil
}

// backend bundles what a storage-backed command needs.
type backend struct {
	cfg   *config.Config
	store *storage.Store
	sugar *zap.SugaredLogger
}

// newCLILogger builds a stderr logger for CLI runs. Tables and spinners
// own stdout, so informational logging is suppressed.
func newCLILogger() (*zap.Logger, *zap.SugaredLogger, error) {
	level := zapcore.WarnLevel
	if quiet {
		level = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, logger.Sugar(), nil
}

// initBackend loads configuration and opens the configured storage
// backend. Returns the backend and a cleanup function.
func initBackend(ctx context.Context) (*backend, func(), error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, sugar, err := newCLILogger()
	if err != nil {
		return nil, nil, err
	}

	if err := bootstrap.EnsureDataDirectories(cfg, sugar); err != nil {
		return nil, nil, err
	}

	store, _, err := bootstrap.InitStore(ctx, cfg, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			sugar.Warnf("Failed to close storage during cleanup: %v", err)
		}
		if err := logger.Sync(); err != nil {
			// Sync errors on stderr are common and can be ignored in
			// most cases, log them at debug for troubleshooting
			sugar.Debugf("Failed to sync logger during cleanup: %v", err)
		}
	}

	return &backend{cfg: cfg, store: store, sugar: sugar}, cleanup, nil
}

// outputAsJSON writes data as indented JSON to stdout.
func outputAsJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
