package bootstrap

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"argus/config"
)

// InitConfig loads the application configuration. The logger does not
// exist yet at this point, so failures also print to stderr.
func InitConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// InitLogger builds the zap logger from the logging config. Development
// mode uses a colored console encoder, production mode structured JSON.
func InitLogger(cfg config.LoggingConfig) (*zap.Logger, *zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var encoder zapcore.Encoder
	if cfg.Development {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	zapCore := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	logger := zap.New(zapCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// LogStartupInfo records the effective configuration highlights at boot.
func LogStartupInfo(cfg *config.Config, sugar *zap.SugaredLogger) {
	sugar.Infow("Config loaded",
		"listen_addr", cfg.Server.Addr(),
		"storage_backend", cfg.Storage.Backend,
		"redis_enabled", cfg.Redis.Enabled,
		"auth_enabled", cfg.Auth.Enabled,
		"dedup_window", cfg.Detection.DedupWindow(),
		"detection_schedule", cfg.Detection.Schedule)

	if !cfg.Auth.Enabled {
		sugar.Warn("Authentication is disabled, mutating endpoints accept anonymous callers")
	}
}
