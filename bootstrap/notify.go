package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"argus/config"
	"argus/core"
	"argus/notify"
)

// InitDispatcher assembles the notification channels behind the dispatch
// worker pool. The log notifier is always on; the webhook joins when a
// URL is configured.
func InitDispatcher(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*notify.Dispatcher, error) {
	notifiers := []notify.Notifier{notify.NewLogNotifier(sugar)}

	if cfg.Notify.Webhook.URL != "" {
		webhook, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:         cfg.Notify.Webhook.URL,
			Timeout:     cfg.Notify.Webhook.Timeout,
			Headers:     cfg.Notify.Webhook.Headers,
			MinSeverity: core.Severity(cfg.Notify.Webhook.MinSeverity),
		}, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize webhook notifier: %w", err)
		}
		notifiers = append(notifiers, webhook)
		sugar.Infow("Webhook notifier enabled",
			"url", cfg.Notify.Webhook.URL,
			"min_severity", cfg.Notify.Webhook.MinSeverity)
	}

	return notify.NewDispatcher(ctx, notifiers, sugar), nil
}
