// Package notify delivers generated alerts to their configured
// destinations. Delivery is best-effort: a failing destination never blocks
// detection or ingestion.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"argus/core"
	"argus/util"
)

// ErrNotificationSkipped marks deliveries that were intentionally not
// attempted, such as alerts below a notifier's severity floor or a tripped
// circuit breaker. Skips are not failures.
var ErrNotificationSkipped = errors.New("notification skipped")

// Notifier delivers one alert to one destination.
type Notifier interface {
	// Name identifies the notifier in logs and metrics.
	Name() string
	// Notify delivers the alert. A wrapped ErrNotificationSkipped means
	// delivery was deliberately withheld.
	Notify(ctx context.Context, alert *core.Alert) error
}

// ============================================================================
// LOG NOTIFIER
// ============================================================================

// LogNotifier writes every alert to the structured log. It is always wired
// so that a deployment with no external destinations still records what
// detection produced.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

// NewLogNotifier panics if logger is nil.
func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	if logger == nil {
		panic("NewLogNotifier: logger is required")
	}
	return &LogNotifier{logger: logger}
}

// Name implements Notifier.
func (n *LogNotifier) Name() string {
	return "log"
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, alert *core.Alert) error {
	n.logger.Infow("Alert generated",
		"alert_id", alert.ID,
		"rule_id", alert.RuleID,
		"severity", alert.Severity.String(),
		"summary", alert.Summary,
		"alert_time", alert.AlertTime)
	return nil
}

// ============================================================================
// WEBHOOK NOTIFIER
// ============================================================================

const (
	defaultWebhookTimeout = 10 * time.Second
	webhookRetryBackoff   = 250 * time.Millisecond
	webhookUserAgent      = "argus/1.0"
)

// WebhookConfig describes one outbound webhook destination.
type WebhookConfig struct {
	// URL receives a JSON POST per alert. Required, http or https.
	URL string
	// Timeout bounds each HTTP attempt. Defaults to 10s.
	Timeout time.Duration
	// Headers are added to every request, e.g. an Authorization token.
	Headers map[string]string
	// MinSeverity suppresses alerts below this level. Empty means all
	// severities are delivered.
	MinSeverity core.Severity
}

// WebhookNotifier POSTs alerts as JSON to a configured endpoint. A failed
// delivery is retried once; repeated failures trip a circuit breaker so a
// dead endpoint stops consuming dispatch capacity.
type WebhookNotifier struct {
	cfg     WebhookConfig
	client  *http.Client
	breaker *core.CircuitBreaker
	logger  *zap.SugaredLogger
}

// NewWebhookNotifier validates cfg and builds the notifier.
func NewWebhookNotifier(cfg WebhookConfig, logger *zap.SugaredLogger) (*WebhookNotifier, error) {
	if logger == nil {
		panic("NewWebhookNotifier: logger is required")
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid webhook URL: scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("invalid webhook URL: missing host")
	}
	if cfg.MinSeverity != "" && !cfg.MinSeverity.IsValid() {
		return nil, fmt.Errorf("invalid webhook min severity: %q", cfg.MinSeverity)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}

	return &WebhookNotifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		breaker: core.MustNewCircuitBreaker(core.CircuitBreakerConfig{
			MaxFailures: 3,
			Cooldown:    60 * time.Second,
			MaxProbes:   1,
		}),
		logger: logger,
	}, nil
}

// Name implements Notifier.
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Notify implements Notifier. One delivery is one circuit breaker outcome
// regardless of how many HTTP attempts it took.
func (n *WebhookNotifier) Notify(ctx context.Context, alert *core.Alert) error {
	if n.cfg.MinSeverity != "" && alert.Severity.Rank() < n.cfg.MinSeverity.Rank() {
		return fmt.Errorf("%w: severity %s below webhook floor %s",
			ErrNotificationSkipped, alert.Severity, n.cfg.MinSeverity)
	}

	body, err := json.Marshal(webhookPayload(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	if err := n.breaker.Allow(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotificationSkipped, err)
	}

	err = n.send(ctx, body)
	if err != nil {
		select {
		case <-ctx.Done():
			// Do not retry a delivery the caller already gave up on.
		case <-time.After(webhookRetryBackoff):
			err = n.send(ctx, body)
		}
	}

	if err != nil {
		prev, next := n.breaker.RecordFailure()
		if next == core.CircuitBreakerOpen && prev != core.CircuitBreakerOpen {
			n.logger.Warnw("Webhook circuit breaker opened",
				"url", util.RedactURL(n.cfg.URL),
				"failures", n.breaker.Failures())
		}
		return fmt.Errorf("webhook delivery failed for alert %s: %w", alert.ID, err)
	}

	prev, next := n.breaker.RecordSuccess()
	if prev != next {
		n.logger.Infow("Webhook circuit breaker closed", "url", util.RedactURL(n.cfg.URL))
	}
	return nil
}

func (n *WebhookNotifier) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	for key, value := range n.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		// url.Error renders the full request URL, and webhook providers
		// put per-destination tokens in the path. Keep the cause, drop
		// the URL.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("failed to send webhook to %s: %w", util.RedactURL(n.cfg.URL), err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			n.logger.Debugw("Failed to close webhook response body", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// webhookPayload is the wire shape receivers see. Evidence is passed through
// untouched so receivers get the same detail the API serves.
func webhookPayload(alert *core.Alert) map[string]interface{} {
	return map[string]interface{}{
		"alert_id":     alert.ID,
		"rule_id":      alert.RuleID,
		"severity":     alert.Severity,
		"status":       alert.Status,
		"summary":      alert.Summary,
		"alert_time":   alert.AlertTime,
		"window_start": alert.WindowStart,
		"window_end":   alert.WindowEnd,
		"evidence":     alert.Evidence,
	}
}
