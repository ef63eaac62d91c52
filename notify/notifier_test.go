package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
)

func testAlert() *core.Alert {
	return &core.Alert{
		ID:        "al-1",
		RuleID:    "brute_force",
		Severity:  core.SeverityHigh,
		Status:    core.AlertStatusOpen,
		Summary:   "6 failed logins for alice from 203.0.113.7",
		Evidence:  map[string]interface{}{"failure_count": 6},
		AlertTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(zap.NewNop().Sugar())
	assert.Equal(t, "log", n.Name())
	assert.NoError(t, n.Notify(context.Background(), testAlert()))
}

func TestNewWebhookNotifier_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     WebhookConfig
		wantErr string
	}{
		{
			name:    "missing scheme",
			cfg:     WebhookConfig{URL: "localhost/hook"},
			wantErr: "scheme must be http or https",
		},
		{
			name:    "unsupported scheme",
			cfg:     WebhookConfig{URL: "ftp://hooks.example.com/argus"},
			wantErr: "scheme must be http or https",
		},
		{
			name:    "missing host",
			cfg:     WebhookConfig{URL: "https://"},
			wantErr: "missing host",
		},
		{
			name:    "unknown min severity",
			cfg:     WebhookConfig{URL: "https://hooks.example.com/argus", MinSeverity: "urgent"},
			wantErr: "invalid webhook min severity",
		},
		{
			name: "valid",
			cfg:  WebhookConfig{URL: "https://hooks.example.com/argus", MinSeverity: core.SeverityHigh},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewWebhookNotifier(tt.cfg, zap.NewNop().Sugar())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "webhook", n.Name())
		})
	}
}

func TestWebhookNotifier_DeliversPayload(t *testing.T) {
	var received map[string]interface{}
	var contentType, authHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer hook-token"},
	}, zap.NewNop().Sugar())
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), testAlert()))

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "Bearer hook-token", authHeader)
	assert.Equal(t, "al-1", received["alert_id"])
	assert.Equal(t, "brute_force", received["rule_id"])
	assert.Equal(t, "high", received["severity"])
	assert.Equal(t, float64(6), received["evidence"].(map[string]interface{})["failure_count"])
}

func TestWebhookNotifier_RetriesOnce(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL}, zap.NewNop().Sugar())
	require.NoError(t, err)

	assert.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.Equal(t, int64(2), requests.Load())
}

func TestWebhookNotifier_Non2xxIsError(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL}, zap.NewNop().Sugar())
	require.NoError(t, err)

	err = n.Notify(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-2xx")
	assert.Equal(t, int64(2), requests.Load(), "one delivery is the initial attempt plus one retry")
}

func TestWebhookNotifier_SeverityFloor(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{
		URL:         srv.URL,
		MinSeverity: core.SeverityHigh,
	}, zap.NewNop().Sugar())
	require.NoError(t, err)

	low := testAlert()
	low.Severity = core.SeverityLow
	err = n.Notify(context.Background(), low)
	assert.ErrorIs(t, err, ErrNotificationSkipped)
	assert.Equal(t, int64(0), requests.Load())

	// At the floor still delivers.
	assert.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.Equal(t, int64(1), requests.Load())
}

func TestWebhookNotifier_CircuitBreakerOpens(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL}, zap.NewNop().Sugar())
	require.NoError(t, err)

	// Three failed deliveries trip the breaker.
	for i := 0; i < 3; i++ {
		err := n.Notify(context.Background(), testAlert())
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrNotificationSkipped)
	}
	assert.Equal(t, int64(6), requests.Load())

	err = n.Notify(context.Background(), testAlert())
	assert.ErrorIs(t, err, ErrNotificationSkipped)
	assert.Equal(t, int64(6), requests.Load(), "open breaker short-circuits before any HTTP attempt")
}

func TestWebhookNotifier_CancelledContextSkipsRetry(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL}, zap.NewNop().Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = n.Notify(ctx, testAlert())
	require.Error(t, err)
	assert.Equal(t, int64(0), requests.Load())
}
