package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
)

func TestHub_StartStop(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop().Sugar())
	go hub.Start()

	assert.Equal(t, 0, hub.ClientCount())

	// broadcasting with no subscribers must not block
	hub.BroadcastAlert(&core.Alert{ID: "alert-1"})

	hub.Stop()
}

func TestAlertStream_DeliversBroadcasts(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop().Sugar())
	go hub.Start()
	defer hub.Stop()

	env := newTestEnv(t, func(env *apiTestEnv) { env.hub = hub })

	srv := httptest.NewServer(env.api.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/alerts"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	hub.BroadcastAlert(&core.Alert{
		ID:       "alert-1",
		RuleID:   "brute_force",
		Severity: core.SeverityHigh,
		Status:   core.AlertStatusOpen,
		Summary:  "Brute force against alice",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string     `json:"type"`
		Data core.Alert `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "alert", msg.Type)
	assert.Equal(t, "alert-1", msg.Data.ID)
	assert.Equal(t, core.SeverityHigh, msg.Data.Severity)
}

func TestAlertStream_DisabledWithoutHub(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/ws/alerts", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
