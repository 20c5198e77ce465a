package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/harun/docrelay/internal/config"
	"github.com/harun/docrelay/pkg/api"
	"github.com/harun/docrelay/pkg/chat"
	"github.com/harun/docrelay/pkg/chat/chattest"
	"github.com/harun/docrelay/pkg/delivery"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay answers the monitor's check and alert endpoints.
type fakeRelay struct {
	failures atomic.Int32 // checks left to fail

	mu     sync.Mutex
	alerts []string
	keys   []string
}

func newFakeRelay(t *testing.T, failures int32) (*fakeRelay, *httptest.Server) {
	fr := &fakeRelay{}
	fr.failures.Store(failures)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/get-groups":
			ok := fr.failures.Add(-1) < 0
			_ = json.NewEncoder(w).Encode(map[string]any{"success": ok, "groups": []any{}})
		case "/send-to-user":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			fr.mu.Lock()
			fr.alerts = append(fr.alerts, body["message"])
			fr.keys = append(fr.keys, r.Header.Get("X-API-Key"))
			fr.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return fr, srv
}

func monitorConfig(srvURL, restart string) func(cfg *config.Config) {
	return func(cfg *config.Config) {
		cfg.API.APIKey = "relay-key"
		cfg.Monitor.CheckURL = srvURL + "/get-groups"
		cfg.Monitor.NotifyURL = srvURL + "/send-to-user"
		cfg.Monitor.AlertRecipient = "905431205525"
		cfg.Monitor.RestartCommand = restart
		cfg.Monitor.ReadyRetries = 3
		cfg.Monitor.ReadyDelayMs = 1
		cfg.Monitor.Timeout = 2
	}
}

func TestMonitorOnceHealthy(t *testing.T) {
	fr, srv := newFakeRelay(t, 0)
	path := writeConfig(t, monitorConfig(srv.URL, "true"))

	out, err := execute(t, "--config", path, "monitor", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "Outcome: healthy")
	assert.Empty(t, fr.alerts)
}

func TestMonitorOnceRecovered(t *testing.T) {
	fr, srv := newFakeRelay(t, 1)
	path := writeConfig(t, monitorConfig(srv.URL, "true"))

	out, err := execute(t, "--config", path, "monitor", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "Outcome: recovered")

	fr.mu.Lock()
	defer fr.mu.Unlock()
	require.Len(t, fr.alerts, 2)
	assert.Contains(t, fr.alerts[0], "DOWN")
	assert.Contains(t, fr.alerts[1], "back")
	assert.Equal(t, []string{"relay-key", "relay-key"}, fr.keys, "falls back to the API key")
}

func TestMonitorOnceRestartFailed(t *testing.T) {
	fr, srv := newFakeRelay(t, 100)
	path := writeConfig(t, monitorConfig(srv.URL, "false"))

	out, err := execute(t, "--config", path, "monitor", "--once")
	require.Error(t, err)
	assert.Contains(t, out, "Outcome: restart_failed")
	assert.Contains(t, err.Error(), "did not recover")

	fr.mu.Lock()
	defer fr.mu.Unlock()
	assert.Len(t, fr.alerts, 2)
}

func TestMonitorRejectsIncompleteConfig(t *testing.T) {
	path := writeConfig(t, func(cfg *config.Config) { cfg.Monitor.AlertRecipient = "" })

	_, err := execute(t, "--config", path, "monitor", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert_recipient")
}

func TestMonitorOnceGuardedRelay(t *testing.T) {
	p := chattest.New()
	p.AddChat(chat.Chat{ID: "group-1", Name: "OPS", IsGroup: true})
	server, err := api.NewServer(api.ServerOptions{
		APIKey:                "relay-key",
		GuardGetGroups:        true,
		RequireSignedRequests: true,
		Secret:                "shared-secret",
	}, delivery.NewService(p, nil, zerolog.Nop()), nil, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = server.Stop(context.Background())
	})

	path := writeConfig(t, func(cfg *config.Config) {
		monitorConfig(srv.URL, "false")(cfg)
		cfg.API.GuardGetGroups = true
		cfg.API.RequireSignedRequests = true
		cfg.Backend.Secret = "shared-secret"
	})

	// A failing restart command would surface if the check were rejected.
	out, err := execute(t, "--config", path, "monitor", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "Outcome: healthy")
}

func TestMonitorSignedRelayNeedsSecret(t *testing.T) {
	path := writeConfig(t, func(cfg *config.Config) {
		monitorConfig("http://127.0.0.1:1", "true")(cfg)
		cfg.API.RequireSignedRequests = true
		cfg.Backend.Secret = ""
	})

	_, err := execute(t, "--config", path, "monitor", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.secret")
}
