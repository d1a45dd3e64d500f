package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interviewlab/lsp-gateway/lsp/lsptest"
	"interviewlab/lsp-gateway/session"
)

func TestMain(m *testing.M) {
	lsptest.RunIfRequested()
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.WorkspaceDir = t.TempDir()
	cfg.ForwardTimeoutSec = 5

	registry := session.NewRegistry()
	resolve := func(language, workspaceDir string) ([]string, error) {
		return lsptest.ServerCommand(), nil
	}

	gateway := New(cfg, registry, resolve)
	ts := httptest.NewServer(gateway.httpSrv.Handler)
	t.Cleanup(ts.Close)

	return ts, registry
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

// readFrame reads WebSocket text frames until one satisfies the
// predicate.
func readFrame(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))

	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var decoded map[string]any
		if json.Unmarshal(data, &decoded) != nil {
			continue
		}
		if match(decoded) {
			return decoded
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/", "/health"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)

		var body struct {
			Status      string `json:"status"`
			Connections int    `json:"connections"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, 0, body.Connections)
	}
}

func TestHealthEndpointUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketRejectsInvalidSessionID(t *testing.T) {
	ts, _ := newTestServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/bad..id?language=python"), nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketRequiresLanguage(t *testing.T) {
	ts, _ := newTestServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/abc-123"), nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketSessionEndToEnd(t *testing.T) {
	ts, registry := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/e2e-session?language=python"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// The initialize response is the first thing the client sees.
	initResp := readFrame(t, conn, func(m map[string]any) bool {
		result, ok := m["result"].(map[string]any)
		if !ok {
			return false
		}
		_, ok = result["capabilities"]
		return ok
	})
	require.NotNil(t, initResp)
	assert.Equal(t, 1, registry.Count())

	// A forwarded request comes back under the client's own id.
	request := `{"jsonrpc":"2.0","id":"req-1","method":"textDocument/completion","params":{"probe":true}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(request)))

	resp := readFrame(t, conn, func(m map[string]any) bool {
		return m["id"] == "req-1"
	})
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, result["probe"])

	// Closing the socket tears the session down.
	conn.Close()
	assert.Eventually(t, func() bool {
		return registry.Count() == 0
	}, 10*time.Second, 50*time.Millisecond)
}

func TestWebSocketDuplicateSessionRefused(t *testing.T) {
	ts, registry := newTestServer(t)

	first, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/dup-session?language=python"), nil)
	require.NoError(t, err)
	defer first.Close()

	readFrame(t, first, func(m map[string]any) bool {
		_, ok := m["result"].(map[string]any)
		return ok
	})
	require.Equal(t, 1, registry.Count())

	second, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/dup-session?language=python"), nil)
	require.NoError(t, err)
	defer second.Close()

	// The duplicate is closed with the conflict code before any session
	// traffic flows.
	require.NoError(t, second.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, _, err = second.ReadMessage()
	require.Error(t, err)

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, closeSessionConflict, closeErr.Code)

	// The original session is untouched.
	assert.Equal(t, 1, registry.Count())
}

func TestConfigApplyEnv(t *testing.T) {
	t.Setenv("WORKSPACE_DIR", "/data/ws")
	t.Setenv("JAVA_HOME", "/opt/jdk")
	t.Setenv("JDT_HOME", "/opt/jdtls")
	t.Setenv("PORT", "9999")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "/data/ws", cfg.WorkspaceDir)
	assert.Equal(t, "/opt/jdk", cfg.JavaHome)
	assert.Equal(t, "/opt/jdtls", cfg.JDTHome)
	assert.Equal(t, ":9999", cfg.Addr)
}

func TestConfigLoad(t *testing.T) {
	path := t.TempDir() + "/config.json"
	content := `{"addr": ":9000", "workspace_dir": "/tmp/ws", "forward_timeout_sec": 3}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "/tmp/ws", cfg.WorkspaceDir)
	// Unset fields keep their defaults.
	assert.Equal(t, []string{"pylsp"}, cfg.PythonCommand)

	sessCfg := cfg.SessionConfig()
	assert.Equal(t, 3*time.Second, sessCfg.ForwardTimeout)
	assert.Equal(t, session.DefaultConfig().InitializeTimeout, sessCfg.InitializeTimeout)

	_, err = LoadConfig(t.TempDir() + "/missing.json")
	assert.Error(t, err)
}

func TestConfigJavaBin(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "java", cfg.JavaBin())

	cfg.JavaHome = "/opt/jdk"
	assert.Equal(t, "/opt/jdk/bin/java", cfg.JavaBin())
}
