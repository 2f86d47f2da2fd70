package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fpt/agentbridge/internal/config"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

func newTestServer(t *testing.T, h *harness) *httptest.Server {
	t.Helper()
	settings := config.GetDefaultSettings().Server
	srv := NewServer(settings, h.controller, pkgLogger.NewDiscardLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readStatus reads text frames until one is not relayed bus traffic.
func readStatus(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if !strings.HasPrefix(string(data), "<") {
			return string(data)
		}
	}
}

func TestWebSocketSessionEndToEnd(t *testing.T) {
	h := newHarness(t, Options{}, newFakeTransport(), newFakeTranslator("up(10)"))
	ts := newTestServer(t, h)
	conn := dial(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(testHandshake)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := readStatus(t, conn); got != ReadyMessage {
		t.Fatalf("Expected ready message, got %q", got)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("climb 10 meters")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	waitFor(t, func() bool { return len(h.transport.commandSends()) == 1 }, "dispatched command")

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if status.Total != 1 || status.Sessions[0].Stage != "ready" || status.Model != "fake-model" {
		t.Errorf("Unexpected status %+v", status)
	}

	conn.Close()
	waitFor(t, func() bool { return h.registry.Len() == 0 }, "session removal on disconnect")
}

func TestWebSocketInvalidConfigClosesWithReason(t *testing.T) {
	h := newHarness(t, Options{}, newFakeTransport(), newFakeTranslator())
	ts := newTestServer(t, h)
	conn := dial(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := readStatus(t, conn); !strings.HasPrefix(got, "Error: Invalid configuration: ") {
		t.Fatalf("Unexpected message %q", got)
	}
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("Expected policy violation close, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, Options{}, newFakeTransport(), newFakeTranslator())
	ts := newTestServer(t, h)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Unexpected content type %q", ct)
	}
}

func TestMakeUpgraderOrigins(t *testing.T) {
	up := makeUpgrader([]string{"https://ok.example"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !up.CheckOrigin(req) {
		t.Error("Requests without Origin should pass")
	}
	req.Header.Set("Origin", "https://ok.example")
	if !up.CheckOrigin(req) {
		t.Error("Allowed origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example")
	if up.CheckOrigin(req) {
		t.Error("Unknown origin accepted")
	}
	if !makeUpgrader([]string{"*"}).CheckOrigin(req) {
		t.Error("Wildcard should accept any origin")
	}
}
