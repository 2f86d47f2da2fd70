package console

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/internal/bridge"
	"github.com/fpt/agentbridge/internal/session"
)

// stubBridge answers a handshake with reply and echoes later messages back
// as "ack:<text>".
func stubBridge(t *testing.T, reply string) (*httptest.Server, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var received []string
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		first := true
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = append(received, string(data))
			mu.Unlock()
			if first {
				first = false
				_ = ws.WriteMessage(websocket.TextMessage, []byte("<mid1,B,tell,A,plans(\"land\")>"))
				_ = ws.WriteMessage(websocket.TextMessage, []byte(reply))
				continue
			}
			_ = ws.WriteMessage(websocket.TextMessage, []byte("ack:"+string(data)))
		}
	}))
	t.Cleanup(ts.Close)
	return ts, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), received...)
	}
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

var testConfig = session.BusConfig{GatewayIP: "10.0.0.1", GatewayPort: 9000, AgentUUID: "A", DestinationUUID: "B"}

func TestHandshakeSendsConfigAndWaitsForReady(t *testing.T) {
	ts, received := stubBridge(t, bridge.ReadyMessage)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := Dial(ctx, wsURL(ts))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var others []string
	if err := conn.Handshake(ctx, testConfig, func(m string) { others = append(others, m) }); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	if len(others) != 1 || !strings.HasPrefix(others[0], "<mid1") {
		t.Errorf("Expected relayed plan reply, got %q", others)
	}

	first := received()[0]
	var sent session.BusConfig
	if err := json.Unmarshal([]byte(first), &sent); err != nil {
		t.Fatalf("Handshake payload is not JSON: %v", err)
	}
	if sent != testConfig {
		t.Errorf("Unexpected handshake %+v", sent)
	}
	if !strings.Contains(first, `"gatewayIP":"10.0.0.1"`) {
		t.Errorf("Unexpected field names in %s", first)
	}
}

func TestHandshakeRejected(t *testing.T) {
	ts, _ := stubBridge(t, "Error: Agent did not respond with its plans.")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := Dial(ctx, wsURL(ts))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	err = conn.Handshake(ctx, testConfig, func(string) {})
	if !errors.Is(err, ErrHandshakeRejected) {
		t.Fatalf("Expected ErrHandshakeRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "did not respond") {
		t.Errorf("Server text missing from %q", err.Error())
	}
}

func TestRunPipedForwardsLines(t *testing.T) {
	ts, received := stubBridge(t, bridge.ReadyMessage)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, wsURL(ts))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if err := conn.Handshake(ctx, testConfig, func(string) {}); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}

	var out bytes.Buffer
	if err := runPiped(ctx, conn, strings.NewReader("climb 10 meters\n\nland\n"), &out); err != nil {
		t.Fatalf("runPiped failed: %v", err)
	}
	if got := received(); len(got) != 3 || got[1] != "climb 10 meters" || got[2] != "land" {
		t.Errorf("Unexpected messages at server: %q", got)
	}
	if !strings.Contains(out.String(), "ack:climb 10 meters") {
		t.Errorf("Server replies not echoed:\n%s", out.String())
	}
}

func TestFormatIncoming(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{bridge.ReadyMessage, "✅ " + bridge.ReadyMessage},
		{bridge.BusyWarning, "⚠️  " + bridge.BusyWarning},
		{"Error: Agent bus did not connect in time.", "❌ Error: Agent bus did not connect in time."},
		{"Error translating to KQML: boom", "❌ Error translating to KQML: boom"},
		{"<mid3,B,tell,A,altitude(10)>", "📡 B tell: altitude(10)"},
		{"free text", "📡 free text"},
	}
	for _, tt := range tests {
		if got := formatIncoming(tt.in, false); got != tt.want {
			t.Errorf("formatIncoming(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := formatIncoming("free text", true); !strings.HasSuffix(got, ansiReset) {
		t.Errorf("Expected colored output, got %q", got)
	}
}

func TestValidators(t *testing.T) {
	if validateRequired("  ") == nil || validateRequired("x") != nil {
		t.Error("validateRequired misbehaves")
	}
	for _, bad := range []string{"", "abc", "0", "70000"} {
		if validatePort(bad) == nil {
			t.Errorf("validatePort(%q) should fail", bad)
		}
	}
	if validatePort(" 9000 ") != nil {
		t.Error("validatePort rejected a valid port")
	}
}

func TestMissingFields(t *testing.T) {
	if got := missingFields(testConfig); len(got) != 0 {
		t.Errorf("Expected none missing, got %v", got)
	}
	got := missingFields(session.BusConfig{GatewayIP: "h"})
	want := []string{"gateway-port", "agent", "destination"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
}
