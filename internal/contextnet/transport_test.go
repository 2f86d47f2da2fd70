package contextnet

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

// recordingEvents captures transport callbacks on channels.
type recordingEvents struct {
	connected    chan struct{}
	disconnected chan error
	messages     chan string
	mu           sync.Mutex
	errs         []error
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{
		connected:    make(chan struct{}, 4),
		disconnected: make(chan error, 4),
		messages:     make(chan string, 16),
	}
}

func (r *recordingEvents) Connected()               { r.connected <- struct{}{} }
func (r *recordingEvents) Disconnected(err error)   { r.disconnected <- err }
func (r *recordingEvents) MessageReceived(p string) { r.messages <- p }

func (r *recordingEvents) InternalError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// fakeGateway acknowledges hellos and records data envelopes.
type fakeGateway struct {
	conn     *net.UDPConn
	silent   bool
	received chan Envelope
	peer     chan *net.UDPAddr
}

func startFakeGateway(t *testing.T, silent bool) *fakeGateway {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	g := &fakeGateway{conn: conn, silent: silent, received: make(chan Envelope, 32), peer: make(chan *net.UDPAddr, 1)}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, maxDatagramSize)
		announced := false
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			env, err := Unmarshal(buf[:n])
			if err != nil {
				continue
			}
			g.received <- env
			if env.Kind == KindHello && !g.silent {
				if !announced {
					g.peer <- addr
					announced = true
				}
				data, _ := Marshal(Envelope{Kind: KindAck, Sender: "gateway"})
				_, _ = conn.WriteToUDP(data, addr)
			}
		}
	}()
	return g
}

func (g *fakeGateway) addr() string {
	return g.conn.LocalAddr().String()
}

func (g *fakeGateway) sendTo(t *testing.T, addr *net.UDPAddr, e Envelope) {
	t.Helper()
	data, err := Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := g.conn.WriteToUDP(data, addr); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (g *fakeGateway) nextData(t *testing.T) Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env := <-g.received:
			if env.Kind == KindData {
				return env
			}
		case <-timeout:
			t.Fatal("timed out waiting for data envelope")
		}
	}
}

func TestUDPTransportConnectsAndExchangesData(t *testing.T) {
	gw := startFakeGateway(t, false)
	events := newRecordingEvents()

	tr := NewUDPTransport(Config{
		GatewayAddr:   gw.addr(),
		SelfID:        "A",
		DestinationID: "B",
		HelloInterval: 10 * time.Millisecond,
		Logger:        pkgLogger.NewDiscardLogger(),
	})
	if err := tr.Start(context.Background(), events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tr.Close()

	select {
	case <-events.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("transport never reported connected")
	}

	if err := tr.Send("<mid1,A,achieve,B,up(10)>"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	env := gw.nextData(t)
	if env.Sender != "A" || env.Recipient != "B" || env.Content != "<mid1,A,achieve,B,up(10)>" {
		t.Errorf("unexpected envelope: %+v", env)
	}

	peer := <-gw.peer
	gw.sendTo(t, peer, Envelope{Kind: KindData, Sender: "B", Content: "<mid1,B,tell,A,done>"})
	select {
	case msg := <-events.messages:
		if msg != "<mid1,B,tell,A,done>" {
			t.Errorf("unexpected message %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	gw.sendTo(t, peer, Envelope{Kind: KindBye, Sender: "gateway"})
	select {
	case err := <-events.disconnected:
		if err != ErrPeerClosed {
			t.Errorf("expected ErrPeerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bye not reported as disconnect")
	}
}

func TestUDPTransportStaysDisconnectedWithoutAck(t *testing.T) {
	gw := startFakeGateway(t, true)
	events := newRecordingEvents()

	tr := NewUDPTransport(Config{
		GatewayAddr:      gw.addr(),
		SelfID:           "A",
		DestinationID:    "B",
		HelloInterval:    5 * time.Millisecond,
		MaxHelloInterval: 20 * time.Millisecond,
		Logger:           pkgLogger.NewDiscardLogger(),
	})
	if err := tr.Start(context.Background(), events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tr.Close()

	select {
	case <-events.connected:
		t.Fatal("transport must not connect without an ack")
	case <-time.After(150 * time.Millisecond):
	}

	hellos := 0
	for len(gw.received) > 0 {
		if env := <-gw.received; env.Kind == KindHello {
			hellos++
		}
	}
	if hellos < 2 {
		t.Errorf("expected repeated hellos while connecting, got %d", hellos)
	}
}

func TestSendBeforeStart(t *testing.T) {
	tr := NewUDPTransport(Config{GatewayAddr: "127.0.0.1:1", Logger: pkgLogger.NewDiscardLogger()})
	if err := tr.Send("x"); err != ErrNotStarted {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close before Start should be a no-op, got %v", err)
	}
}

func TestStartAfterCloseDoesNotDial(t *testing.T) {
	gw := startFakeGateway(t, true)
	tr := NewUDPTransport(Config{GatewayAddr: gw.addr(), HelloInterval: 20 * time.Millisecond, Logger: pkgLogger.NewDiscardLogger()})
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Start(context.Background(), newRecordingEvents()); err != ErrTransportClosed {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
	if err := tr.Send("x"); err != ErrNotStarted {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	select {
	case env := <-gw.received:
		t.Errorf("closed transport sent %+v", env)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestStartRejectsBadAddress(t *testing.T) {
	tr := NewUDPTransport(Config{GatewayAddr: "not-an-address", Logger: pkgLogger.NewDiscardLogger()})
	if err := tr.Start(context.Background(), newRecordingEvents()); err == nil {
		t.Fatal("expected resolve error")
	}
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 35*time.Millisecond)
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 35 * time.Millisecond, 35 * time.Millisecond}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("step %d: got %s, want %s", i, got, w)
		}
	}
	b.Reset()
	if got := b.Next(); got != 10*time.Millisecond {
		t.Errorf("after reset got %s", got)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	in := Envelope{Kind: KindData, Sender: "A", Recipient: "B", Content: "<mid1,A,achieve,B,land>"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}
