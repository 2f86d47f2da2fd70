// Package contextnet is the datagram transport between the bridge and a
// ContextNet gateway. Each session is one UDP node identified by its agent
// UUID; payloads travel in CBOR envelopes.
package contextnet

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/internal/agentbus"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

const (
	defaultHelloInterval    = 500 * time.Millisecond
	defaultMaxHelloInterval = 5 * time.Second
	defaultKeepAlive        = 15 * time.Second
	maxDatagramSize         = 64 * 1024
)

var (
	// ErrNotStarted is returned by Send before Start succeeded.
	ErrNotStarted = errors.New("contextnet transport not started")
	// ErrIdle reports a gateway that stopped answering keepalives.
	ErrIdle = errors.New("contextnet gateway idle")
	// ErrPeerClosed reports a bye from the gateway.
	ErrPeerClosed = errors.New("contextnet gateway closed the connection")
	// ErrTransportClosed is returned by Start after Close.
	ErrTransportClosed = errors.New("contextnet transport closed")
)

// Config describes one node connection.
type Config struct {
	GatewayAddr   string // host:port
	SelfID        string
	DestinationID string

	HelloInterval    time.Duration // first retry delay while connecting
	MaxHelloInterval time.Duration // retry delay cap
	KeepAlive        time.Duration // keepalive period once connected; idle after 3 missed periods
	Logger           *pkgLogger.Logger
}

// UDPTransport implements agentbus.Transport over a connected UDP socket.
type UDPTransport struct {
	cfg    Config
	logger *pkgLogger.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	events agentbus.TransportEvents
	cancel context.CancelFunc
	closed bool

	connected atomic.Bool
	lastSeen  atomic.Int64 // unix nanos of the last datagram from the gateway
	linkUp    chan struct{}
	closeOnce sync.Once
}

// NewUDPTransport creates a transport; nothing is dialed until Start.
func NewUDPTransport(cfg Config) *UDPTransport {
	if cfg.HelloInterval <= 0 {
		cfg.HelloInterval = defaultHelloInterval
	}
	if cfg.MaxHelloInterval <= 0 {
		cfg.MaxHelloInterval = defaultMaxHelloInterval
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pkgLogger.NewComponentLogger("contextnet")
	}
	return &UDPTransport{cfg: cfg, logger: logger, linkUp: make(chan struct{}, 1)}
}

// Start dials the gateway and begins announcing this node.
func (t *UDPTransport) Start(ctx context.Context, events agentbus.TransportEvents) error {
	addr, err := net.ResolveUDPAddr("udp", t.cfg.GatewayAddr)
	if err != nil {
		return errors.Wrapf(err, "resolve gateway %s", t.cfg.GatewayAddr)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return errors.Wrapf(err, "dial gateway %s", t.cfg.GatewayAddr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		_ = conn.Close()
		return ErrTransportClosed
	}
	t.conn = conn
	t.events = events
	t.cancel = cancel
	t.mu.Unlock()

	t.logger.Info("Connecting to ContextNet gateway", "gateway", t.cfg.GatewayAddr, "self", t.cfg.SelfID, "destination", t.cfg.DestinationID)

	go t.readLoop(runCtx, conn)
	go t.announceLoop(runCtx)
	return nil
}

// Send wraps payload in a data envelope addressed to the destination node.
func (t *UDPTransport) Send(payload string) error {
	return t.write(Envelope{Kind: KindData, Sender: t.cfg.SelfID, Recipient: t.cfg.DestinationID, Content: payload})
}

// Close says goodbye to the gateway and releases the socket.
func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn, cancel := t.conn, t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if conn == nil {
			return
		}
		_ = t.write(Envelope{Kind: KindBye, Sender: t.cfg.SelfID})
		err = conn.Close()
	})
	return err
}

func (t *UDPTransport) write(e Envelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotStarted
	}

	data, err := Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	if _, err := conn.Write(data); err != nil {
		return errors.Wrap(err, "write datagram")
	}
	return nil
}

// announceLoop sends hellos with backoff until the gateway acknowledges,
// then keeps the link alive and detects idleness.
func (t *UDPTransport) announceLoop(ctx context.Context) {
	backoff := NewBackoff(t.cfg.HelloInterval, t.cfg.MaxHelloInterval)
	hello := Envelope{Kind: KindHello, Sender: t.cfg.SelfID, Recipient: t.cfg.DestinationID}

	for {
		var wait time.Duration
		if t.connected.Load() {
			idle := time.Since(time.Unix(0, t.lastSeen.Load()))
			if idle > 3*t.cfg.KeepAlive {
				t.markDisconnected(errors.Wrapf(ErrIdle, "no datagram for %s", idle.Round(time.Second)))
				backoff.Reset()
				continue
			}
			wait = t.cfg.KeepAlive
		} else {
			wait = backoff.Next()
		}

		if err := t.write(hello); err != nil && ctx.Err() == nil {
			t.notifyError(err)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.linkUp:
			backoff.Reset()
		case <-time.After(wait):
		}
	}
}

func (t *UDPTransport) readLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP errors (e.g. port unreachable) surface here; keep reading.
			t.notifyError(errors.Wrap(err, "read datagram"))
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.cfg.HelloInterval):
			}
			continue
		}

		env, err := Unmarshal(buf[:n])
		if err != nil {
			t.notifyError(errors.Wrap(err, "decode envelope"))
			continue
		}
		t.lastSeen.Store(time.Now().UnixNano())

		switch env.Kind {
		case KindAck:
			t.markConnected()
		case KindData:
			t.markConnected()
			if ev := t.eventSink(); ev != nil {
				ev.MessageReceived(env.Content)
			}
		case KindBye:
			t.markDisconnected(ErrPeerClosed)
		case KindHello:
			// Gateway keepalive; lastSeen already updated.
		default:
			t.logger.Debug("Ignoring unknown envelope", "kind", env.Kind)
		}
	}
}

func (t *UDPTransport) markConnected() {
	if !t.connected.CompareAndSwap(false, true) {
		return
	}
	t.logger.Info("UDP connection established with ContextNet", "gateway", t.cfg.GatewayAddr)
	select {
	case t.linkUp <- struct{}{}:
	default:
	}
	if ev := t.eventSink(); ev != nil {
		ev.Connected()
	}
}

func (t *UDPTransport) markDisconnected(err error) {
	if !t.connected.CompareAndSwap(true, false) {
		return
	}
	if ev := t.eventSink(); ev != nil {
		ev.Disconnected(err)
	}
}

func (t *UDPTransport) notifyError(err error) {
	if ev := t.eventSink(); ev != nil {
		ev.InternalError(err)
	}
}

func (t *UDPTransport) eventSink() agentbus.TransportEvents {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}
