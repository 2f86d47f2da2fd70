package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/internal/agentbus"
	"github.com/fpt/agentbridge/internal/async"
	"github.com/fpt/agentbridge/internal/session"
	"github.com/fpt/agentbridge/internal/translation"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

const (
	testHandshake = `{"gatewayIP":"10.0.0.1","gatewayPort":9000,"agentUUID":"A","destinationUUID":"B"}`
	testPlans     = `plans("takeOff up(N) land")`
)

// sent is one payload handed to the fake transport. at is when Send was
// entered, done when it returned.
type sent struct {
	payload string
	at      time.Time
	done    time.Time
}

// fakeTransport connects on Start unless noConnect is set and answers the
// plan request with planReply unless it is empty.
type fakeTransport struct {
	noConnect bool
	planReply string
	sendDelay time.Duration

	mu     sync.Mutex
	events agentbus.TransportEvents
	sends  []sent
	closed bool
	sendCh chan sent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{planReply: testPlans, sendCh: make(chan sent, 64)}
}

func (f *fakeTransport) Start(ctx context.Context, events agentbus.TransportEvents) error {
	f.mu.Lock()
	f.events = events
	f.mu.Unlock()
	if !f.noConnect {
		go events.Connected()
	}
	return nil
}

func (f *fakeTransport) Send(payload string) error {
	s := sent{payload: payload, at: time.Now()}
	f.mu.Lock()
	delay := f.sendDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	s.done = time.Now()
	f.mu.Lock()
	f.sends = append(f.sends, s)
	events := f.events
	f.mu.Unlock()
	f.sendCh <- s

	if f.planReply != "" && strings.HasSuffix(payload, ",getPlans>") {
		msg, err := agentbus.ParseMessage(payload)
		if err == nil {
			go events.MessageReceived(fmt.Sprintf("<%s,%s,tell,%s,%s>", msg.CorrelationID, msg.Receiver, msg.Sender, f.planReply))
		}
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) deliver(payload string) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	events.MessageReceived(payload)
}

// commandSends returns the sends that are not the plan request.
func (f *fakeTransport) commandSends() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sends {
		if !strings.HasSuffix(s.payload, ",getPlans>") {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeTranslator returns canned results; Translate blocks on block when set.
type fakeTranslator struct {
	initErr  error
	commands []string
	transErr error
	block    chan struct{}

	mu      sync.Mutex
	inits   map[string]string
	texts   []string
	ended   []string
	running int
	maxRun  int
}

func newFakeTranslator(commands ...string) *fakeTranslator {
	return &fakeTranslator{commands: commands, inits: make(map[string]string)}
}

func (f *fakeTranslator) Initialize(ctx context.Context, sessionID, planReply string) *async.Future[int] {
	if f.initErr != nil {
		return async.Resolved(0, error(&translation.BackendError{Err: f.initErr}))
	}
	f.mu.Lock()
	f.inits[sessionID] = planReply
	f.mu.Unlock()
	return async.Resolved(17, nil)
}

func (f *fakeTranslator) Translate(ctx context.Context, sessionID, text string) *async.Future[translation.Result] {
	return async.Go(func() (translation.Result, error) {
		f.mu.Lock()
		f.texts = append(f.texts, text)
		f.running++
		if f.running > f.maxRun {
			f.maxRun = f.running
		}
		f.mu.Unlock()
		defer func() {
			f.mu.Lock()
			f.running--
			f.mu.Unlock()
		}()

		if f.block != nil {
			select {
			case <-f.block:
			case <-ctx.Done():
				return translation.Result{}, ctx.Err()
			}
		}
		if f.transErr != nil {
			return translation.Result{
				Commands: []string{translation.ErrorCommandPrefix + f.transErr.Error()},
				Err:      f.transErr,
			}, nil
		}
		return translation.Result{Commands: append([]string(nil), f.commands...), Cost: 5}, nil
	})
}

func (f *fakeTranslator) End(sessionID string) {
	f.mu.Lock()
	f.ended = append(f.ended, sessionID)
	f.mu.Unlock()
}

func (f *fakeTranslator) ModelID() string { return "fake-model" }

// fakeConn records what the controller sends to the client.
type fakeConn struct {
	id string

	mu          sync.Mutex
	open        bool
	messages    []string
	closeCode   int
	closeReason string
	msgCh       chan string
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, open: true, msgCh: make(chan string, 64)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) SendText(text string) error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return errors.New("closed")
	}
	c.messages = append(c.messages, text)
	c.mu.Unlock()
	c.msgCh <- text
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		c.open = false
		c.closeCode = code
		c.closeReason = reason
	}
	return nil
}

// expect waits for the next client message and checks it.
func (c *fakeConn) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-c.msgCh:
		if got != want {
			t.Fatalf("Expected client message %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %q", want)
	}
}

// next waits for the next client message that is not relayed bus traffic.
func (c *fakeConn) next(t *testing.T) string {
	t.Helper()
	for {
		select {
		case got := <-c.msgCh:
			if agentbus.IsWrapped(got) {
				continue
			}
			return got
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for a client message")
			return ""
		}
	}
}

type harness struct {
	controller *Controller
	registry   *session.Registry
	transport  *fakeTransport
	translator *fakeTranslator
}

func newHarness(t *testing.T, opts Options, transport *fakeTransport, translator *fakeTranslator) *harness {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = pkgLogger.NewDiscardLogger()
	}
	registry := session.NewRegistry()
	factory := func(cfg session.BusConfig, onMessage func(string)) *agentbus.Channel {
		return agentbus.NewChannel(transport, agentbus.Options{SelfID: cfg.AgentUUID, OnMessage: onMessage, Logger: opts.Logger})
	}
	return &harness{
		controller: NewController(registry, translator, factory, opts),
		registry:   registry,
		transport:  transport,
		translator: translator,
	}
}

// ready opens conn and completes the handshake.
func (h *harness) ready(t *testing.T, conn *fakeConn) {
	t.Helper()
	h.controller.Open(conn)
	h.controller.HandleText(conn, testHandshake)
	if got := conn.next(t); got != ReadyMessage {
		t.Fatalf("Expected ready message, got %q", got)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
