// Package agentbus implements the per-session logical connection to the agent
// bus: message wrapping, pre-connect queuing and correlation of request/reply
// pairs over a Transport.
package agentbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/internal/async"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

var (
	// ErrReplyTimeout resolves a request whose reply did not arrive before its deadline.
	ErrReplyTimeout = errors.New("agent reply timed out")
	// ErrCancelled resolves requests still outstanding when the channel shuts down.
	ErrCancelled = errors.New("agent request cancelled")
	// ErrClosed is returned for traffic submitted after Close.
	ErrClosed = errors.New("agent channel closed")
)

// Options configures a Channel.
type Options struct {
	// SelfID is the sender id written into every wrapped message.
	SelfID string
	// OnMessage observes every raw payload received from the bus.
	OnMessage func(payload string)
	Logger    *pkgLogger.Logger
}

type outbound struct {
	payload string
	// id is set for correlated requests so a failed hand-off can fail the request.
	id string
}

type pendingRequest struct {
	id        string
	future    *async.Future[string]
	createdAt time.Time

	mu      sync.Mutex
	timer   *time.Timer
	stopCtx func() bool
}

// Channel owns one logical connection to the bus for one session.
type Channel struct {
	selfID    string
	transport Transport
	onMessage func(string)
	logger    *pkgLogger.Logger

	seq    atomic.Uint64
	closed atomic.Bool

	// mu orders hand-off to the transport: queued messages always leave before new ones.
	mu        sync.Mutex
	connected bool
	queue     []outbound
	connCh    chan struct{}

	pending sync.Map // correlation id -> *pendingRequest
}

// NewChannel creates a channel over transport. Call Start to begin connecting.
func NewChannel(transport Transport, opts Options) *Channel {
	logger := opts.Logger
	if logger == nil {
		logger = pkgLogger.NewComponentLogger("agentbus")
	}
	return &Channel{
		selfID:    opts.SelfID,
		transport: transport,
		onMessage: opts.OnMessage,
		logger:    logger,
		connCh:    make(chan struct{}),
	}
}

// Start asks the transport to connect.
func (c *Channel) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return errors.Wrap(c.transport.Start(ctx, c), "start bus transport")
}

// nextID returns a fresh correlation id, unique for the lifetime of the channel.
func (c *Channel) nextID() string {
	return fmt.Sprintf("mid%d", c.seq.Add(1))
}

// Send wraps message (unless already wrapped) and hands it to the transport,
// or queues it until the transport connects.
func (c *Channel) Send(message string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	message = unquote(message)
	payload := message
	if !IsWrapped(message) {
		payload = wrap(c.nextID(), c.selfID, message)
	}
	return c.enqueue(outbound{payload: payload})
}

// SendAndAwaitReply sends content to receiver with a fresh correlation id and
// returns a future resolved by the matching reply's content. The future fails
// with ErrReplyTimeout after timeout, with ctx's error if ctx ends first, and
// with ErrCancelled if the channel shuts down.
func (c *Channel) SendAndAwaitReply(ctx context.Context, performative, receiver, content string, timeout time.Duration) *async.Future[string] {
	if c.closed.Load() {
		return async.Resolved("", ErrClosed)
	}

	id := c.nextID()
	req := &pendingRequest{id: id, future: async.NewFuture[string](), createdAt: time.Now()}

	// Timers may fire before setup finishes; stop() waits on req.mu.
	req.mu.Lock()
	c.pending.Store(id, req)
	if timeout > 0 {
		req.timer = time.AfterFunc(timeout, func() {
			c.fail(id, errors.Wrapf(ErrReplyTimeout, "no reply to %s after %s", id, timeout))
		})
	}
	req.stopCtx = context.AfterFunc(ctx, func() {
		c.fail(id, ctx.Err())
	})
	req.mu.Unlock()

	msg := Message{CorrelationID: id, Sender: c.selfID, Performative: performative, Receiver: receiver, Content: content}
	if err := c.enqueue(outbound{payload: msg.String(), id: id}); err != nil {
		c.fail(id, err)
	}
	return req.future
}

func (c *Channel) enqueue(out outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		c.queue = append(c.queue, out)
		c.logger.Debug("Bus not connected yet, queued message", "payload", out.payload, "queued", len(c.queue))
		return nil
	}
	c.logger.DebugWithIntention(pkgLogger.IntentionBus, "Sending to bus", "payload", out.payload)
	return errors.Wrap(c.transport.Send(out.payload), "send to bus")
}

// resolve completes and removes a pending request. Unknown ids are ignored.
func (c *Channel) resolve(id, content string) bool {
	v, ok := c.pending.LoadAndDelete(id)
	if !ok {
		return false
	}
	req := v.(*pendingRequest)
	req.stop()
	c.logger.Debug("Resolved pending request", "id", id, "latency", time.Since(req.createdAt))
	return req.future.Complete(content, nil)
}

func (c *Channel) fail(id string, err error) {
	v, ok := c.pending.LoadAndDelete(id)
	if !ok {
		return
	}
	req := v.(*pendingRequest)
	req.stop()
	req.future.Fail(err)
}

func (r *pendingRequest) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	if r.stopCtx != nil {
		r.stopCtx()
	}
}

// Pending returns the number of outstanding correlated requests.
func (c *Channel) Pending() int {
	n := 0
	c.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CancelPending fails every outstanding request with ErrCancelled. Idempotent.
func (c *Channel) CancelPending() {
	c.pending.Range(func(key, _ any) bool {
		c.fail(key.(string), ErrCancelled)
		return true
	})
}

// AwaitConnected blocks until the transport reports a connection or ctx ends.
func (c *Channel) AwaitConnected(ctx context.Context) error {
	c.mu.Lock()
	ch := c.connCh
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected reports the current transport state.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close cancels outstanding requests and closes the transport.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.CancelPending()
	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()
	return c.transport.Close()
}

// Connected implements TransportEvents. The queue is flushed in FIFO order
// before the channel accepts direct sends.
func (c *Channel) Connected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.InfoWithIntention(pkgLogger.IntentionBus, "Connection established with agent bus", "queued", len(c.queue))
	for _, out := range c.queue {
		c.logger.Debug("Sending queued message", "payload", out.payload)
		if err := c.transport.Send(out.payload); err != nil {
			c.logger.Error("Failed to send queued message", "payload", out.payload, "error", err)
			if out.id != "" {
				c.fail(out.id, errors.Wrap(err, "send to bus"))
			}
		}
	}
	c.queue = nil
	c.connected = true
	select {
	case <-c.connCh:
	default:
		close(c.connCh)
	}
}

// Disconnected implements TransportEvents. New traffic is queued until the
// transport reconnects.
func (c *Channel) Disconnected(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Warn("Disconnected from agent bus", "error", err)
	if c.connected {
		c.connected = false
		c.connCh = make(chan struct{})
	}
}

// MessageReceived implements TransportEvents. A reply resolves its pending
// request; every payload is forwarded to OnMessage regardless.
func (c *Channel) MessageReceived(payload string) {
	c.logger.DebugWithIntention(pkgLogger.IntentionBus, "Received from bus", "payload", payload)

	if IsWrapped(payload) {
		msg, err := ParseMessage(payload)
		if err != nil {
			c.logger.Warn("Ignoring malformed bus reply", "payload", payload, "error", err)
		} else {
			c.resolve(msg.CorrelationID, msg.Content)
		}
	}

	if c.onMessage != nil {
		c.onMessage(payload)
	}
}

// InternalError implements TransportEvents.
func (c *Channel) InternalError(err error) {
	c.logger.Error("Internal error in agent bus transport", "error", err)
}
