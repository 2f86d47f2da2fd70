// Package bridge connects client sessions to the agent bus: it runs the
// handshake, translates steady-state text into commands and relays bus
// traffic back to the client.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/fpt/agentbridge/internal/agentbus"
	"github.com/fpt/agentbridge/internal/async"
	"github.com/fpt/agentbridge/internal/config"
	"github.com/fpt/agentbridge/internal/contextnet"
	"github.com/fpt/agentbridge/internal/session"
	"github.com/fpt/agentbridge/internal/translation"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

// ClientConn is the client side of one session.
type ClientConn interface {
	ID() string
	SendText(text string) error
	IsOpen() bool
	Close(code int, reason string) error
}

// Translator is the part of translation.Service the controller uses.
type Translator interface {
	Initialize(ctx context.Context, sessionID, planReply string) *async.Future[int]
	Translate(ctx context.Context, sessionID, text string) *async.Future[translation.Result]
	End(sessionID string)
	ModelID() string
}

// ChannelFactory builds the bus channel for a validated handshake. onMessage
// receives every raw bus payload.
type ChannelFactory func(cfg session.BusConfig, onMessage func(payload string)) *agentbus.Channel

// ContextNetChannels returns a factory that reaches the gateway over the
// contextnet UDP transport.
func ContextNetChannels(bus config.BusSettings, logger *pkgLogger.Logger) ChannelFactory {
	return func(cfg session.BusConfig, onMessage func(string)) *agentbus.Channel {
		transport := contextnet.NewUDPTransport(contextnet.Config{
			GatewayAddr:   cfg.GatewayAddr(),
			SelfID:        cfg.AgentUUID,
			DestinationID: cfg.DestinationUUID,
			HelloInterval: bus.HelloInterval.Std(),
			KeepAlive:     bus.KeepAlive.Std(),
			Logger:        logger.WithComponent("contextnet"),
		})
		return agentbus.NewChannel(transport, agentbus.Options{
			SelfID:    cfg.AgentUUID,
			OnMessage: onMessage,
			Logger:    logger.WithComponent("agentbus"),
		})
	}
}

// Options configures a Controller.
type Options struct {
	ConnectTimeout      time.Duration
	PlanTimeout         time.Duration
	CommandDelay        time.Duration
	PlanPerformative    string
	PlanContent         string
	CommandPerformative string
	Logger              *pkgLogger.Logger
}

// OptionsFromSettings maps the bus section of the settings file.
func OptionsFromSettings(bus config.BusSettings, logger *pkgLogger.Logger) Options {
	return Options{
		ConnectTimeout:      bus.ConnectTimeout.Std(),
		PlanTimeout:         bus.PlanTimeout.Std(),
		CommandDelay:        bus.CommandDelay.Std(),
		PlanPerformative:    bus.PlanPerformative,
		PlanContent:         bus.PlanContent,
		CommandPerformative: bus.CommandPerform,
		Logger:              logger,
	}
}

// Controller owns every session from open to close.
type Controller struct {
	registry   *session.Registry
	translator Translator
	newChannel ChannelFactory
	opts       Options
	logger     *pkgLogger.Logger
	inst       *instrumentation

	conns sync.Map // session id -> ClientConn
}

// NewController wires the controller. Zero option fields take the defaults
// of config.GetDefaultSettings.
func NewController(registry *session.Registry, translator Translator, channels ChannelFactory, opts Options) *Controller {
	defaults := config.GetDefaultSettings().Bus
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout.Std()
	}
	if opts.PlanTimeout <= 0 {
		opts.PlanTimeout = defaults.PlanTimeout.Std()
	}
	if opts.CommandDelay < 0 {
		opts.CommandDelay = 0
	}
	if opts.PlanPerformative == "" {
		opts.PlanPerformative = defaults.PlanPerformative
	}
	if opts.PlanContent == "" {
		opts.PlanContent = defaults.PlanContent
	}
	if opts.CommandPerformative == "" {
		opts.CommandPerformative = defaults.CommandPerform
	}
	if opts.Logger == nil {
		opts.Logger = pkgLogger.NewComponentLogger("bridge")
	}
	return &Controller{
		registry:   registry,
		translator: translator,
		newChannel: channels,
		opts:       opts,
		logger:     opts.Logger,
		inst:       newInstrumentation(),
	}
}

// Registry exposes the live sessions.
func (c *Controller) Registry() *session.Registry {
	return c.registry
}

// ModelID identifies the translation model.
func (c *Controller) ModelID() string {
	return c.translator.ModelID()
}

// Open registers a new connection.
func (c *Controller) Open(conn ClientConn) {
	st, ok := c.registry.Create(conn.ID())
	if !ok {
		c.logger.Warn("Duplicate connection id", "session", conn.ID())
		return
	}
	c.conns.Store(conn.ID(), conn)
	c.inst.sessionOpened(st.Context())
	c.logger.WithSession(st.ID).InfoWithIntention(pkgLogger.IntentionStatus, "Client session opened")
}

// HandleText routes one inbound client message. It only inspects and
// transitions state; the handshake and dispatch run on their own goroutines.
func (c *Controller) HandleText(conn ClientConn, text string) {
	st, ok := c.registry.Get(conn.ID())
	if !ok {
		return
	}

	switch st.Stage() {
	case session.StageUninitialized:
		if st.BeginHandshake() {
			go c.handshake(st, conn, text)
			return
		}
		c.reply(conn, Classify(ErrSessionNotReady))
	case session.StageReady:
		if !st.TryAcquire() {
			c.reply(conn, Classify(ErrSessionBusy))
			return
		}
		go c.dispatch(st, conn, text)
	case session.StageInitializing:
		c.reply(conn, Classify(ErrSessionNotReady))
	}
}

// Close tears the session down. Safe to call more than once.
func (c *Controller) Close(conn ClientConn) {
	c.conns.Delete(conn.ID())
	st, ok := c.registry.Remove(conn.ID())
	if !ok {
		return
	}
	prev := st.MarkClosed()
	if ch := st.Detach(); ch != nil {
		if err := ch.Close(); err != nil {
			c.logger.WithSession(st.ID).Warn("Failed to close bus channel", "error", err)
		}
	}
	c.translator.End(st.ID)
	c.logger.WithSession(st.ID).InfoWithIntention(pkgLogger.IntentionStatus, "Client session closed",
		"stage", prev.String(), "duration", time.Since(st.OpenedAt).Round(time.Millisecond))
}

// Shutdown closes every open connection.
func (c *Controller) Shutdown() {
	c.conns.Range(func(_, v any) bool {
		conn := v.(ClientConn)
		_ = conn.Close(websocket.CloseGoingAway, "server shutting down")
		c.Close(conn)
		return true
	})
}

func (c *Controller) reply(conn ClientConn, text string) {
	if !conn.IsOpen() {
		return
	}
	if err := conn.SendText(text); err != nil {
		c.logger.WithSession(conn.ID()).Error("Failed to send message to client", "error", err)
	}
}

// step is one fallible stage of the handshake.
type step struct {
	name string
	run  func(ctx context.Context) error
}

// runSteps runs steps in order and stops at the first failure.
func runSteps(ctx context.Context, steps []step) (string, error) {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return s.name, err
		}
		if err := s.run(ctx); err != nil {
			return s.name, err
		}
	}
	return "", nil
}

func (c *Controller) handshake(st *session.State, conn ClientConn, text string) {
	logger := c.logger.WithSession(st.ID)
	ctx, span := c.inst.start(st.Context(), "handshake", st.ID)

	var (
		cfg   session.BusConfig
		ch    *agentbus.Channel
		plans string
		cost  int
	)
	failed, err := runSteps(ctx, []step{
		{"parse config", func(ctx context.Context) (err error) {
			cfg, err = session.ParseBusConfig(text)
			return err
		}},
		{"open channel", func(ctx context.Context) error {
			built := c.newChannel(cfg, func(payload string) { c.reply(conn, payload) })
			if !st.Attach(built, cfg) {
				_ = built.Close()
				return session.ErrSessionClosed
			}
			ch = built
			return ch.Start(ctx)
		}},
		{"await connect", func(ctx context.Context) error {
			connectCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
			defer cancel()
			if err := ch.AwaitConnected(connectCtx); err != nil {
				if ctx.Err() == nil {
					return errors.Wrapf(ErrBusConnectTimeout, "%s after %s", cfg.GatewayAddr(), c.opts.ConnectTimeout)
				}
				return err
			}
			return nil
		}},
		{"fetch plans", func(ctx context.Context) (err error) {
			plans, err = ch.SendAndAwaitReply(ctx, c.opts.PlanPerformative, cfg.DestinationUUID, c.opts.PlanContent, c.opts.PlanTimeout).Await(ctx)
			return err
		}},
		{"initialize translator", func(ctx context.Context) (err error) {
			cost, err = c.translator.Initialize(ctx, st.ID, plans).Await(ctx)
			return err
		}},
	})
	end(span, err)

	if err != nil {
		st.ResetHandshake()
		if st.Stage() == session.StageClosed {
			// Close may have run before the channel was attached.
			if ch := st.Detach(); ch != nil {
				_ = ch.Close()
			}
			logger.Debug("Handshake abandoned, session closed", "step", failed)
			return
		}
		msg := Classify(err)
		logger.Error("Handshake failed", "step", failed, "error", err)
		c.reply(conn, msg)
		if cerr := conn.Close(closeCode(err), msg); cerr != nil {
			logger.Debug("Failed to close client connection", "error", cerr)
		}
		c.Close(conn)
		return
	}

	if !st.MarkReady() {
		// Closed while the translator was initializing.
		c.translator.End(st.ID)
		return
	}
	logger.InfoWithIntention(pkgLogger.IntentionSuccess, "Session ready",
		"gateway", cfg.GatewayAddr(), "destination", cfg.DestinationUUID, "plans", translation.ExtractPlans(plans), "cost", cost)
	c.reply(conn, ReadyMessage)
}

// pacedFrom returns a limiter whose next token is d from now, so the gap is
// measured from the end of the previous send. A zero d never waits.
func pacedFrom(d time.Duration) *rate.Limiter {
	l := rate.NewLimiter(rate.Every(d), 1)
	l.Allow()
	return l
}

func (c *Controller) dispatch(st *session.State, conn ClientConn, text string) {
	defer st.Release()
	logger := c.logger.WithSession(st.ID)
	ctx, span := c.inst.start(st.Context(), "dispatch", st.ID)
	var err error
	defer func() { end(span, err) }()

	res, err := c.translator.Translate(ctx, st.ID, text).Await(ctx)
	if err != nil {
		return
	}
	if res.Err != nil {
		err = res.Err
		c.reply(conn, res.Commands[0])
		return
	}
	if len(res.Commands) == 0 {
		logger.Info("Translation produced no commands", "text", text)
		return
	}

	ch := st.Channel()
	if ch == nil {
		err = ErrSessionNotReady
		return
	}
	dest := st.Config().DestinationUUID
	var pace *rate.Limiter // nil before the first send
	for i, cmd := range res.Commands {
		if pace != nil {
			if err = pace.Wait(ctx); err != nil {
				return
			}
		}
		if err = ch.Send(agentbus.FormatCommand(c.opts.CommandPerformative, dest, cmd)); err != nil {
			logger.Error("Failed to send command", "command", cmd, "error", err)
			c.reply(conn, Classify(err))
			return
		}
		pace = pacedFrom(c.opts.CommandDelay)
		c.inst.commandDispatched(ctx, dest)
		logger.DebugWithIntention(pkgLogger.IntentionBus, "Dispatched command", "index", i, "command", cmd)
	}
	logger.InfoWithIntention(pkgLogger.IntentionStatistics, "Dispatched commands",
		"count", len(res.Commands), "cost", res.Cost)
}
