// Package console is the interactive terminal client for a running bridge.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/internal/bridge"
	"github.com/fpt/agentbridge/internal/session"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

// ErrHandshakeRejected carries the server's error text for a failed handshake.
var ErrHandshakeRejected = errors.New("handshake rejected")

// Conn is one WebSocket connection to the bridge.
type Conn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	incoming chan string

	errMu   sync.Mutex
	readErr error
}

// Dial connects to url and starts reading server messages.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	c := &Conn{ws: ws, incoming: make(chan string, 64)}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.incoming)
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		if kind == websocket.TextMessage {
			c.incoming <- string(data)
		}
	}
}

// Incoming is closed when the connection ends; Err then tells why.
func (c *Conn) Incoming() <-chan string {
	return c.incoming
}

// Err returns the error that ended the read loop.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

// Send writes one text message.
func (c *Conn) Send(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close says goodbye and drops the socket.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// Handshake sends cfg and waits for the ready message. Bus traffic that
// arrives meanwhile goes to onOther.
func (c *Conn) Handshake(ctx context.Context, cfg session.BusConfig, onOther func(string)) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode handshake")
	}
	if err := c.Send(string(payload)); err != nil {
		return errors.Wrap(err, "send handshake")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.incoming:
			if !ok {
				return errors.Wrap(c.Err(), "connection closed during handshake")
			}
			switch classify(msg) {
			case kindReady:
				return nil
			case kindError:
				return errors.Wrap(ErrHandshakeRejected, msg)
			default:
				onOther(msg)
			}
		}
	}
}

// Options configures Run.
type Options struct {
	URL          string
	Handshake    session.BusConfig
	HistoryFile  string
	ReadyTimeout time.Duration
	Logger       *pkgLogger.Logger
}

// Run connects, completes the handshake and forwards each input line to the
// bridge until EOF or ctx ends. Input comes from a readline editor when
// stdin is a terminal, otherwise line by line from stdin.
func Run(ctx context.Context, opts Options) error {
	interactive := isTerminal(os.Stdin)
	cfg := opts.Handshake
	if missing := missingFields(cfg); len(missing) > 0 {
		if !interactive {
			return errors.Errorf("missing handshake fields: %s", strings.Join(missing, ", "))
		}
		var err error
		if cfg, err = promptMissing(cfg); err != nil {
			return err
		}
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 150 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = pkgLogger.NewComponentLogger("console")
	}
	logger := opts.Logger

	conn, err := Dial(ctx, opts.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	colored := isTerminal(os.Stdout)
	fmt.Printf("🔌 Connected to %s, waiting for agent %s at %s...\n", opts.URL, cfg.DestinationUUID, cfg.GatewayAddr())
	hsCtx, cancel := context.WithTimeout(ctx, opts.ReadyTimeout)
	err = conn.Handshake(hsCtx, cfg, func(msg string) {
		fmt.Println(formatIncoming(msg, colored))
	})
	cancel()
	if err != nil {
		logger.Debug("Handshake failed", "url", opts.URL, "error", err)
		return err
	}
	logger.DebugWithIntention(pkgLogger.IntentionStatus, "Handshake complete",
		"url", opts.URL, "gateway", cfg.GatewayAddr(), "agent", cfg.AgentUUID)
	fmt.Println(formatIncoming(bridge.ReadyMessage, colored))
	fmt.Println(separator())

	if interactive {
		return runInteractive(ctx, conn, opts, colored)
	}
	return runPiped(ctx, conn, os.Stdin, os.Stdout)
}

func runInteractive(ctx context.Context, conn *Conn, opts Options, colored bool) error {
	paste := NewPasteReader(readline.Stdin)
	fmt.Print("\x1b[?2004h")
	defer fmt.Print("\x1b[?2004l")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       opts.HistoryFile,
		HistoryLimit:      2000,
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		Stdin:             paste,
	})
	if err != nil {
		return errors.Wrap(err, "failed to initialize line editor")
	}
	defer rl.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range conn.Incoming() {
			fmt.Fprintln(rl.Stdout(), formatIncoming(msg, colored))
		}
		fmt.Fprintln(rl.Stdout(), formatIncoming("Error: connection closed", colored))
	}()

	fmt.Println("💬 Type instructions for the agent; /quit exits.")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		select {
		case <-done:
			return errors.Wrap(conn.Err(), "connection closed")
		default:
		}
		if err := conn.Send(line); err != nil {
			return errors.Wrap(err, "send")
		}
		if ctx.Err() != nil {
			return nil
		}
	}

	select {
	case <-done:
		if err := conn.Err(); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return errors.Wrap(err, "connection closed")
		}
	default:
	}
	return nil
}

// runPiped sends each non-blank input line and echoes server messages to out
// until input ends. It then waits briefly for outstanding replies.
func runPiped(ctx context.Context, conn *Conn, in io.Reader, out io.Writer) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range conn.Incoming() {
			fmt.Fprintln(out, formatIncoming(msg, false))
		}
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := conn.Send(line); err != nil {
			return errors.Wrap(err, "send")
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read input")
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	_ = conn.Close()
	wg.Wait()
	return nil
}
