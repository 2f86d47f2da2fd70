// Package session tracks the lifecycle of each client connection.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/agentbridge/internal/agentbus"
)

// ErrSessionClosed is returned for handshake work that outlived its session.
var ErrSessionClosed = errors.New("session closed")

// Stage is the handshake lifecycle of a session.
type Stage int32

const (
	StageUninitialized Stage = iota
	StageInitializing
	StageReady
	StageClosed
)

func (s Stage) String() string {
	switch s {
	case StageUninitialized:
		return "uninitialized"
	case StageInitializing:
		return "initializing"
	case StageReady:
		return "ready"
	case StageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// State is everything the bridge keeps for one client connection. Stage
// moves only through the transition methods; the processing flag admits one
// steady-state message at a time.
type State struct {
	ID       string
	OpenedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	stage      atomic.Int32
	processing atomic.Bool

	mu      sync.Mutex
	channel *agentbus.Channel
	config  BusConfig
}

// NewState creates an uninitialized session.
func NewState(id string) *State {
	ctx, cancel := context.WithCancel(context.Background())
	return &State{ID: id, OpenedAt: time.Now(), ctx: ctx, cancel: cancel}
}

// Context is cancelled when the session closes.
func (s *State) Context() context.Context {
	return s.ctx
}

// Stage returns the current stage.
func (s *State) Stage() Stage {
	return Stage(s.stage.Load())
}

// BeginHandshake moves Uninitialized to Initializing. Only the caller that
// gets true may run the handshake.
func (s *State) BeginHandshake() bool {
	return s.stage.CompareAndSwap(int32(StageUninitialized), int32(StageInitializing))
}

// MarkReady moves Initializing to Ready.
func (s *State) MarkReady() bool {
	return s.stage.CompareAndSwap(int32(StageInitializing), int32(StageReady))
}

// ResetHandshake moves Initializing back to Uninitialized after a failure.
func (s *State) ResetHandshake() bool {
	return s.stage.CompareAndSwap(int32(StageInitializing), int32(StageUninitialized))
}

// MarkClosed moves any stage to Closed, cancels the session context and
// reports the stage it left. A channel attached before this call is returned
// by a later Detach; none can be attached after it.
func (s *State) MarkClosed() Stage {
	s.mu.Lock()
	prev := Stage(s.stage.Swap(int32(StageClosed)))
	s.mu.Unlock()
	s.cancel()
	return prev
}

// TryAcquire claims the single-flight slot.
func (s *State) TryAcquire() bool {
	return s.processing.CompareAndSwap(false, true)
}

// Release frees the single-flight slot.
func (s *State) Release() {
	s.processing.Store(false)
}

// Processing reports whether a message is in flight.
func (s *State) Processing() bool {
	return s.processing.Load()
}

// Attach records the bus channel and config built during the handshake. It
// reports false, recording nothing, once the session is closed; the caller
// then owns ch.
func (s *State) Attach(ch *agentbus.Channel, cfg BusConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Stage() == StageClosed {
		return false
	}
	s.channel = ch
	s.config = cfg
	return true
}

// Detach clears and returns the channel so it is closed exactly once.
func (s *State) Detach() *agentbus.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channel
	s.channel = nil
	return ch
}

// Channel returns the attached bus channel, or nil.
func (s *State) Channel() *agentbus.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Config returns the handshake configuration.
func (s *State) Config() BusConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}
