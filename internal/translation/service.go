// Package translation turns free text into agent commands through a
// session-scoped LLM conversation. All backend calls run on a bounded pool
// and report through futures.
package translation

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/fpt/agentbridge/internal/async"
	"github.com/fpt/agentbridge/internal/repository"
	"github.com/fpt/agentbridge/pkg/agent/domain"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
	"github.com/fpt/agentbridge/pkg/message"
)

const (
	defaultPoolSize           = 10
	defaultTokenWarnThreshold = 6000

	// ErrorCommandPrefix starts the single command produced when translation fails.
	ErrorCommandPrefix = "Error translating to KQML: "
)

var (
	// ErrBackendUnavailable wraps every failure to initialize a session.
	ErrBackendUnavailable = errors.New("translation backend unavailable")
	// ErrServiceClosed is returned for work submitted after Close.
	ErrServiceClosed = errors.New("translation service closed")
)

// BackendError carries the cause of a failed Initialize. It matches
// ErrBackendUnavailable under errors.Is.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string        { return e.Err.Error() }
func (e *BackendError) Unwrap() error        { return e.Err }
func (e *BackendError) Is(target error) bool { return target == ErrBackendUnavailable }

// Result is the outcome of one translation. Commands is never empty when
// Err is set: it then holds the synthetic error command.
type Result struct {
	Commands []string
	Cost     int
	Err      error
}

// Options configures a Service.
type Options struct {
	PoolSize           int
	TokenWarnThreshold int
	Template           *Template
	Logger             *pkgLogger.Logger
	// Transcripts, when set, receives each session's turns on End.
	Transcripts repository.TranscriptRepository
}

// Service runs Initialize and Translate calls against a SessionLLM.
type Service struct {
	llm       domain.SessionLLM
	sem       *semaphore.Weighted
	threshold int
	template  *Template
	logger    *pkgLogger.Logger

	transcripts repository.TranscriptRepository
	turns       *message.History // nil without transcripts

	mu     sync.RWMutex // guards closed against wg.Add
	wg     sync.WaitGroup
	closed bool
}

// NewService creates a service with a pool of opts.PoolSize workers.
func NewService(llm domain.SessionLLM, opts Options) *Service {
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}
	if opts.TokenWarnThreshold <= 0 {
		opts.TokenWarnThreshold = defaultTokenWarnThreshold
	}
	if opts.Template == nil {
		opts.Template = DefaultTemplate()
	}
	if opts.Logger == nil {
		opts.Logger = pkgLogger.NewComponentLogger("translation")
	}
	s := &Service{
		llm:         llm,
		sem:         semaphore.NewWeighted(int64(opts.PoolSize)),
		threshold:   opts.TokenWarnThreshold,
		template:    opts.Template,
		logger:      opts.Logger,
		transcripts: opts.Transcripts,
	}
	if s.transcripts != nil {
		s.turns = message.NewHistory()
	}
	return s
}

// ModelID identifies the backend model.
func (s *Service) ModelID() string {
	return s.llm.ModelID()
}

// submit runs fn on the pool. fn is not called when the pool slot cannot be
// acquired; onReject receives the reason instead.
func (s *Service) submit(ctx context.Context, fn func(context.Context), onReject func(error)) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		onReject(ErrServiceClosed)
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			onReject(errors.Wrap(err, "waiting for a translation worker"))
			return
		}
		defer s.sem.Release(1)
		fn(ctx)
	}()
}

// Initialize primes the session with the prompt built from the agent's plan
// reply. The future yields the prompt's token cost.
func (s *Service) Initialize(ctx context.Context, sessionID, planReply string) *async.Future[int] {
	future := async.NewFuture[int]()
	logger := s.logger.WithSession(sessionID)

	s.submit(ctx, func(ctx context.Context) {
		prompt := s.template.Render(planReply)
		logger.DebugWithIntention(pkgLogger.IntentionTranslate, "Initializing translation session", "plans", ExtractPlans(planReply))

		usage, err := s.llm.StartSession(ctx, sessionID, prompt)
		if err != nil {
			logger.Error("Failed to initialize translation session", "error", err)
			future.Fail(&BackendError{Err: err})
			return
		}

		cost := usage.InputTokens
		if s.turns != nil {
			primer := message.NewSystemMessage(prompt)
			primer.SetTokenUsage(usage)
			s.turns.Start(sessionID, primer)
		}
		s.checkCost(logger, cost)
		logger.InfoWithIntention(pkgLogger.IntentionSuccess, "Translation session initialized", "model", s.llm.ModelID(), "cost", cost)
		future.Complete(cost, nil)
	}, func(err error) {
		future.Fail(&BackendError{Err: err})
	})
	return future
}

// Translate converts text into commands. The future always succeeds; a
// backend failure is reported as a single synthetic error command.
func (s *Service) Translate(ctx context.Context, sessionID, text string) *async.Future[Result] {
	future := async.NewFuture[Result]()
	logger := s.logger.WithSession(sessionID)

	fail := func(err error) {
		logger.Error("Translation failed", "error", err)
		future.Complete(errorResult(err), nil)
	}

	s.submit(ctx, func(ctx context.Context) {
		reply, usage, err := s.llm.Send(ctx, sessionID, text)
		if err != nil {
			fail(err)
			return
		}

		commands := SplitCommands(reply)
		if s.turns != nil {
			answer := message.NewChatMessage(message.MessageTypeAssistant, reply)
			answer.SetTokenUsage(usage)
			s.turns.Append(sessionID, message.NewChatMessage(message.MessageTypeUser, text), answer)
		}
		s.checkCost(logger, usage.InputTokens)
		logger.InfoWithIntention(pkgLogger.IntentionTranslate, "Translated message",
			"commands", len(commands), "cost", usage.InputTokens)
		future.Complete(Result{Commands: commands, Cost: usage.InputTokens}, nil)
	}, fail)
	return future
}

// End forgets the backend session, saving its transcript first when a
// repository is configured.
func (s *Service) End(sessionID string) {
	logger := s.logger.WithSession(sessionID)
	s.llm.EndSession(sessionID)
	if s.turns != nil {
		if turns, ok := s.turns.Snapshot(sessionID); ok {
			s.turns.End(sessionID)
			if err := s.transcripts.Save(sessionID, s.llm.ModelID(), turns); err != nil {
				logger.Warn("Failed to save transcript", "error", err)
			} else {
				logger.DebugWithIntention(pkgLogger.IntentionStatistics, "Transcript saved", "turns", len(turns))
			}
		}
	}
	logger.Debug("Translation session ended")
}

// Close rejects new work and waits for in-flight calls.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) checkCost(logger *pkgLogger.Logger, cost int) {
	if cost > s.threshold {
		logger.WarnWithIntention(pkgLogger.IntentionWarning, "Prompt cost above threshold",
			"cost", cost, "threshold", s.threshold)
	}
	if cw, ok := s.llm.(domain.ContextWindowProvider); ok && cw.MaxContextTokens() > 0 {
		logger.DebugWithIntention(pkgLogger.IntentionStatistics, "Context utilization",
			"cost", cost, "window", cw.MaxContextTokens())
	}
}

func errorResult(err error) Result {
	return Result{Commands: []string{ErrorCommandPrefix + err.Error()}, Err: err}
}

// SplitCommands splits backend output into one command per non-blank line,
// trimming whitespace, surrounding quotes and markdown code fences.
func SplitCommands(reply string) []string {
	commands := make([]string, 0)
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		if len(line) >= 2 && line[0] == '"' && line[len(line)-1] == '"' {
			line = strings.TrimSpace(line[1 : len(line)-1])
			if line == "" {
				continue
			}
		}
		commands = append(commands, line)
	}
	return commands
}
