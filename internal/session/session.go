// Package session assembles the per-session worker graph — perception,
// brain, TTS worker, and audio sink — over a shared queue set and interrupt
// discipline, and provides the registry that maps session ids to live
// sessions.
//
// A session is either fully up (all workers started) or fully down (all
// workers joined, queues abandoned); there is no partial state observable
// from outside.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tanklabs/tankd/internal/brain"
	"github.com/tanklabs/tankd/internal/observe"
	"github.com/tanklabs/tankd/internal/perception"
	"github.com/tanklabs/tankd/internal/runtime"
	"github.com/tanklabs/tankd/internal/speech"
	"github.com/tanklabs/tankd/internal/tools"
	"github.com/tanklabs/tankd/pkg/provider/asr"
	"github.com/tanklabs/tankd/pkg/provider/llm"
	"github.com/tanklabs/tankd/pkg/provider/tts"
	"github.com/tanklabs/tankd/pkg/types"
)

// Runner is one long-running session worker. Run blocks until ctx is
// cancelled; returning ctx.Err() on cancellation is the normal exit path.
type Runner interface {
	Run(ctx context.Context) error
}

// SinkFactory builds the audio sink for a new session. The server injects a
// callback sink relaying PCM to the client; tests inject doubles.
type SinkFactory func(q *runtime.Queues, in *runtime.Interrupter) Runner

// Config carries the providers and tuning for new sessions. One Config is
// shared by all sessions of a registry.
type Config struct {
	ASR   asr.Provider
	LLM   llm.Provider
	TTS   tts.Provider
	Tools *tools.Registry

	// SinkFactory builds the per-session audio sink. Required.
	SinkFactory SinkFactory

	// SystemPrompt, Voice, and Language tune the assistant. Zero values fall
	// back to package defaults.
	SystemPrompt string
	Voice        string
	Language     string

	// SpeakerLabel is the display name attached to user transcripts. Empty
	// means "User".
	SpeakerLabel string

	// MaxTurns bounds the conversation history to 2*MaxTurns+1 records.
	MaxTurns int

	// Temperature is the LLM sampling temperature.
	Temperature float64

	// Logger is the base structured logger; sessions attach their id.
	Logger *slog.Logger
}

// Session is one live assistant session: the queue set, the interrupter, and
// the running worker graph.
type Session struct {
	id          string
	queues      *runtime.Queues
	interrupter *runtime.Interrupter
	log         *slog.Logger
	metrics     *observe.Metrics

	cancel context.CancelFunc
	group  *errgroup.Group

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	// onDown is invoked once after all workers joined (registry cleanup).
	onDown func()
}

// newSession builds and starts the full worker graph. All workers are
// running when newSession returns.
func newSession(id string, cfg Config, onDown func()) (*Session, error) {
	if cfg.ASR == nil || cfg.LLM == nil || cfg.TTS == nil {
		return nil, errors.New("session: ASR, LLM, and TTS providers are required")
	}
	if cfg.SinkFactory == nil {
		return nil, errors.New("session: sink factory is required")
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	q := runtime.NewQueues()
	in := runtime.NewInterrupter(q)

	s := &Session{
		id:          id,
		queues:      q,
		interrupter: in,
		log:         log.With("session_id", id),
		metrics:     observe.DefaultMetrics(),
		done:        make(chan struct{}),
		onDown:      onDown,
	}

	brainOpts := []brain.Option{
		brain.WithLogger(s.log),
		brain.WithOnExit(func() { go s.Close() }),
	}
	if cfg.SystemPrompt != "" {
		brainOpts = append(brainOpts, brain.WithSystemPrompt(cfg.SystemPrompt))
	}
	if cfg.MaxTurns > 0 {
		brainOpts = append(brainOpts, brain.WithMaxTurns(cfg.MaxTurns))
	}
	if cfg.Temperature > 0 {
		brainOpts = append(brainOpts, brain.WithTemperature(cfg.Temperature))
	}
	if cfg.Voice != "" {
		brainOpts = append(brainOpts, brain.WithVoice(cfg.Voice))
	}

	perceptionOpts := []perception.Option{perception.WithLogger(s.log)}
	if cfg.Language != "" {
		perceptionOpts = append(perceptionOpts, perception.WithLanguage(cfg.Language))
	}
	if cfg.SpeakerLabel != "" {
		perceptionOpts = append(perceptionOpts, perception.WithUserLabel(cfg.SpeakerLabel))
	}

	workers := []Runner{
		perception.New(cfg.ASR, q, in, perceptionOpts...),
		brain.New(cfg.LLM, cfg.Tools, q, in, brainOpts...),
		speech.NewWorker(cfg.TTS, q, in, speech.WithWorkerLogger(s.log)),
		cfg.SinkFactory(q, in),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	for _, w := range workers {
		g.Go(func() error {
			err := w.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	s.metrics.ActiveSessions.Add(ctx, 1)
	s.log.Info("session started")
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UI returns the queue of display messages and signals bound for the client.
// The session is the only producer; the client channel is the only consumer.
func (s *Session) UI() <-chan types.UIMessage { return s.queues.UI }

// PushFrame offers a captured audio frame. Frames arriving faster than
// perception consumes them are dropped, keeping the network read loop live.
func (s *Session) PushFrame(f types.AudioFrame) {
	if !s.queues.PushFrame(f) {
		s.metrics.DroppedFrames.Add(context.Background(), 1)
	}
}

// PushText commits typed client text as a brain input event.
func (s *Session) PushText(text, user string) {
	if !s.queues.PushBrainInput(types.BrainInputEvent{
		Kind: types.InputText,
		Text: text,
		User: user,
	}) {
		s.log.Warn("brain input queue full, dropping typed text")
	}
}

// Interrupt applies the barge-in discipline on behalf of an explicit client
// signal: flag set, speech queues drained, in-flight synthesis cancelled.
func (s *Session) Interrupt() {
	s.interrupter.Trigger()
	s.metrics.RecordInterrupt(context.Background(), "signal")
}

// Done is closed once the session is fully down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close tears the session down: cancels every worker, waits for all of them
// to join, and runs the registry cleanup. Safe to call repeatedly; later
// calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.group.Wait()
		s.metrics.ActiveSessions.Add(context.Background(), -1)
		if s.onDown != nil {
			s.onDown()
		}
		close(s.done)
		if s.closeErr != nil {
			s.log.Error("session closed with error", "error", s.closeErr)
		} else {
			s.log.Info("session closed")
		}
	})
	<-s.done
	return s.closeErr
}

// ─── registry ────────────────────────────────────────────────────────────────

// DuplicatePolicy selects what Create does when the session id is taken.
type DuplicatePolicy string

const (
	// DuplicateReplace tears down the existing session and starts a new one.
	DuplicateReplace DuplicatePolicy = "replace"

	// DuplicateReject refuses the new session.
	DuplicateReject DuplicatePolicy = "reject"
)

// ErrDuplicateSession is returned by Create under the reject policy.
var ErrDuplicateSession = errors.New("session: id already in use")

// Registry maps session ids to live sessions. Creates and closes are
// linearized by one mutex; worker startup happens inside the critical
// section, so Get observes either a fully started session or nothing.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg    Config
	policy DuplicatePolicy
	log    *slog.Logger
}

// RegistryOption is a functional option for configuring a Registry.
type RegistryOption func(*Registry)

// WithDuplicatePolicy selects the duplicate-id behavior. Default replace.
func WithDuplicatePolicy(p DuplicatePolicy) RegistryOption {
	return func(r *Registry) { r.policy = p }
}

// NewRegistry creates a Registry producing sessions from cfg.
func NewRegistry(cfg Config, opts ...RegistryOption) *Registry {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		policy:   DuplicateReplace,
		log:      log,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the live session with the given id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Create starts a new session under id. Under the replace policy an existing
// session with the same id is torn down first; under reject,
// ErrDuplicateSession is returned. sink overrides the config's sink factory
// when non-nil, letting each client connection attach its own delivery path.
func (r *Registry) Create(id string, sink SinkFactory) (*Session, error) {
	if id == "" {
		return nil, errors.New("session: id must not be empty")
	}

	r.mu.Lock()
	if old, ok := r.sessions[id]; ok {
		if r.policy == DuplicateReject {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
		}
		// Tear the old one down outside the lock: its cleanup callback needs
		// the mutex.
		delete(r.sessions, id)
		r.mu.Unlock()
		_ = old.Close()
		r.mu.Lock()
	}
	defer r.mu.Unlock()

	cfg := r.cfg
	if sink != nil {
		cfg.SinkFactory = sink
	}

	// The cleanup callback compares pointers so a replacement session is
	// never evicted by its predecessor's teardown. s is written and read
	// under r.mu.
	var s *Session
	s, err := newSession(id, cfg, func() {
		r.mu.Lock()
		if r.sessions[id] == s {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	r.sessions[id] = s
	return s, nil
}

// Close tears down the session with the given id. Unknown ids are a no-op.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

// CloseAll tears down every session. Idempotent.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
