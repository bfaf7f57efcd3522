// Package brain implements the per-session orchestrator: the single worker
// that consumes committed user input, drives streaming LLM turns with
// tool-call loops, fans assistant deltas out to the UI queue, and enqueues
// completed utterances for speech synthesis.
//
// One Brain exists per session and processes turns strictly serially. The
// conversation history is owned exclusively by the Brain; no other worker
// reads or writes it.
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/tanklabs/tankd/internal/observe"
	"github.com/tanklabs/tankd/internal/runtime"
	"github.com/tanklabs/tankd/internal/tools"
	"github.com/tanklabs/tankd/pkg/provider/llm"
	"github.com/tanklabs/tankd/pkg/types"
)

const (
	// defaultMaxTurns bounds the conversation history to 2*maxTurns+1 records.
	defaultMaxTurns = 20

	// defaultToolLoopLimit caps the number of LLM round-trips within one turn.
	defaultToolLoopLimit = 8

	// toolResultPreviewLen is the truncation length of tool results shown to
	// the client. The LLM always sees the full result.
	toolResultPreviewLen = 200

	// assistantSpeaker is the display label for assistant output.
	assistantSpeaker = "Assistant"
)

// defaultSystemPrompt keeps the assistant conversational: responses are
// spoken aloud, so brevity matters.
const defaultSystemPrompt = "You are a helpful voice assistant. Answer concisely in the language the user speaks; your replies are read aloud, so avoid markdown, lists, and long preambles. Use the available tools when they help."

// apologies holds the localized fallback spoken when an LLM turn fails,
// keyed by primary language subtag.
var apologies = map[string]string{
	"zh": "抱歉，我这边出了点问题，请再说一遍。",
	"de": "Entschuldigung, da ist etwas schiefgelaufen. Bitte versuch es noch einmal.",
	"":   "Sorry, something went wrong on my end. Please try again.",
}

// turnOutcome classifies how a turn ended.
type turnOutcome int

const (
	turnOK turnOutcome = iota
	turnInterrupted
	turnError
)

// Brain orchestrates assistant turns for one session.
//
// Run is the worker entry point; all other state is private. Not safe for
// concurrent use — exactly one goroutine runs the Brain.
type Brain struct {
	provider    llm.Provider
	registry    *tools.Registry
	queues      *runtime.Queues
	interrupter *runtime.Interrupter
	log         *slog.Logger
	metrics     *observe.Metrics

	systemPrompt  string
	maxTurns      int
	toolLoopLimit int
	temperature   float64
	voice         string
	bargeIn       bool

	// onExit is invoked when the user issues an exit command.
	onExit func()

	// history is the conversation record. Index 0 is always the system prompt.
	history []types.Message
}

// Option is a functional option for configuring a Brain during construction.
type Option func(*Brain)

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(b *Brain) {
		if prompt != "" {
			b.systemPrompt = prompt
		}
	}
}

// WithMaxTurns bounds the conversation history to 2*n+1 records.
func WithMaxTurns(n int) Option {
	return func(b *Brain) {
		if n > 0 {
			b.maxTurns = n
		}
	}
}

// WithToolLoopLimit caps LLM round-trips within a single turn. Default 8.
func WithToolLoopLimit(n int) Option {
	return func(b *Brain) {
		if n > 0 {
			b.toolLoopLimit = n
		}
	}
}

// WithTemperature sets the sampling temperature passed to the LLM.
func WithTemperature(t float64) Option {
	return func(b *Brain) { b.temperature = t }
}

// WithVoice sets the voice id attached to outgoing TTS requests.
func WithVoice(voice string) Option {
	return func(b *Brain) { b.voice = voice }
}

// WithBargeIn enables or disables mid-turn interruption. Default enabled.
func WithBargeIn(enabled bool) Option {
	return func(b *Brain) { b.bargeIn = enabled }
}

// WithOnExit registers a callback invoked when the user types an exit
// command. Typically wired to the session's shutdown.
func WithOnExit(fn func()) Option {
	return func(b *Brain) { b.onExit = fn }
}

// WithLogger sets the structured logger. Default is slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(b *Brain) {
		if log != nil {
			b.log = log
		}
	}
}

// New constructs a Brain consuming from q.BrainIn and producing to q.UI and
// q.TTS, under the shared interrupt discipline of in.
func New(provider llm.Provider, registry *tools.Registry, q *runtime.Queues, in *runtime.Interrupter, opts ...Option) *Brain {
	b := &Brain{
		provider:      provider,
		registry:      registry,
		queues:        q,
		interrupter:   in,
		log:           slog.Default(),
		metrics:       observe.DefaultMetrics(),
		systemPrompt:  defaultSystemPrompt,
		maxTurns:      defaultMaxTurns,
		toolLoopLimit: defaultToolLoopLimit,
		temperature:   0.7,
		bargeIn:       true,
	}
	for _, o := range opts {
		o(b)
	}
	b.history = []types.Message{{Role: "system", Content: b.systemPrompt}}
	return b
}

// Run consumes brain-input events until ctx is cancelled, the input queue is
// closed, or the user issues an exit command. Turns are processed strictly
// one at a time.
func (b *Brain) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-b.queues.BrainIn:
			if !ok {
				return nil
			}
			if b.handleEvent(ctx, event) {
				return nil
			}
		}
	}
}

// handleEvent processes one input event. Reports whether the session should
// shut down (exit command).
func (b *Brain) handleEvent(ctx context.Context, event types.BrainInputEvent) (shutdown bool) {
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return false
	}

	if event.Kind == types.InputText && isExitCommand(text) {
		b.log.Info("exit command received", "session_input", text)
		b.interrupter.Trigger()
		if b.onExit != nil {
			b.onExit()
		}
		return true
	}

	b.runTurn(ctx, event, text)
	return false
}

// runTurn executes one full assistant turn for the given user text.
func (b *Brain) runTurn(ctx context.Context, event types.BrainInputEvent, text string) {
	start := time.Now()

	// A fresh turn supersedes any pending interrupt.
	b.interrupter.Clear()

	b.append(types.Message{Role: "user", Content: text})

	msgID := uuid.NewString()
	b.pushSignal(types.SignalProcessingStarted, msgID)
	// processing_ended must fire on every path: success, error, barge-in.
	defer b.pushSignal(types.SignalProcessingEnded, msgID)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fullText, outcome, err := b.streamTurn(turnCtx, msgID)

	switch outcome {
	case turnOK:
		b.pushFinal(msgID)
		b.append(types.Message{Role: "assistant", Content: fullText})
		if fullText != "" {
			b.enqueueTTS(ctx, types.TTSRequest{Text: fullText, Language: event.Language, Voice: b.voice})
		}
		b.metrics.RecordTurn(ctx, "ok")

	case turnInterrupted:
		// Close the visual block; the superseded partial never reaches
		// history or TTS.
		b.pushFinal(msgID)
		b.log.Info("turn interrupted", "msg_id", msgID)
		b.metrics.RecordTurn(ctx, "interrupted")

	case turnError:
		b.log.Error("assistant turn failed", "msg_id", msgID, "error", err)
		b.pushDisplay(types.DisplayMessage{
			Speaker: assistantSpeaker,
			Text:    apologyFor(event.Language),
			IsFinal: true,
			ID:      uuid.NewString(),
			Kind:    types.UpdateText,
		})
		b.metrics.RecordTurn(ctx, "error")
	}

	b.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
}

// streamTurn runs the inner streaming loop: repeated LLM invocations until
// the model stops requesting tools, the turn errors, or an interrupt fires.
// When the tool-loop cap is hit, the requested calls are refused with a
// structured error fed back as their tool results, and the model gets one
// closing round — with no tools offered — to answer in plain text. The
// accumulated visible text is returned for history and TTS.
func (b *Brain) streamTurn(ctx context.Context, msgID string) (string, turnOutcome, error) {
	var full strings.Builder
	messages := append([]types.Message(nil), b.history...)

	for round := 0; round <= b.toolLoopLimit; round++ {
		closing := round == b.toolLoopLimit

		req := llm.CompletionRequest{
			Messages:    messages,
			Temperature: b.temperature,
		}
		if !closing {
			req.Tools = b.registry.Definitions()
		}

		llmStart := time.Now()
		ch, err := b.provider.StreamCompletion(ctx, req)
		if err != nil {
			b.metrics.RecordProviderError(ctx, "llm", "stream_start")
			return full.String(), turnError, fmt.Errorf("brain: completion stream failed: %w", err)
		}

		var pending []types.ToolCall
	stream:
		for chunk := range ch {
			if b.bargeIn && b.interrupter.Triggered() {
				go runtime.Drain(ch)
				return full.String(), turnInterrupted, nil
			}

			if chunk.Reasoning != "" {
				b.pushDisplay(types.DisplayMessage{
					Speaker: assistantSpeaker,
					Text:    chunk.Reasoning,
					ID:      msgID,
					Kind:    types.UpdateThought,
				})
			}
			if chunk.Text != "" && chunk.FinishReason != "error" {
				full.WriteString(chunk.Text)
				b.pushDisplay(types.DisplayMessage{
					Speaker: assistantSpeaker,
					Text:    chunk.Text,
					ID:      msgID,
					Kind:    types.UpdateText,
				})
			}

			switch chunk.FinishReason {
			case "":
			case "error":
				b.metrics.RecordProviderError(ctx, "llm", "stream")
				return full.String(), turnError, fmt.Errorf("brain: completion stream error: %s", chunk.Text)
			default:
				pending = chunk.ToolCalls
				break stream
			}
		}
		b.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())

		if ctx.Err() != nil {
			return full.String(), turnInterrupted, nil
		}
		if len(pending) == 0 {
			return full.String(), turnOK, nil
		}
		if closing {
			return full.String(), turnError, fmt.Errorf("brain: model requested tools past the %d-round limit", b.toolLoopLimit)
		}

		messages = append(messages, types.Message{Role: "assistant", ToolCalls: pending})

		if round == b.toolLoopLimit-1 {
			// Cap reached: refuse instead of executing, then let the model
			// wrap up in the closing round.
			b.log.Warn("tool loop limit reached", "limit", b.toolLoopLimit, "msg_id", msgID)
			for _, call := range pending {
				b.refuseTool(ctx, msgID, call)
				messages = append(messages, types.Message{
					Role:       "tool",
					Content:    toolLimitResult(b.toolLoopLimit),
					Name:       call.Name,
					ToolCallID: call.ID,
				})
			}
			continue
		}

		for _, call := range pending {
			result := b.executeTool(ctx, msgID, call)
			messages = append(messages, types.Message{
				Role:       "tool",
				Content:    result,
				Name:       call.Name,
				ToolCallID: call.ID,
			})
		}
	}

	return full.String(), turnError, fmt.Errorf("brain: tool loop exceeded %d rounds", b.toolLoopLimit)
}

// refuseTool reports a refused tool call to the UI as an errored result.
func (b *Brain) refuseTool(ctx context.Context, msgID string, call types.ToolCall) {
	b.metrics.RecordToolCall(ctx, call.Name, "refused")
	b.pushDisplay(types.DisplayMessage{
		Speaker: assistantSpeaker,
		Text:    "tool loop limit reached",
		ID:      msgID,
		Kind:    types.UpdateToolResult,
		Metadata: map[string]any{
			"name":   call.Name,
			"status": "error",
		},
	})
}

// toolLimitResult is the structured refusal fed back as a tool result when a
// turn hits the tool-loop cap.
func toolLimitResult(limit int) string {
	return fmt.Sprintf(`{"error":"tool_loop_limit_exceeded","limit":%d,"detail":"no further tool calls are allowed in this turn; answer the user with the information gathered so far"}`, limit)
}

// executeTool runs one tool call, streaming TOOL_CALL and TOOL_RESULT deltas
// to the UI, and returns the result string for the tool-role message.
func (b *Brain) executeTool(ctx context.Context, msgID string, call types.ToolCall) string {
	b.pushDisplay(types.DisplayMessage{
		Speaker: assistantSpeaker,
		Text:    call.Name,
		ID:      msgID,
		Kind:    types.UpdateToolCall,
		Metadata: map[string]any{
			"name":      call.Name,
			"arguments": call.Arguments,
			"status":    "running",
		},
	})

	start := time.Now()
	result, ok := b.registry.Execute(ctx, call)
	b.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("tool", call.Name)))

	status := "success"
	if !ok {
		status = "error"
	}
	b.metrics.RecordToolCall(ctx, call.Name, status)
	b.log.Debug("tool executed", "tool", call.Name, "status", status, "duration", time.Since(start))

	b.pushDisplay(types.DisplayMessage{
		Speaker: assistantSpeaker,
		Text:    truncate(result, toolResultPreviewLen),
		ID:      msgID,
		Kind:    types.UpdateToolResult,
		Metadata: map[string]any{
			"name":   call.Name,
			"status": status,
		},
	})

	return result
}

// append adds a message to the history and enforces the 2*maxTurns+1 bound,
// always preserving the system record at index 0.
func (b *Brain) append(m types.Message) {
	b.history = append(b.history, m)
	limit := 2*b.maxTurns + 1
	if len(b.history) <= limit {
		return
	}
	excess := len(b.history) - limit
	// Evict the oldest non-system records.
	b.history = append(b.history[:1], b.history[1+excess:]...)
}

// History returns a copy of the conversation history. Intended for tests and
// diagnostics only; the live slice is never shared.
func (b *Brain) History() []types.Message {
	return append([]types.Message(nil), b.history...)
}

// enqueueTTS offers the request to the audio-output queue, giving up when the
// context ends so shutdown never blocks on a full queue.
func (b *Brain) enqueueTTS(ctx context.Context, req types.TTSRequest) {
	select {
	case b.queues.TTS <- req:
	case <-ctx.Done():
	}
}

func (b *Brain) pushSignal(kind, id string) {
	b.queues.PushUI(types.UIMessage{Signal: &types.SignalMessage{Kind: kind, ID: id}})
}

func (b *Brain) pushDisplay(m types.DisplayMessage) {
	b.queues.PushUI(types.UIMessage{Display: &m})
}

// pushFinal closes a streamed logical message: empty text, is-final set.
func (b *Brain) pushFinal(msgID string) {
	b.pushDisplay(types.DisplayMessage{
		Speaker: assistantSpeaker,
		IsFinal: true,
		ID:      msgID,
		Kind:    types.UpdateText,
	})
}

// isExitCommand reports whether typed text requests session shutdown.
func isExitCommand(text string) bool {
	switch strings.ToLower(text) {
	case "quit", "exit":
		return true
	}
	return false
}

// apologyFor picks the localized turn-failure apology for a BCP-47 tag.
func apologyFor(language string) string {
	primary := language
	if i := strings.IndexByte(primary, '-'); i >= 0 {
		primary = primary[:i]
	}
	if msg, ok := apologies[strings.ToLower(primary)]; ok {
		return msg
	}
	return apologies[""]
}

// truncate shortens s to at most n runes, appending an ellipsis marker when
// anything was cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
