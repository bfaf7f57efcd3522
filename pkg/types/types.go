// Package types defines the shared types used across all tankd packages.
//
// These types form the lingua franca between providers, the per-session
// pipeline workers, and the client channel adapter. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// AudioFrame is a single frame of captured audio flowing from an ingest
// source into perception. Frames are immutable once constructed.
type AudioFrame struct {
	// PCM is mono audio as float32 samples in [-1.0, 1.0].
	PCM []float32

	// SampleRate in Hz. The pipeline expects 16000.
	SampleRate int

	// Timestamp is the wall-clock arrival time of this frame.
	Timestamp time.Time
}

// Duration returns the audio duration covered by the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.PCM)) * time.Second / time.Duration(f.SampleRate)
}

// AudioChunk is a slice of synthesized speech flowing from the TTS worker to
// an audio sink. A nil *AudioChunk in the chunk queue marks end-of-stream.
type AudioChunk struct {
	// Data is raw PCM as little-endian signed 16-bit samples.
	Data []byte

	// SampleRate in Hz (typically 24000 for TTS output).
	SampleRate int

	// Channels is the channel count, usually 1.
	Channels int
}

// TTSRequest asks the TTS worker to speak a completed assistant utterance.
type TTSRequest struct {
	// Text is the full text to synthesize.
	Text string

	// Language is a BCP-47 tag or "auto".
	Language string

	// Voice optionally overrides the configured voice id.
	Voice string
}

// InputKind classifies the origin of a BrainInputEvent.
type InputKind int

const (
	// InputText is keyboard text typed by the client.
	InputText InputKind = iota

	// InputAudio is a final transcript produced by perception.
	InputAudio

	// InputSystem is an internally generated event.
	InputSystem
)

// String returns the human-readable name of the input kind.
func (k InputKind) String() string {
	switch k {
	case InputText:
		return "text"
	case InputAudio:
		return "audio"
	case InputSystem:
		return "system"
	default:
		return "unknown"
	}
}

// BrainInputEvent is one unit of user input consumed by the brain
// orchestrator. Events are immutable once constructed.
type BrainInputEvent struct {
	// Kind records whether the event came from typed text, speech, or the system.
	Kind InputKind

	// Text is the user utterance.
	Text string

	// User is the display label of the speaker (e.g. "User", "Keyboard").
	User string

	// Language is the detected BCP-47 language tag, when known.
	Language string

	// Confidence is the recognizer's language confidence in [0,1]; negative
	// when the recognizer does not report one.
	Confidence float64

	// Timestamp marks when the event was produced.
	Timestamp time.Time

	// Metadata carries free-form producer annotations.
	Metadata map[string]any
}

// UpdateKind describes the semantic role of one streaming assistant delta.
type UpdateKind int

const (
	// UpdateText is visible assistant prose.
	UpdateText UpdateKind = iota

	// UpdateThought is model reasoning text.
	UpdateThought

	// UpdateToolCall is a partial or complete tool-invocation descriptor.
	UpdateToolCall

	// UpdateToolResult is a truncated tool execution result summary.
	UpdateToolResult
)

// String returns the wire name of the update kind, matching the
// metadata.update_type values of the client protocol.
func (k UpdateKind) String() string {
	switch k {
	case UpdateText:
		return "TEXT"
	case UpdateThought:
		return "THOUGHT"
	case UpdateToolCall:
		return "TOOL_CALL"
	case UpdateToolResult:
		return "TOOL_RESULT"
	default:
		return "UNKNOWN"
	}
}

// DisplayMessage is a content message bound for the client: a user transcript
// or an assistant delta. Clients merge streaming updates by ID.
type DisplayMessage struct {
	// Speaker is the display label of the producer.
	Speaker string

	// Text is the payload. For streaming updates this is a delta; the closing
	// final message carries an empty Text.
	Text string

	// IsUser is true for user transcripts, false for assistant output.
	IsUser bool

	// IsFinal marks the last message of a streamed logical message.
	IsFinal bool

	// ID is stable across all partials and the final of one logical message.
	ID string

	// Kind is the semantic role of the delta.
	Kind UpdateKind

	// Metadata carries free-form annotations (tool call index, status, …).
	Metadata map[string]any
}

// Signal kinds carried by SignalMessage. The set is closed; the client
// protocol transmits these strings verbatim.
const (
	SignalReady             = "ready"
	SignalProcessingStarted = "processing_started"
	SignalProcessingEnded   = "processing_ended"
	SignalTTSEnded          = "tts_ended"
	SignalInterrupt         = "interrupt"
)

// SignalMessage is a lifecycle signal bound for the client.
type SignalMessage struct {
	// Kind is one of the Signal* constants.
	Kind string

	// ID optionally ties the signal to a logical message.
	ID string

	// Metadata carries free-form annotations.
	Metadata map[string]any
}

// UIMessage is the tagged sum of the two message shapes carried by the UI
// queue. Exactly one of Signal and Display is non-nil.
type UIMessage struct {
	Signal  *SignalMessage
	Display *DisplayMessage
}

// Message represents a single record in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name; for tool-role messages it is the
	// tool name.
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this
	// responds to.
	ToolCallID string
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool name.
	Name string

	// Arguments is the JSON-encoded arguments string, possibly accumulated
	// from several stream fragments.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}
