// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a
// local Piper instance) and presents a uniform streaming interface: a single
// Synthesize call returns a channel of raw PCM chunks as they become
// available, so playback can start before the full utterance is rendered.
// Cancelling the context aborts synthesis mid-stream; the implementation
// closes the channel promptly.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice describes one synthesis voice available from a provider.
type Voice struct {
	// ID is the provider-assigned voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Language is the BCP-47 language tag the voice is tuned for, when the
	// provider reports one.
	Language string

	// Metadata carries provider-specific labels (gender, category, …).
	Metadata map[string]string
}

// Request describes one synthesis job.
type Request struct {
	// Text is the full text to synthesize.
	Text string

	// Language is a BCP-47 tag or "auto". Providers use it to pick a default
	// voice when Voice is empty.
	Language string

	// Voice optionally names a specific voice ID, overriding the language
	// default.
	Voice string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; multiple synthesis
// requests may run in parallel across sessions.
type Provider interface {
	// Synthesize renders req.Text and returns a channel emitting raw
	// little-endian 16-bit mono PCM chunks at SampleRate(). The channel is
	// closed when synthesis completes or ctx is cancelled; the caller must
	// drain it to avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis are signalled by closing the channel early; callers
	// should check ctx.Err() to distinguish cancellation from provider
	// failure.
	Synthesize(ctx context.Context, req Request) (<-chan []byte, error)

	// ListVoices returns the provider's current voice catalogue.
	ListVoices(ctx context.Context) ([]Voice, error)

	// SampleRate returns the sample rate in Hz of the PCM emitted by
	// Synthesize. Constant for the lifetime of the provider.
	SampleRate() int
}
