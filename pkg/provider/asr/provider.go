// Package asr defines the Provider interface for streaming speech
// recognition backends.
//
// An ASR provider wraps a recognition engine (a local whisper.cpp model, the
// Deepgram streaming API, …) behind a pull-style streaming interface: the
// perception worker opens a stream per session and feeds it audio frames one
// at a time; every Feed returns the recognizer's current view of the
// in-progress utterance plus an endpoint flag. When the flag is set the
// returned text is the committed utterance and the stream resets itself for
// the next one.
//
// This per-feed contract keeps endpoint detection inside the provider, where
// engines differ the most, and keeps the perception worker a plain loop.
package asr

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// stream.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The pipeline feeds 16000.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g. "en", "zh").
	// Empty lets the provider auto-detect, if supported.
	Language string
}

// Result is the recognizer state returned by one Feed call.
type Result struct {
	// Text is the transcript accumulated so far. When Endpoint is true it is
	// the full committed utterance; otherwise it is an interim view and may be
	// empty for engines that only decode at endpoints.
	Text string

	// Endpoint reports that the recognizer committed to an utterance boundary.
	// After an endpoint the stream's internal state is reset.
	Endpoint bool

	// Language is the detected language of the utterance, when the engine
	// reports one. Empty otherwise.
	Language string

	// Confidence is the engine's confidence in [0,1]; negative when the
	// engine does not report one.
	Confidence float64
}

// StreamHandle is an open recognition stream. Handles are NOT safe for
// concurrent use: exactly one goroutine (the session's perception worker)
// owns a handle.
//
// Callers must call Close when the stream is no longer needed; failing to do
// so may leak engine contexts or network connections.
type StreamHandle interface {
	// Feed delivers one frame of mono float32 PCM in [-1.0, 1.0] and returns
	// the recognizer's current state. Feed after Close returns an error.
	Feed(pcm []float32) (Result, error)

	// Reset discards all buffered audio and in-progress decoding state, as if
	// the stream were freshly opened. Used when an utterance is abandoned.
	Reset()

	// Close releases the stream's resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any ASR backend. Implementations must be
// safe for concurrent use; multiple streams may be open simultaneously, one
// per session.
type Provider interface {
	// StartStream opens a new recognition stream. The returned handle is
	// ready to accept audio immediately. The caller owns the handle and must
	// call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error)
}
