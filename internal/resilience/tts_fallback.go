package resilience

import (
	"context"

	"github.com/tanklabs/tankd/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
//
// All entries should emit PCM at the same sample rate: the playback path
// sizes its fades and client output from SampleRate(), which reports the
// primary's rate regardless of which entry actually served a request.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize starts synthesis on the first healthy provider and returns its
// PCM channel. Only stream setup is covered by failover; a stream that dies
// mid-utterance closes early like any provider failure.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices returns the voice catalogue of the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}

// SampleRate reports the primary's output sample rate.
func (f *TTSFallback) SampleRate() int {
	return f.group.primary().SampleRate()
}
