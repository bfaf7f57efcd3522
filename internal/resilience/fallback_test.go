package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tanklabs/tankd/pkg/provider/asr"
	asrmock "github.com/tanklabs/tankd/pkg/provider/asr/mock"
	"github.com/tanklabs/tankd/pkg/provider/llm"
	llmmock "github.com/tanklabs/tankd/pkg/provider/llm/mock"
	"github.com/tanklabs/tankd/pkg/provider/tts"
	ttsmock "github.com/tanklabs/tankd/pkg/provider/tts/mock"
	"github.com/tanklabs/tankd/pkg/types"
)

type backend struct {
	err   error
	calls int
}

func (b *backend) call() (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return "ok", nil
}

func TestFallbackGroupPrefersPrimary(t *testing.T) {
	primary := &backend{}
	second := &backend{}
	fg := NewFallbackGroup(primary, "primary", FallbackConfig{})
	fg.AddFallback("second", second)

	got, err := ExecuteWithResult(fg, func(b *backend) (string, error) { return b.call() })
	if err != nil || got != "ok" {
		t.Fatalf("ExecuteWithResult = %q, %v", got, err)
	}
	if primary.calls != 1 || second.calls != 0 {
		t.Errorf("calls = %d/%d, want primary only", primary.calls, second.calls)
	}
}

func TestFallbackGroupFailsOver(t *testing.T) {
	primary := &backend{err: errBackend}
	second := &backend{}
	fg := NewFallbackGroup(primary, "primary", FallbackConfig{})
	fg.AddFallback("second", second)

	got, err := ExecuteWithResult(fg, func(b *backend) (string, error) { return b.call() })
	if err != nil || got != "ok" {
		t.Fatalf("ExecuteWithResult = %q, %v", got, err)
	}
	if primary.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d/%d, want both tried once", primary.calls, second.calls)
	}
}

func TestFallbackGroupAllFail(t *testing.T) {
	fg := NewFallbackGroup(&backend{err: errBackend}, "primary", FallbackConfig{})
	fg.AddFallback("second", &backend{err: errBackend})

	_, err := ExecuteWithResult(fg, func(b *backend) (string, error) { return b.call() })
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("error = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroupSkipsOpenBreaker(t *testing.T) {
	primary := &backend{err: errBackend}
	second := &backend{}
	fg := NewFallbackGroup(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute},
	})
	fg.AddFallback("second", second)

	// First call trips the primary's breaker.
	if _, err := ExecuteWithResult(fg, func(b *backend) (string, error) { return b.call() }); err != nil {
		t.Fatalf("first call: %v", err)
	}
	// Second call must not touch the primary at all.
	if _, err := ExecuteWithResult(fg, func(b *backend) (string, error) { return b.call() }); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary.calls = %d, want 1 (breaker should skip it)", primary.calls)
	}
	if second.calls != 2 {
		t.Errorf("second.calls = %d, want 2", second.calls)
	}
}

func TestFallbackGroupExecute(t *testing.T) {
	primary := &backend{err: errBackend}
	second := &backend{}
	fg := NewFallbackGroup(primary, "primary", FallbackConfig{})
	fg.AddFallback("second", second)

	if err := fg.Execute(func(b *backend) error { _, err := b.call(); return err }); err != nil {
		t.Errorf("Execute: %v", err)
	}
	if second.calls != 1 {
		t.Errorf("second.calls = %d, want 1", second.calls)
	}
}

func TestLLMFallbackStreamsFromHealthyBackend(t *testing.T) {
	primary := &llmmock.Provider{StreamErr: errBackend}
	second := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "hi"}, {FinishReason: "stop"}}}

	f := NewLLMFallback(primary, "openai", FallbackConfig{})
	f.AddFallback("ollama", second)

	ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	var text string
	for c := range ch {
		text += c.Text
	}
	if text != "hi" {
		t.Errorf("streamed text = %q", text)
	}
	if len(primary.StreamCalls) != 1 || len(second.StreamCalls) != 1 {
		t.Errorf("stream calls = %d/%d, want 1/1", len(primary.StreamCalls), len(second.StreamCalls))
	}
}

func TestLLMFallbackCountTokensAndCapabilities(t *testing.T) {
	primary := &llmmock.Provider{
		CountTokensErr:    errBackend,
		ModelCapabilities: types.ModelCapabilities{SupportsToolCalling: true},
	}
	second := &llmmock.Provider{TokenCount: 42}

	f := NewLLMFallback(primary, "openai", FallbackConfig{})
	f.AddFallback("ollama", second)

	n, err := f.CountTokens([]types.Message{{Role: "user", Content: "hello"}})
	if err != nil || n != 42 {
		t.Errorf("CountTokens = %d, %v, want 42 from fallback", n, err)
	}
	if !f.Capabilities().SupportsToolCalling {
		t.Error("Capabilities should come from the primary")
	}
}

func TestASRFallbackStartStream(t *testing.T) {
	primary := &asrmock.Provider{StartErr: errBackend}
	second := &asrmock.Provider{}

	f := NewASRFallback(primary, "deepgram", FallbackConfig{})
	f.AddFallback("whisper", second)

	handle, err := f.StartStream(context.Background(), asr.StreamConfig{SampleRate: 16000, Language: "en"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer handle.Close()

	streams := second.Streams()
	if len(streams) != 1 || streams[0].Config.Language != "en" {
		t.Errorf("fallback streams = %+v, want one with language en", streams)
	}
}

func TestTTSFallbackSynthesize(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errBackend, Rate: 16000}
	second := &ttsmock.Provider{Chunks: [][]byte{{1, 2}}, Rate: 24000}

	f := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	f.AddFallback("backup", second)

	ch, err := f.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	var n int
	for range ch {
		n++
	}
	if n != 1 {
		t.Errorf("chunks = %d, want 1 from fallback", n)
	}
	if got := f.SampleRate(); got != 16000 {
		t.Errorf("SampleRate = %d, want the primary's 16000", got)
	}
}

func TestTTSFallbackListVoices(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesErr: errBackend}
	second := &ttsmock.Provider{Voices: []tts.Voice{{ID: "v1", Name: "Rachel"}}}

	f := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	f.AddFallback("backup", second)

	voices, err := f.ListVoices(context.Background())
	if err != nil || len(voices) != 1 || voices[0].ID != "v1" {
		t.Errorf("ListVoices = %+v, %v", voices, err)
	}
}
