// Package deepgram provides an asr.Provider backed by the Deepgram streaming
// WebSocket API.
//
// Deepgram pushes interim and final results asynchronously; the stream handle
// bridges that to the pull-style Feed contract by collecting results in the
// read loop and handing the latest state back on the next Feed. A Deepgram
// final (speech_final) maps to an endpoint.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/tanklabs/tankd/pkg/audio"
	"github.com/tanklabs/tankd/pkg/provider/asr"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// Provider implements asr.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming recognition session with Deepgram. It
// respects cfg.SampleRate and cfg.Language.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.StreamHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &stream{
		conn: conn,
		done: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop(ctx)

	return s, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg asr.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" || lang == "auto" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ─── stream ──────────────────────────────────────────────────────────────────

// deepgramResponse is the JSON structure returned by Deepgram for a Results
// event.
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence float64  `json:"confidence"`
			Languages  []string `json:"languages"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// stream is a live Deepgram recognition stream implementing asr.StreamHandle.
// The read loop and the feeding goroutine share state under mu.
type stream struct {
	conn *websocket.Conn

	mu sync.Mutex
	// partial is the interim text of the current utterance; segments holds
	// is_final fragments not yet closed by a speech_final.
	partial    string
	segments   []string
	pendingFin *asr.Result // committed utterance awaiting pickup by Feed

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	readErr   error
}

var _ asr.StreamHandle = (*stream)(nil)

// Feed sends one frame to Deepgram and returns the recognizer state collected
// since the previous call.
func (s *stream) Feed(pcm []float32) (asr.Result, error) {
	select {
	case <-s.done:
		return asr.Result{}, errors.New("deepgram: stream is closed")
	default:
	}

	if len(pcm) > 0 {
		if err := s.conn.Write(context.Background(), websocket.MessageBinary, audio.Float32ToPCM16(pcm)); err != nil {
			return asr.Result{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return asr.Result{}, s.readErr
	}
	if s.pendingFin != nil {
		r := *s.pendingFin
		s.pendingFin = nil
		return r, nil
	}
	return asr.Result{Text: s.currentLocked(), Confidence: -1}, nil
}

// Reset discards interim state. Audio already in flight to Deepgram may still
// produce a final, which Reset also clears.
func (s *stream) Reset() {
	s.mu.Lock()
	s.partial = ""
	s.segments = nil
	s.pendingFin = nil
	s.mu.Unlock()
}

// Close terminates the session cleanly, asking Deepgram to flush pending
// audio first.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "stream closed")
	})
	return nil
}

// currentLocked joins committed segments with the live partial. mu must be
// held.
func (s *stream) currentLocked() string {
	text := ""
	for _, seg := range s.segments {
		if text != "" {
			text += " "
		}
		text += seg
	}
	if s.partial != "" {
		if text != "" {
			text += " "
		}
		text += s.partial
	}
	return text
}

// readLoop receives JSON messages from Deepgram and folds them into the
// shared state until the connection closes.
func (s *stream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.mu.Lock()
				s.readErr = fmt.Errorf("deepgram: read: %w", err)
				s.mu.Unlock()
			}
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
			continue
		}
		alt := resp.Channel.Alternatives[0]

		s.mu.Lock()
		switch {
		case resp.SpeechFinal:
			if alt.Transcript != "" {
				s.segments = append(s.segments, alt.Transcript)
			}
			s.partial = ""
			if text := s.currentLocked(); text != "" {
				lang := ""
				if len(alt.Languages) > 0 {
					lang = alt.Languages[0]
				}
				s.pendingFin = &asr.Result{
					Text:       text,
					Endpoint:   true,
					Language:   lang,
					Confidence: alt.Confidence,
				}
			}
			s.segments = nil
		case resp.IsFinal:
			if alt.Transcript != "" {
				s.segments = append(s.segments, alt.Transcript)
			}
			s.partial = ""
		default:
			s.partial = alt.Transcript
		}
		s.mu.Unlock()
	}
}
