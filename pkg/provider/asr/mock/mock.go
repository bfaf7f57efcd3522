// Package mock provides a scriptable in-memory asr.Provider for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/tanklabs/tankd/pkg/provider/asr"
)

var (
	_ asr.Provider     = (*Provider)(nil)
	_ asr.StreamHandle = (*Stream)(nil)
)

// Provider is a mock asr.Provider. Script holds the results to return from
// successive Feed calls on every stream it opens; once the script is
// exhausted, Feed returns empty interim results.
type Provider struct {
	// Script is consumed one entry per Feed call.
	Script []asr.Result

	// StartErr, when set, is returned by StartStream.
	StartErr error

	mu      sync.Mutex
	streams []*Stream
}

// StartStream opens a new mock stream playing back the provider's script.
func (p *Provider) StartStream(_ context.Context, cfg asr.StreamConfig) (asr.StreamHandle, error) {
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := &Stream{Config: cfg, script: p.Script}
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	return s, nil
}

// Streams returns every stream opened so far.
func (p *Provider) Streams() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Stream(nil), p.streams...)
}

// Stream is a mock asr.StreamHandle. It records every fed frame and plays
// back the provider's script.
type Stream struct {
	// Config is the StreamConfig the stream was opened with.
	Config asr.StreamConfig

	// FeedErr, when set, is returned by the next Feed call.
	FeedErr error

	mu     sync.Mutex
	script []asr.Result
	pos    int
	fed    [][]float32
	resets int
	closed bool
}

// Feed records the frame and returns the next scripted result.
func (s *Stream) Feed(pcm []float32) (asr.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return asr.Result{}, errors.New("mock: stream is closed")
	}
	if s.FeedErr != nil {
		err := s.FeedErr
		s.FeedErr = nil
		return asr.Result{}, err
	}
	s.fed = append(s.fed, pcm)
	if s.pos < len(s.script) {
		r := s.script[s.pos]
		s.pos++
		return r, nil
	}
	return asr.Result{Confidence: -1}, nil
}

// Reset counts the call; the script position is preserved so tests can
// continue a planned sequence across resets.
func (s *Stream) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

// Close marks the stream closed.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// FedFrames returns every frame passed to Feed.
func (s *Stream) FedFrames() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]float32(nil), s.fed...)
}

// ResetCount returns how many times Reset was called.
func (s *Stream) ResetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
