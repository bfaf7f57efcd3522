// Package runtime holds the per-session plumbing shared by all pipeline
// workers: the bounded queues that connect them and the interrupter that
// implements the barge-in discipline.
//
// One Queues/Interrupter pair exists per session. Workers communicate only
// through these channels; none of them hold references to each other.
package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tanklabs/tankd/pkg/types"
)

// Default queue capacities. The frame queue holds ~8 s of 20 ms frames; the
// chunk queue is deliberately small so a synthesis that outruns playback
// blocks the TTS worker instead of buffering unbounded audio.
const (
	DefaultFrameQueueSize = 400
	DefaultBrainQueueSize = 64
	DefaultTTSQueueSize   = 16
	DefaultChunkQueueSize = 20
	DefaultUIQueueSize    = 1024
)

// Queues bundles the bounded channels connecting one session's workers:
//
//	client ─▶ Frames ─▶ perception ─▶ BrainIn ─▶ brain ─▶ TTS ─▶ tts worker
//	                                              │                  │
//	                                              ▼                  ▼
//	                                              UI ◀─────────── Chunks ─▶ sink
type Queues struct {
	// Frames carries captured audio from the client channel to perception.
	Frames chan types.AudioFrame

	// BrainIn carries committed user input (transcripts and typed text) to
	// the brain.
	BrainIn chan types.BrainInputEvent

	// TTS carries completed assistant utterances to the TTS worker.
	TTS chan types.TTSRequest

	// Chunks carries synthesized audio to the sink. A nil element marks the
	// end of one utterance's audio.
	Chunks chan *types.AudioChunk

	// UI carries display messages and lifecycle signals to the client.
	UI chan types.UIMessage
}

// NewQueues creates a Queues with the default capacities.
func NewQueues() *Queues {
	return &Queues{
		Frames:  make(chan types.AudioFrame, DefaultFrameQueueSize),
		BrainIn: make(chan types.BrainInputEvent, DefaultBrainQueueSize),
		TTS:     make(chan types.TTSRequest, DefaultTTSQueueSize),
		Chunks:  make(chan *types.AudioChunk, DefaultChunkQueueSize),
		UI:      make(chan types.UIMessage, DefaultUIQueueSize),
	}
}

// PushFrame offers a frame to the frame queue without blocking. When the
// queue is full the incoming frame is discarded, so a stalled perception
// worker never backs up into the network read loop. Reports whether the
// frame was stored.
func (q *Queues) PushFrame(f types.AudioFrame) bool {
	select {
	case q.Frames <- f:
		return true
	default:
		return false
	}
}

// PushFrameEvict stores a frame, evicting the oldest buffered frame when the
// queue is full. Device-backed capture uses this variant so the buffer always
// holds the most recent audio. Returns the number of frames evicted (0 or 1;
// racing consumers can make eviction unnecessary).
func (q *Queues) PushFrameEvict(f types.AudioFrame) int {
	evicted := 0
	for {
		select {
		case q.Frames <- f:
			return evicted
		default:
		}
		select {
		case <-q.Frames:
			evicted++
		default:
		}
	}
}

// PushUI enqueues a UI message, evicting the oldest buffered message when the
// queue is full. The UI feed favours liveness over completeness: a slow
// client loses old deltas, never new signals.
func (q *Queues) PushUI(m types.UIMessage) {
	for {
		select {
		case q.UI <- m:
			return
		default:
		}
		select {
		case <-q.UI:
		default:
		}
	}
}

// PushBrainInput offers a brain input event without blocking. Reports whether
// the event was stored; a full queue means the brain is badly behind and the
// utterance is dropped.
func (q *Queues) PushBrainInput(e types.BrainInputEvent) bool {
	select {
	case q.BrainIn <- e:
		return true
	default:
		return false
	}
}

// DrainSpeech empties the TTS request queue and the audio chunk queue,
// returning how many elements were discarded from each. Called on interrupt.
func (q *Queues) DrainSpeech() (requests, chunks int) {
	for {
		select {
		case <-q.TTS:
			requests++
			continue
		default:
		}
		break
	}
	for {
		select {
		case <-q.Chunks:
			chunks++
			continue
		default:
		}
		break
	}
	return requests, chunks
}

// Interrupter implements the shared barge-in discipline. Perception (or a
// client interrupt signal) calls Trigger; the brain observes the flag between
// streaming deltas and abandons its turn; the flag is cleared by the brain
// when a new turn starts and by the TTS worker when a new synthesis starts.
//
// All methods are safe for concurrent use.
type Interrupter struct {
	flag atomic.Bool

	queues *Queues

	mu     sync.Mutex
	cancel context.CancelFunc // in-flight synthesis, nil when idle
}

// NewInterrupter creates an Interrupter draining the given queues on Trigger.
func NewInterrupter(q *Queues) *Interrupter {
	return &Interrupter{queues: q}
}

// Trigger raises the interrupt flag, discards all queued speech (pending TTS
// requests and synthesized chunks), and cancels any in-flight synthesis.
// Safe to call repeatedly; every call re-drains.
func (i *Interrupter) Trigger() {
	i.flag.Store(true)
	i.queues.DrainSpeech()

	i.mu.Lock()
	cancel := i.cancel
	i.cancel = nil
	i.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Triggered reports whether an interrupt is pending.
func (i *Interrupter) Triggered() bool {
	return i.flag.Load()
}

// Clear lowers the interrupt flag. The brain calls this at the start of each
// turn; the TTS worker calls it when starting a new synthesis so stale
// interrupts never cancel fresh speech.
func (i *Interrupter) Clear() {
	i.flag.Store(false)
}

// SetCancel registers the cancel function of the synthesis currently in
// flight. Pass nil when synthesis finishes. If an interrupt is already
// pending, the function is invoked immediately instead of stored.
func (i *Interrupter) SetCancel(cancel context.CancelFunc) {
	if cancel != nil && i.flag.Load() {
		cancel()
		return
	}
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()
}
