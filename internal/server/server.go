// Package server exposes sessions to remote clients over WebSocket. Each
// client connects to /ws/{session_id} and speaks the channel protocol:
// binary frames carry raw s16le PCM (16 kHz in, TTS rate out), text frames
// carry JSON messages (signals, transcripts, assistant deltas, typed input).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/tanklabs/tankd/internal/runtime"
	"github.com/tanklabs/tankd/internal/session"
	"github.com/tanklabs/tankd/internal/speech"
	"github.com/tanklabs/tankd/pkg/audio"
	"github.com/tanklabs/tankd/pkg/types"
)

// captureSampleRate is the PCM rate expected from clients.
const captureSampleRate = 16000

// keyboardLabel is the speaker label for typed client input.
const keyboardLabel = "Keyboard"

// Server terminates client WebSocket connections and binds each one to a
// session from the registry.
type Server struct {
	registry *session.Registry
	log      *slog.Logger

	// originPatterns is passed to the WebSocket accept options; empty means
	// same-origin only.
	originPatterns []string
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithOriginPatterns allows cross-origin WebSocket connections matching the
// given host patterns ("*" disables the origin check entirely).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// WithLogger sets the structured logger. Default is slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// New constructs a Server backed by the given session registry.
func New(registry *session.Registry, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register installs the WebSocket endpoint on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/{session_id}", s.handleWS)
}

// handleWS upgrades the connection, creates (or replaces) the session, sends
// the ready signal, and runs the read loop until the client disconnects or
// the session shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "session_id", id, "error", err)
		return
	}

	// The connection outlives the HTTP handler's deadline expectations; use
	// a connection-scoped context cancelled on return.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := s.log.With("session_id", id)

	// The sink relays synthesized PCM to the client as binary frames.
	// websocket.Conn serializes concurrent writers internally.
	sink := func(q *runtime.Queues, _ *runtime.Interrupter) session.Runner {
		return speech.NewCallbackSink(q, func(chunk *types.AudioChunk) {
			if err := conn.Write(ctx, websocket.MessageBinary, chunk.Data); err != nil {
				log.Debug("binary write failed", "error", err)
			}
		})
	}

	sess, err := s.registry.Create(id, sink)
	if err != nil {
		log.Warn("session create failed", "error", err)
		conn.Close(websocket.StatusPolicyViolation, "session unavailable")
		return
	}
	log.Info("client connected")

	if err := s.writeJSON(ctx, conn, wireMessage{
		Type:      typeSignal,
		Content:   types.SignalReady,
		SessionID: id,
	}); err != nil {
		log.Warn("ready signal failed", "error", err)
		_ = s.registry.Close(id)
		return
	}

	// Writer pump: UI feed → text frames.
	go s.writePump(ctx, conn, sess, id, log)

	// Close the socket when the session shuts down on its own (exit command,
	// replacement by a new connection).
	go func() {
		select {
		case <-sess.Done():
			conn.Close(websocket.StatusNormalClosure, "session closed")
		case <-ctx.Done():
		}
	}()

	s.readLoop(ctx, conn, sess, log)

	// Client gone: tear the session down unless it was already replaced.
	if s.registry.Get(id) == sess {
		_ = s.registry.Close(id)
	}
	log.Info("client disconnected")
}

// readLoop consumes client frames until error or disconnect. Malformed
// messages are logged and dropped; no client-visible error is produced.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, log *slog.Logger) {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debug("read failed", "error", err)
			}
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			sess.PushFrame(types.AudioFrame{
				PCM:        audio.PCM16ToFloat32(data),
				SampleRate: captureSampleRate,
				Timestamp:  time.Now(),
			})

		case websocket.MessageText:
			var m wireMessage
			if err := json.Unmarshal(data, &m); err != nil {
				log.Debug("malformed client message dropped", "error", err)
				continue
			}
			s.dispatch(sess, m, log)
		}
	}
}

// dispatch routes one parsed client message.
func (s *Server) dispatch(sess *session.Session, m wireMessage, log *slog.Logger) {
	switch m.Type {
	case typeInput:
		sess.PushText(m.Content, keyboardLabel)
	case typeSignal:
		if m.Content == types.SignalInterrupt {
			sess.Interrupt()
			return
		}
		log.Debug("unknown client signal dropped", "content", m.Content)
	default:
		log.Debug("unknown client message type dropped", "type", m.Type)
	}
}

// writePump forwards the session's UI feed to the client as JSON text
// frames until the connection context ends.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, sess *session.Session, id string, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-sess.UI():
			if err := s.writeJSON(ctx, conn, encodeUI(id, m)); err != nil {
				log.Debug("text write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) writeJSON(ctx context.Context, conn *websocket.Conn, m wireMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
