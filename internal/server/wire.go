package server

import (
	"github.com/tanklabs/tankd/pkg/types"
)

// Wire message types. Client→server uses input and signal; server→client
// uses signal, transcript, text, and update.
const (
	typeSignal     = "signal"
	typeTranscript = "transcript"
	typeText       = "text"
	typeUpdate     = "update"
	typeInput      = "input"
)

// wireMessage is the JSON text frame exchanged with clients. Binary frames
// carry raw PCM and never use this shape.
type wireMessage struct {
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	IsFinal   bool           `json:"is_final,omitempty"`
	IsUser    bool           `json:"is_user,omitempty"`
	MsgID     string         `json:"msg_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// encodeUI maps an internal UI message to its wire form.
func encodeUI(sessionID string, m types.UIMessage) wireMessage {
	if m.Signal != nil {
		return wireMessage{
			Type:      typeSignal,
			Content:   m.Signal.Kind,
			MsgID:     m.Signal.ID,
			SessionID: sessionID,
			Metadata:  m.Signal.Metadata,
		}
	}

	d := m.Display
	w := wireMessage{
		Content:   d.Text,
		IsFinal:   d.IsFinal,
		IsUser:    d.IsUser,
		MsgID:     d.ID,
		SessionID: sessionID,
		Metadata:  d.Metadata,
	}
	switch {
	case d.IsUser:
		w.Type = typeTranscript
	case d.Kind == types.UpdateText:
		w.Type = typeText
	default:
		w.Type = typeUpdate
		if w.Metadata == nil {
			w.Metadata = map[string]any{}
		}
		w.Metadata["update_type"] = d.Kind.String()
	}
	return w
}
