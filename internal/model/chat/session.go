package chat

import "time"

// Session captures a transient anonymous conversation.
type Session struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"personaId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Phase is the send state of a conversation.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSending Phase = "sending"
)

// View is a point-in-time snapshot of a conversation, safe to hand to renderers.
type View struct {
	SessionID string    `json:"sessionId"`
	PersonaID string    `json:"personaId"`
	Messages  []Message `json:"messages"`
	Input     string    `json:"input"`
	Phase     Phase     `json:"phase"`
}

// Pending reports whether a completion request is outstanding.
func (v View) Pending() bool {
	return v.Phase == PhaseSending
}
