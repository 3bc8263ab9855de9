package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer    Action = "answer"
	ActionFinish    Action = "finish"
	ActionViolation Action = "violation"
	ActionPing      Action = "ping"
)

// RequestPayload carries every action; unused fields stay empty.
type RequestPayload struct {
	Action     Action          `json:"action"`
	QuestionID string          `json:"question_id,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Type       string          `json:"type,omitempty"`
	Note       string          `json:"note,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSession   Event = "session"
	EventSaved     Event = "saved"
	EventFinished  Event = "finished"
	EventViolation Event = "violation"
	EventState     Event = "state"
	EventPong      Event = "pong"
)

// Message is the envelope for every server event.
type Message struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}
