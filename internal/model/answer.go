package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Answer is a student's response to one question within a session.
type Answer struct {
	ID         uuid.UUID       `json:"id"`
	SessionID  uuid.UUID       `json:"session_id"`
	QuestionID uuid.UUID       `json:"question_id"`
	Response   json.RawMessage `json:"response"`
	IsCorrect  *bool           `json:"is_correct,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
