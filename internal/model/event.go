package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a committed lifecycle change.
type EventType string

const (
	EventSessionStarted       EventType = "SESSION_STARTED"
	EventAnswerSaved          EventType = "ANSWER_SAVED"
	EventViolationReported    EventType = "VIOLATION_REPORTED"
	EventViolationApproved    EventType = "VIOLATION_APPROVED"
	EventSessionUnlocked      EventType = "SESSION_UNLOCKED"
	EventSessionCompleted     EventType = "SESSION_COMPLETED"
	EventSessionForceFinished EventType = "SESSION_FORCE_FINISHED"
	EventExamPublished        EventType = "EXAM_PUBLISHED"
	EventExamClosed           EventType = "EXAM_CLOSED"
)

// Event is published to the exam monitor channel after a transition commits.
type Event struct {
	Type      EventType     `json:"type"`
	ExamID    uuid.UUID     `json:"exam_id"`
	SessionID *uuid.UUID    `json:"session_id,omitempty"`
	StudentID int           `json:"student_id,omitempty"`
	Status    SessionStatus `json:"status,omitempty"`
	ActorID   *int          `json:"actor_id,omitempty"`
	At        time.Time     `json:"at"`
}

// SessionEvent builds an event describing the current state of s.
func SessionEvent(t EventType, s *ExamSession, at time.Time) Event {
	id := s.ID
	return Event{
		Type:      t,
		ExamID:    s.ExamID,
		SessionID: &id,
		StudentID: s.StudentID,
		Status:    s.Status,
		At:        at,
	}
}
