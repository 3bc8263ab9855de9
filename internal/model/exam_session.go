package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusPending            SessionStatus = "PENDING"
	SessionStatusActive             SessionStatus = "ACTIVE"
	SessionStatusBlockedWaiting     SessionStatus = "BLOCKED_WAITING"
	SessionStatusLocked             SessionStatus = "LOCKED"
	SessionStatusCompleted          SessionStatus = "COMPLETED"
	SessionStatusCompletedByTeacher SessionStatus = "COMPLETED_BY_TEACHER"
)

// OpenSessionStatuses lists every non-terminal status.
var OpenSessionStatuses = []SessionStatus{
	SessionStatusPending,
	SessionStatusActive,
	SessionStatusBlockedWaiting,
	SessionStatusLocked,
}

// TerminalSessionStatuses lists the statuses that count as a used attempt.
var TerminalSessionStatuses = []SessionStatus{
	SessionStatusCompleted,
	SessionStatusCompletedByTeacher,
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCompletedByTeacher
}

// Violation records the most recent cheating report on a session.
type Violation struct {
	Type              string     `json:"type"`
	Note              string     `json:"note"`
	Time              time.Time  `json:"time"`
	ApprovedByTeacher bool       `json:"approved_by_teacher"`
	TeacherID         *int       `json:"teacher_id,omitempty"`
	TeacherApprovedAt *time.Time `json:"teacher_approved_at,omitempty"`
}

// ExamSession represents a student's exam attempt.
type ExamSession struct {
	ID            uuid.UUID     `json:"id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	StudentID     int           `json:"student_id"`
	Status        SessionStatus `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	Score         *float64      `json:"score,omitempty"`
	NeedsReview   bool          `json:"needs_review"`
	Locked        bool          `json:"locked"`
	LockedUntil   *time.Time    `json:"locked_until,omitempty"`
	LastViolation *Violation    `json:"last_violation,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// LockActive reports whether the session is locked at the given instant.
// A lock without an expiry holds until a teacher acts on it.
func (s *ExamSession) LockActive(now time.Time) bool {
	if !s.Locked {
		return false
	}
	return s.LockedUntil == nil || s.LockedUntil.After(now)
}

// SessionDetail is the student-facing view of a session.
type SessionDetail struct {
	Session          *ExamSession         `json:"session"`
	ExamTitle        string               `json:"exam_title"`
	Questions        []QuestionForStudent `json:"questions"`
	RemainingMinutes *int                 `json:"remaining_minutes,omitempty"`
}

// JoinExamRequest is the payload for a student joining an exam.
type JoinExamRequest struct {
	ExamCode string `json:"exam_code" binding:"required,examcode"`
}

// SubmitAnswerRequest is the payload for saving a single answer.
type SubmitAnswerRequest struct {
	QuestionID uuid.UUID       `json:"question_id" binding:"required"`
	Response   json.RawMessage `json:"response" binding:"required"`
}

// ReportViolationRequest is the payload for reporting a cheating violation.
type ReportViolationRequest struct {
	Type string `json:"type" binding:"required,max=64"`
	Note string `json:"note" binding:"required,max=1000"`
}
