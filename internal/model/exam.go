package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusClosed    ExamStatus = "CLOSED"
)

// Exam represents an exam entity. Sessions may only be created while the exam is PUBLISHED.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	TeacherID       int        `json:"teacher_id"`
	Title           string     `json:"title"`
	ExamCode        string     `json:"exam_code"`
	Status          ExamStatus `json:"status"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	MaxAttempts     int        `json:"max_attempts"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsTimed reports whether the exam enforces a duration limit.
func (e *Exam) IsTimed() bool {
	return e.DurationMinutes != nil && *e.DurationMinutes > 0
}

// OwnedBy reports whether the actor may manage sessions of this exam.
func (e *Exam) OwnedBy(actor Actor) bool {
	return actor.Role == RoleAdmin || (actor.Role == RoleTeacher && actor.ID == e.TeacherID)
}

// ExamAnalytics summarises the sessions of a single exam.
type ExamAnalytics struct {
	ExamID        uuid.UUID             `json:"exam_id"`
	Title         string                `json:"title"`
	Status        ExamStatus            `json:"status"`
	TotalSessions int                   `json:"total_sessions"`
	ByStatus      map[SessionStatus]int `json:"by_status"`
	Completed     int                   `json:"completed"`
	Active        int                   `json:"active"`
	Blocked       int                   `json:"blocked"`
	Scored        int                   `json:"scored"`
	NeedsReview   int                   `json:"needs_review"`
	AverageScore  *float64              `json:"average_score,omitempty"`
	HighestScore  *float64              `json:"highest_score,omitempty"`
	LowestScore   *float64              `json:"lowest_score,omitempty"`
	Scores        []SessionScore        `json:"scores"`
}

// SessionScore is one scored attempt in an analytics report.
type SessionScore struct {
	SessionID uuid.UUID `json:"session_id"`
	StudentID int       `json:"student_id"`
	Score     float64   `json:"score"`
}
