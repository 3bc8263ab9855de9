package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/stemsi/exstem-session-engine/internal/grading"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/repository"
)

// remainingMinutes returns max(0, round(duration - elapsed)) in minutes, or
// nil when the exam is untimed.
func remainingMinutes(exam *model.Exam, s *model.ExamSession, now time.Time) *int {
	if !exam.IsTimed() {
		return nil
	}
	elapsed := now.Sub(s.StartedAt).Minutes()
	left := int(math.Round(float64(*exam.DurationMinutes) - elapsed))
	if left < 0 {
		left = 0
	}
	return &left
}

// timeExpired reports whether the session has used its full duration.
func timeExpired(exam *model.Exam, s *model.ExamSession, now time.Time) bool {
	if !exam.IsTimed() {
		return false
	}
	limit := s.StartedAt.Add(time.Duration(*exam.DurationMinutes) * time.Minute)
	return !now.Before(limit)
}

func unlock(s *model.ExamSession, now time.Time) {
	s.Status = model.SessionStatusActive
	s.Locked = false
	s.LockedUntil = nil
	s.UpdatedAt = now
}

func forceComplete(s *model.ExamSession, now time.Time) {
	s.Status = model.SessionStatusCompletedByTeacher
	s.Locked = false
	s.LockedUntil = nil
	s.FinishedAt = &now
	s.UpdatedAt = now
}

// gradeAndComplete scores a locked session inside tx and moves it to
// COMPLETED. The caller must hold the session row.
func gradeAndComplete(
	ctx context.Context,
	tx repository.Store,
	grader *grading.Engine,
	questions []model.Question,
	s *model.ExamSession,
	now time.Time,
) error {
	answers, err := tx.Answers().ListBySession(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("list answers: %w", err)
	}

	outcome := grader.Score(questions, answers)
	for answerID, correct := range outcome.Marks {
		if err := tx.Answers().MarkCorrectness(ctx, answerID, correct); err != nil {
			return fmt.Errorf("mark answer %s: %w", answerID, err)
		}
	}

	prev := s.Status
	s.Status = model.SessionStatusCompleted
	s.Score = outcome.Score
	s.NeedsReview = outcome.NeedsReview
	s.Locked = false
	s.LockedUntil = nil
	s.FinishedAt = &now
	s.UpdatedAt = now
	return saveTransition(ctx, tx, s, prev)
}

// saveTransition persists s conditioned on prev.
func saveTransition(ctx context.Context, tx repository.Store, s *model.ExamSession, prev model.SessionStatus) error {
	err := tx.Sessions().Save(ctx, s, prev)
	if errors.Is(err, repository.ErrStale) {
		return fmt.Errorf("%w: session %s changed concurrently", ErrConflict, s.ID)
	}
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func lookupErr(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("get %s: %w", what, err)
}
