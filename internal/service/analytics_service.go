package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/repository"
	"golang.org/x/sync/errgroup"
)

// AnalyticsService aggregates session results for teachers.
type AnalyticsService struct {
	store repository.Store
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(store repository.Store) *AnalyticsService {
	return &AnalyticsService{store: store}
}

// ExamAnalytics summarises every session of an exam. Only the exam owner
// or an admin may read it.
func (s *AnalyticsService) ExamAnalytics(ctx context.Context, examID uuid.UUID, actor model.Actor) (*model.ExamAnalytics, error) {
	var (
		exam     *model.Exam
		sessions []model.ExamSession
	)

	// Exam and sessions are independent reads.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		exam, err = s.store.Exams().GetByID(gctx, examID)
		if err != nil {
			return lookupErr(err, "exam")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		sessions, err = s.store.Sessions().ListByExam(gctx, examID)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !exam.OwnedBy(actor) {
		return nil, fmt.Errorf("%w: only the exam owner or an admin may view analytics", ErrAccessDenied)
	}
	return summarize(exam, sessions), nil
}

func summarize(exam *model.Exam, sessions []model.ExamSession) *model.ExamAnalytics {
	out := &model.ExamAnalytics{
		ExamID:        exam.ID,
		Title:         exam.Title,
		Status:        exam.Status,
		TotalSessions: len(sessions),
		ByStatus:      make(map[model.SessionStatus]int),
		Scores:        []model.SessionScore{},
	}

	var sum float64
	for i := range sessions {
		sess := &sessions[i]
		out.ByStatus[sess.Status]++
		switch sess.Status {
		case model.SessionStatusCompleted, model.SessionStatusCompletedByTeacher:
			out.Completed++
		case model.SessionStatusActive:
			out.Active++
		case model.SessionStatusBlockedWaiting, model.SessionStatusLocked:
			out.Blocked++
		}
		if sess.NeedsReview {
			out.NeedsReview++
		}
		if sess.Score == nil {
			continue
		}

		score := *sess.Score
		out.Scored++
		sum += score
		out.Scores = append(out.Scores, model.SessionScore{
			SessionID: sess.ID,
			StudentID: sess.StudentID,
			Score:     score,
		})
		if out.HighestScore == nil || score > *out.HighestScore {
			v := score
			out.HighestScore = &v
		}
		if out.LowestScore == nil || score < *out.LowestScore {
			v := score
			out.LowestScore = &v
		}
	}

	if out.Scored > 0 {
		avg := sum / float64(out.Scored)
		out.AverageScore = &avg
	}
	return out
}
