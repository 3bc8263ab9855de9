package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/clock"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/repository"
)

// ExamLifecycleService applies the time-driven exam transitions:
// DRAFT to PUBLISHED at the scheduled start and PUBLISHED to CLOSED at the
// scheduled end.
type ExamLifecycleService struct {
	store  repository.Store
	events EventPublisher
	clock  clock.Clock
}

// NewExamLifecycleService creates a new ExamLifecycleService.
func NewExamLifecycleService(store repository.Store, events EventPublisher, clk clock.Clock) *ExamLifecycleService {
	if events == nil {
		events = NopPublisher{}
	}
	return &ExamLifecycleService{store: store, events: events, clock: clk}
}

// DueForPublish lists DRAFT exams whose start time has been reached.
func (s *ExamLifecycleService) DueForPublish(ctx context.Context) ([]model.Exam, error) {
	return s.store.Exams().ListDueForPublish(ctx, s.clock.Now())
}

// DueForClose lists PUBLISHED exams whose end time has been reached.
func (s *ExamLifecycleService) DueForClose(ctx context.Context) ([]model.Exam, error) {
	return s.store.Exams().ListDueForClose(ctx, s.clock.Now())
}

// Publish moves a DRAFT exam to PUBLISHED. It reports false when the exam
// was no longer DRAFT.
func (s *ExamLifecycleService) Publish(ctx context.Context, examID uuid.UUID) (bool, error) {
	now := s.clock.Now()
	ok, err := s.store.Exams().UpdateStatus(ctx, examID, model.ExamStatusDraft, model.ExamStatusPublished, now)
	if err != nil {
		return false, fmt.Errorf("publish exam %s: %w", examID, err)
	}
	if ok {
		s.events.Publish(ctx, model.Event{Type: model.EventExamPublished, ExamID: examID, At: now})
	}
	return ok, nil
}

// Close moves a PUBLISHED exam to CLOSED and then ends every open session
// of it as COMPLETED_BY_TEACHER, without grading. closed is false when the
// exam was no longer PUBLISHED. Each session ends in its own transaction; a
// session that fails is reported in err and picked up again through
// StrandedExams and EndOpenSessions.
func (s *ExamLifecycleService) Close(ctx context.Context, examID uuid.UUID) (closed bool, ended []model.ExamSession, err error) {
	now := s.clock.Now()
	// Join holds the exam row while it creates a session, so every session
	// of the exam exists once this update has committed.
	closed, err = s.store.Exams().UpdateStatus(ctx, examID, model.ExamStatusPublished, model.ExamStatusClosed, now)
	if err != nil {
		return false, nil, fmt.Errorf("close exam %s: %w", examID, err)
	}
	if !closed {
		return false, nil, nil
	}
	s.events.Publish(ctx, model.Event{Type: model.EventExamClosed, ExamID: examID, At: now})

	ended, err = s.EndOpenSessions(ctx, examID)
	return true, ended, err
}

// StrandedExams lists CLOSED exams that still have open sessions.
func (s *ExamLifecycleService) StrandedExams(ctx context.Context) ([]model.Exam, error) {
	return s.store.Exams().ListClosedWithOpenSessions(ctx)
}

// EndOpenSessions force-completes the open sessions of an exam one by one.
// Failures do not stop the remaining sessions and are returned joined.
func (s *ExamLifecycleService) EndOpenSessions(ctx context.Context, examID uuid.UUID) ([]model.ExamSession, error) {
	open, err := s.store.Sessions().ListByExam(ctx, examID, model.OpenSessionStatuses...)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}

	var (
		ended []model.ExamSession
		errs  []error
	)
	for i := range open {
		now := s.clock.Now()
		sess, err := s.endSession(ctx, open[i].ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("end session %s: %w", open[i].ID, err))
			continue
		}
		if sess == nil {
			continue
		}
		ended = append(ended, *sess)
		s.events.Publish(ctx, model.SessionEvent(model.EventSessionForceFinished, sess, now))
	}
	return ended, errors.Join(errs...)
}

// endSession returns nil when the session already reached a terminal state.
func (s *ExamLifecycleService) endSession(ctx context.Context, sessionID uuid.UUID, now time.Time) (*model.ExamSession, error) {
	var saved *model.ExamSession
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		sess, err := tx.Sessions().GetForUpdate(ctx, sessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if sess.Status.IsTerminal() {
			return nil
		}
		prev := sess.Status
		forceComplete(sess, now)
		err = tx.Sessions().Save(ctx, sess, prev)
		if errors.Is(err, repository.ErrStale) {
			return nil
		}
		if err != nil {
			return err
		}
		saved = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}
