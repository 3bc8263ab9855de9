package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/clock"
	"github.com/stemsi/exstem-session-engine/internal/grading"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/repository"
)

// ExamSessionService drives a student's attempt from join to a recorded score.
type ExamSessionService struct {
	store     repository.Store
	questions QuestionSource
	grader    *grading.Engine
	events    EventPublisher
	clock     clock.Clock
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	store repository.Store,
	questions QuestionSource,
	grader *grading.Engine,
	events EventPublisher,
	clk clock.Clock,
) *ExamSessionService {
	if events == nil {
		events = NopPublisher{}
	}
	return &ExamSessionService{
		store:     store,
		questions: questions,
		grader:    grader,
		events:    events,
		clock:     clk,
	}
}

// Join starts a new attempt for the student on the exam identified by code.
func (s *ExamSessionService) Join(ctx context.Context, studentID int, examCode string) (*model.ExamSession, error) {
	exam, err := s.store.Exams().GetByCode(ctx, examCode)
	if err != nil {
		return nil, lookupErr(err, "exam "+examCode)
	}

	var created *model.ExamSession
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		// Holding the exam row keeps a concurrent closure from missing this session.
		current, err := tx.Exams().GetForShare(ctx, exam.ID)
		if err != nil {
			return lookupErr(err, "exam "+examCode)
		}
		if current.Status != model.ExamStatusPublished {
			return fmt.Errorf("%w: exam %s is %s", ErrInvalidState, examCode, current.Status)
		}

		if _, err := tx.Sessions().FindOpen(ctx, current.ID, studentID); err == nil {
			return fmt.Errorf("%w: an open session already exists for exam %s", ErrConflict, examCode)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("find open session: %w", err)
		}

		used, err := tx.Sessions().CountByStatus(ctx, current.ID, studentID, model.TerminalSessionStatuses)
		if err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		limit := current.MaxAttempts
		if limit < 1 {
			limit = 1
		}
		if used >= limit {
			return fmt.Errorf("%w: %d of %d attempts used", ErrLimitExceeded, used, limit)
		}

		now := s.clock.Now()
		sess := &model.ExamSession{
			ID:        uuid.New(),
			ExamID:    current.ID,
			StudentID: studentID,
			Status:    model.SessionStatusActive,
			StartedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Sessions().Create(ctx, sess); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("%w: an open session already exists for exam %s", ErrConflict, examCode)
			}
			return fmt.Errorf("create session: %w", err)
		}
		created = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, model.SessionEvent(model.EventSessionStarted, created, created.StartedAt))
	return created, nil
}

// GetSession returns the student's view of a session. An ACTIVE session
// with no time left is finished before it is returned.
func (s *ExamSessionService) GetSession(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.SessionDetail, error) {
	sess, err := s.store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		return nil, lookupErr(err, "session")
	}
	if sess.StudentID != studentID {
		return nil, fmt.Errorf("%w: session belongs to another student", ErrAccessDenied)
	}
	exam, err := s.store.Exams().GetByID(ctx, sess.ExamID)
	if err != nil {
		return nil, lookupErr(err, "exam")
	}

	remaining := remainingMinutes(exam, sess, s.clock.Now())
	if sess.Status == model.SessionStatusActive && remaining != nil && *remaining == 0 {
		finished, err := s.complete(ctx, sessionID, nil)
		switch {
		case err == nil:
			sess = finished
		case errors.Is(err, ErrAlreadyCompleted):
			if sess, err = s.store.Sessions().GetByID(ctx, sessionID); err != nil {
				return nil, lookupErr(err, "session")
			}
		default:
			return nil, err
		}
	}

	questions, err := s.questions.ListByExam(ctx, sess.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	detail := &model.SessionDetail{
		Session:   sess,
		ExamTitle: exam.Title,
		Questions: make([]model.QuestionForStudent, 0, len(questions)),
	}
	for i := range questions {
		detail.Questions = append(detail.Questions, questions[i].ForStudent())
	}
	if !sess.Status.IsTerminal() {
		detail.RemainingMinutes = remaining
	}
	return detail, nil
}

// RemainingMinutes reports the minutes left on a session, nil when untimed.
func (s *ExamSessionService) RemainingMinutes(exam *model.Exam, sess *model.ExamSession) *int {
	return remainingMinutes(exam, sess, s.clock.Now())
}

// SubmitAnswer records or overwrites the response to one question.
// A session that has run out of time is finished first and ErrTimeExpired is returned.
func (s *ExamSessionService) SubmitAnswer(
	ctx context.Context,
	sessionID uuid.UUID,
	studentID int,
	questionID uuid.UUID,
	response json.RawMessage,
) (*model.Answer, error) {
	var (
		answer     *model.Answer
		saved      *model.ExamSession
		expired    bool
		examClosed bool
		unlocked   bool
	)
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		sess, err := tx.Sessions().GetForUpdate(ctx, sessionID)
		if err != nil {
			return lookupErr(err, "session")
		}
		if sess.StudentID != studentID {
			return fmt.Errorf("%w: session belongs to another student", ErrAccessDenied)
		}
		exam, err := tx.Exams().GetByID(ctx, sess.ExamID)
		if err != nil {
			return lookupErr(err, "exam")
		}
		now := s.clock.Now()

		// Closure wins over answers that arrive before the cascade reaches this session.
		if !sess.Status.IsTerminal() && exam.Status == model.ExamStatusClosed {
			prev := sess.Status
			forceComplete(sess, now)
			if err := saveTransition(ctx, tx, sess, prev); err != nil {
				return err
			}
			saved, examClosed = sess, true
			return nil
		}

		if !sess.Status.IsTerminal() && timeExpired(exam, sess, now) {
			questions, err := s.questions.ListByExam(ctx, sess.ExamID)
			if err != nil {
				return fmt.Errorf("list questions: %w", err)
			}
			if err := gradeAndComplete(ctx, tx, s.grader, questions, sess, now); err != nil {
				return err
			}
			saved, expired = sess, true
			return nil
		}

		if sess.LockActive(now) {
			return fmt.Errorf("%w: wait for the teacher or the cooldown to end", ErrLocked)
		}
		if sess.Status == model.SessionStatusLocked {
			unlock(sess, now)
			if err := saveTransition(ctx, tx, sess, model.SessionStatusLocked); err != nil {
				return err
			}
			unlocked = true
		}
		if sess.Status != model.SessionStatusActive {
			return fmt.Errorf("%w: session is %s", ErrInvalidState, sess.Status)
		}

		questions, err := s.questions.ListByExam(ctx, sess.ExamID)
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}
		if !containsQuestion(questions, questionID) {
			return fmt.Errorf("%w: question %s is not part of this exam", ErrNotFound, questionID)
		}

		answer, err = tx.Answers().Upsert(ctx, sessionID, questionID, response, now)
		if err != nil {
			return fmt.Errorf("save answer: %w", err)
		}
		saved = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	if examClosed {
		s.events.Publish(ctx, model.SessionEvent(model.EventSessionForceFinished, saved, *saved.FinishedAt))
		return nil, fmt.Errorf("%w: exam is closed", ErrInvalidState)
	}
	if expired {
		s.events.Publish(ctx, model.SessionEvent(model.EventSessionCompleted, saved, *saved.FinishedAt))
		return nil, fmt.Errorf("%w: session %s was finished automatically", ErrTimeExpired, sessionID)
	}
	if unlocked {
		s.events.Publish(ctx, model.SessionEvent(model.EventSessionUnlocked, saved, saved.UpdatedAt))
	}
	s.events.Publish(ctx, model.SessionEvent(model.EventAnswerSaved, saved, answer.UpdatedAt))
	return answer, nil
}

// Finish grades the session and records the final score.
func (s *ExamSessionService) Finish(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.ExamSession, error) {
	return s.complete(ctx, sessionID, &studentID)
}

// ListMySessions returns the student's attempts, newest first.
func (s *ExamSessionService) ListMySessions(ctx context.Context, studentID int) ([]model.ExamSession, error) {
	sessions, err := s.store.Sessions().ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []model.ExamSession{}
	}
	return sessions, nil
}

// complete runs grading and the COMPLETED transition as one unit. A nil
// studentID skips the ownership check for system-initiated completion.
func (s *ExamSessionService) complete(ctx context.Context, sessionID uuid.UUID, studentID *int) (*model.ExamSession, error) {
	var done *model.ExamSession
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		sess, err := tx.Sessions().GetForUpdate(ctx, sessionID)
		if err != nil {
			return lookupErr(err, "session")
		}
		if studentID != nil && sess.StudentID != *studentID {
			return fmt.Errorf("%w: session belongs to another student", ErrAccessDenied)
		}
		if sess.Status.IsTerminal() {
			return fmt.Errorf("%w: session is %s", ErrAlreadyCompleted, sess.Status)
		}

		questions, err := s.questions.ListByExam(ctx, sess.ExamID)
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}
		if err := gradeAndComplete(ctx, tx, s.grader, questions, sess, s.clock.Now()); err != nil {
			return err
		}
		done = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, model.SessionEvent(model.EventSessionCompleted, done, *done.FinishedAt))
	return done, nil
}

func containsQuestion(questions []model.Question, id uuid.UUID) bool {
	for i := range questions {
		if questions[i].ID == id {
			return true
		}
	}
	return false
}
