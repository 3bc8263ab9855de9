package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/clock"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/repository"
)

// DefaultLockCooldown is how long an approved violation keeps a session locked.
const DefaultLockCooldown = 60 * time.Second

// SecurityService handles cheating reports and teacher intervention.
type SecurityService struct {
	store    repository.Store
	events   EventPublisher
	clock    clock.Clock
	cooldown time.Duration
}

// NewSecurityService creates a new SecurityService. A non-positive cooldown
// falls back to DefaultLockCooldown.
func NewSecurityService(store repository.Store, events EventPublisher, clk clock.Clock, cooldown time.Duration) *SecurityService {
	if events == nil {
		events = NopPublisher{}
	}
	if cooldown <= 0 {
		cooldown = DefaultLockCooldown
	}
	return &SecurityService{
		store:    store,
		events:   events,
		clock:    clk,
		cooldown: cooldown,
	}
}

// ReportViolation blocks the student's session until a teacher reviews it.
func (s *SecurityService) ReportViolation(ctx context.Context, sessionID uuid.UUID, studentID int, violationType, note string) (*model.ExamSession, error) {
	if strings.TrimSpace(note) == "" {
		return nil, fmt.Errorf("%w: note is required", ErrValidation)
	}

	var saved *model.ExamSession
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		sess, err := tx.Sessions().GetForUpdate(ctx, sessionID)
		if err != nil {
			return lookupErr(err, "session")
		}
		if sess.StudentID != studentID {
			return fmt.Errorf("%w: session belongs to another student", ErrAccessDenied)
		}
		if sess.Status != model.SessionStatusActive && sess.Status != model.SessionStatusBlockedWaiting {
			return fmt.Errorf("%w: cannot report a violation on a %s session", ErrInvalidState, sess.Status)
		}

		now := s.clock.Now()
		prev := sess.Status
		sess.LastViolation = &model.Violation{
			Type: violationType,
			Note: note,
			Time: now,
		}
		sess.Locked = true
		sess.LockedUntil = nil
		sess.Status = model.SessionStatusBlockedWaiting
		sess.UpdatedAt = now
		if err := saveTransition(ctx, tx, sess, prev); err != nil {
			return err
		}
		saved = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, model.SessionEvent(model.EventViolationReported, saved, saved.UpdatedAt))
	return saved, nil
}

// ApproveViolation confirms a reported violation and starts the lock cooldown.
func (s *SecurityService) ApproveViolation(ctx context.Context, sessionID uuid.UUID, actor model.Actor) (*model.ExamSession, error) {
	var saved *model.ExamSession
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		sess, err := s.lockOwned(ctx, tx, sessionID, actor)
		if err != nil {
			return err
		}
		if sess.Status != model.SessionStatusBlockedWaiting {
			return fmt.Errorf("%w: only a blocked session can be approved, session is %s", ErrInvalidState, sess.Status)
		}

		now := s.clock.Now()
		until := now.Add(s.cooldown)
		teacherID := actor.ID
		if sess.LastViolation == nil {
			sess.LastViolation = &model.Violation{Time: now}
		}
		sess.LastViolation.ApprovedByTeacher = true
		sess.LastViolation.TeacherID = &teacherID
		sess.LastViolation.TeacherApprovedAt = &now
		sess.Locked = true
		sess.LockedUntil = &until
		sess.Status = model.SessionStatusLocked
		sess.UpdatedAt = now
		if err := saveTransition(ctx, tx, sess, model.SessionStatusBlockedWaiting); err != nil {
			return err
		}
		saved = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := model.SessionEvent(model.EventViolationApproved, saved, saved.UpdatedAt)
	ev.ActorID = &actor.ID
	s.events.Publish(ctx, ev)
	return saved, nil
}

// AutoUnlockExpired returns every LOCKED session whose cooldown has passed
// to ACTIVE. Each session is rechecked under its row lock in its own
// transaction, so a session that was unlocked, reported or approved again
// since the listing is left alone. A failure on one session does not stop
// the others; failures are returned joined.
func (s *SecurityService) AutoUnlockExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired, err := s.store.Sessions().ListLockExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired locks: %w", err)
	}

	unlocked := 0
	var errs []error
	for i := range expired {
		id := expired[i].ID
		sess, err := s.unlockIfExpired(ctx, id, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("unlock session %s: %w", id, err))
			continue
		}
		if sess == nil {
			continue
		}
		unlocked++
		s.events.Publish(ctx, model.SessionEvent(model.EventSessionUnlocked, sess, now))
	}
	return unlocked, errors.Join(errs...)
}

// unlockIfExpired unlocks one session and returns it, or nil when the
// session no longer holds an expired cooldown.
func (s *SecurityService) unlockIfExpired(ctx context.Context, sessionID uuid.UUID, now time.Time) (*model.ExamSession, error) {
	var saved *model.ExamSession
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		sess, err := tx.Sessions().GetForUpdate(ctx, sessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if sess.Status != model.SessionStatusLocked || sess.LockedUntil == nil || !sess.LockedUntil.Before(now) {
			return nil
		}
		unlock(sess, now)
		err = tx.Sessions().Save(ctx, sess, model.SessionStatusLocked)
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

// ForceFinish ends a session on the teacher's behalf without grading it.
func (s *SecurityService) ForceFinish(ctx context.Context, sessionID uuid.UUID, actor model.Actor) (*model.ExamSession, error) {
	var saved *model.ExamSession
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		sess, err := s.lockOwned(ctx, tx, sessionID, actor)
		if err != nil {
			return err
		}
		if sess.Status.IsTerminal() {
			return fmt.Errorf("%w: session is %s", ErrAlreadyCompleted, sess.Status)
		}

		prev := sess.Status
		forceComplete(sess, s.clock.Now())
		if err := saveTransition(ctx, tx, sess, prev); err != nil {
			return err
		}
		saved = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := model.SessionEvent(model.EventSessionForceFinished, saved, *saved.FinishedAt)
	ev.ActorID = &actor.ID
	s.events.Publish(ctx, ev)
	return saved, nil
}

// lockOwned loads a session for update and checks that actor manages its exam.
func (s *SecurityService) lockOwned(ctx context.Context, tx repository.Store, sessionID uuid.UUID, actor model.Actor) (*model.ExamSession, error) {
	sess, err := tx.Sessions().GetForUpdate(ctx, sessionID)
	if err != nil {
		return nil, lookupErr(err, "session")
	}
	exam, err := tx.Exams().GetByID(ctx, sess.ExamID)
	if err != nil {
		return nil, lookupErr(err, "exam")
	}
	if !exam.OwnedBy(actor) {
		return nil, fmt.Errorf("%w: only the exam owner or an admin may do this", ErrAccessDenied)
	}
	return sess, nil
}
