package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/repository"
)

func TestCreateRejectsSecondOpenSession(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	examID := uuid.New()

	first := &model.ExamSession{ExamID: examID, StudentID: 7, Status: model.SessionStatusActive}
	if err := store.Sessions().Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := &model.ExamSession{ExamID: examID, StudentID: 7, Status: model.SessionStatusActive}
	if err := store.Sessions().Create(ctx, second); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	first.Status = model.SessionStatusCompleted
	if err := store.Sessions().Save(ctx, first, model.SessionStatusActive); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Sessions().Create(ctx, second); err != nil {
		t.Fatalf("expected create after completion to succeed, got %v", err)
	}
}

func TestSaveIsConditionalOnStatus(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	sess := model.ExamSession{ID: uuid.New(), ExamID: uuid.New(), StudentID: 1, Status: model.SessionStatusLocked}
	store.PutSession(sess)

	next := sess
	next.Status = model.SessionStatusActive
	if err := store.Sessions().Save(ctx, &next, model.SessionStatusLocked); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.Sessions().Save(ctx, &next, model.SessionStatusLocked); !errors.Is(err, repository.ErrStale) {
		t.Fatalf("expected ErrStale on repeated transition, got %v", err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	sess := model.ExamSession{ID: uuid.New(), ExamID: uuid.New(), StudentID: 1, Status: model.SessionStatusActive}
	store.PutSession(sess)

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx repository.Store) error {
		next := sess
		next.Status = model.SessionStatusCompleted
		if err := tx.Sessions().Save(ctx, &next, model.SessionStatusActive); err != nil {
			return err
		}
		if _, err := tx.Answers().Upsert(ctx, sess.ID, uuid.New(), []byte(`true`), time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := store.Sessions().GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.SessionStatusActive {
		t.Fatalf("expected rollback to ACTIVE, got %s", got.Status)
	}
	answers, _ := store.Answers().ListBySession(ctx, sess.ID)
	if len(answers) != 0 {
		t.Fatalf("expected no answers after rollback, got %d", len(answers))
	}
}

func TestReadsWaitForOpenTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	sess := model.ExamSession{ID: uuid.New(), ExamID: uuid.New(), StudentID: 1, Status: model.SessionStatusActive}
	store.PutSession(sess)

	written := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	boom := errors.New("boom")
	go func() {
		txDone <- store.InTx(ctx, func(tx repository.Store) error {
			next := sess
			next.Status = model.SessionStatusCompleted
			if err := tx.Sessions().Save(ctx, &next, model.SessionStatusActive); err != nil {
				return err
			}
			close(written)
			<-release
			return boom
		})
	}()
	<-written

	read := make(chan *model.ExamSession, 1)
	go func() {
		got, _ := store.Sessions().GetByID(ctx, sess.ID)
		read <- got
	}()
	select {
	case got := <-read:
		t.Fatalf("read returned during an open transaction: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-txDone; !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got := <-read
	if got == nil || got.Status != model.SessionStatusActive {
		t.Fatalf("expected rolled back ACTIVE session, got %+v", got)
	}
}

func TestUpsertOverwritesAndClearsMark(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	sessionID, questionID := uuid.New(), uuid.New()

	a, err := store.Answers().Upsert(ctx, sessionID, questionID, []byte(`true`), time.Now())
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Answers().MarkCorrectness(ctx, a.ID, true); err != nil {
		t.Fatalf("mark: %v", err)
	}
	b, err := store.Answers().Upsert(ctx, sessionID, questionID, []byte(`false`), time.Now())
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same answer row, got %s and %s", a.ID, b.ID)
	}

	answers, _ := store.Answers().ListBySession(ctx, sessionID)
	if len(answers) != 1 || string(answers[0].Response) != "false" || answers[0].IsCorrect != nil {
		t.Fatalf("unexpected answers %+v", answers)
	}
}

func TestStoredSessionsAreIsolatedFromCallers(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	sess := model.ExamSession{
		ID:            uuid.New(),
		Status:        model.SessionStatusBlockedWaiting,
		LastViolation: &model.Violation{Type: "TAB_SWITCH", Note: "left tab"},
	}
	store.PutSession(sess)

	got, _ := store.Sessions().GetByID(ctx, sess.ID)
	got.LastViolation.ApprovedByTeacher = true

	again, _ := store.Sessions().GetByID(ctx, sess.ID)
	if again.LastViolation.ApprovedByTeacher {
		t.Fatalf("mutating a returned session must not change the store")
	}
}
