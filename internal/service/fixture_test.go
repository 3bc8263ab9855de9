package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/clock"
	"github.com/stemsi/exstem-session-engine/internal/grading"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/repository"
	"github.com/stemsi/exstem-session-engine/internal/repository/memory"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

const (
	teacherID = 100
	studentID = 1
	otherID   = 2
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(_ context.Context, ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store     *memory.Store
	clock     *clock.Fake
	events    *recorder
	sessions  *service.ExamSessionService
	security  *service.SecurityService
	lifecycle *service.ExamLifecycleService
	analytics *service.AnalyticsService
	exam      model.Exam
	questions []model.Question
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clk := clock.NewFake(epoch)
	events := &recorder{}

	duration := 30
	exam := model.Exam{
		ID:              uuid.New(),
		TeacherID:       teacherID,
		Title:           "Physics midterm",
		ExamCode:        "PHY101",
		Status:          model.ExamStatusPublished,
		DurationMinutes: &duration,
		MaxAttempts:     1,
		CreatedAt:       epoch,
	}
	questions := []model.Question{
		{ID: uuid.New(), Text: "Light is a wave", Type: model.QuestionTypeTrueFalse, Correct: json.RawMessage(`true`), OrderNum: 1},
		{ID: uuid.New(), Text: "Pick the vectors", Type: model.QuestionTypeMultipleChoice, Options: []string{"a", "b", "c"}, Correct: json.RawMessage(`["a","c"]`), OrderNum: 2},
		{ID: uuid.New(), Text: "Explain entropy", Type: model.QuestionTypeText, OrderNum: 3},
	}
	store.PutExam(exam)
	store.PutQuestions(exam.ID, questions)

	return &fixture{
		store:     store,
		clock:     clk,
		events:    events,
		sessions:  service.NewExamSessionService(store, store.Questions(), grading.NewEngine(), events, clk),
		security:  service.NewSecurityService(store, events, clk, 0),
		lifecycle: service.NewExamLifecycleService(store, events, clk),
		analytics: service.NewAnalyticsService(store),
		exam:      exam,
		questions: questions,
	}
}

func (f *fixture) join(t *testing.T, student int) *model.ExamSession {
	t.Helper()
	sess, err := f.sessions.Join(context.Background(), student, f.exam.ExamCode)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	return sess
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *model.ExamSession {
	t.Helper()
	sess, err := f.store.Sessions().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	return sess
}

func (f *fixture) putExam(t *testing.T, mutate func(e *model.Exam)) model.Exam {
	t.Helper()
	e := f.exam
	e.ID = uuid.New()
	e.ExamCode = "X" + e.ID.String()[:7]
	mutate(&e)
	f.store.PutExam(e)
	f.store.PutQuestions(e.ID, nil)
	return e
}

var (
	teacher      = model.Actor{ID: teacherID, Role: model.RoleTeacher}
	otherTeacher = model.Actor{ID: teacherID + 1, Role: model.RoleTeacher}
	admin        = model.Actor{ID: 900, Role: model.RoleAdmin}
)

var errWriteFailed = errors.New("transient write failure")

// hookedStore wraps a Store to fail the writes of one session or to run
// code between listing and processing expired locks.
type hookedStore struct {
	repository.Store
	failSave  uuid.UUID
	afterList func()
}

func (s *hookedStore) Sessions() repository.SessionStore {
	return hookedSessions{SessionStore: s.Store.Sessions(), owner: s}
}

func (s *hookedStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	return s.Store.InTx(ctx, func(tx repository.Store) error {
		return fn(&hookedStore{Store: tx, failSave: s.failSave})
	})
}

type hookedSessions struct {
	repository.SessionStore
	owner *hookedStore
}

func (r hookedSessions) Save(ctx context.Context, sess *model.ExamSession, expected model.SessionStatus) error {
	if sess.ID == r.owner.failSave {
		return errWriteFailed
	}
	return r.SessionStore.Save(ctx, sess, expected)
}

func (r hookedSessions) ListLockExpired(ctx context.Context, now time.Time) ([]model.ExamSession, error) {
	out, err := r.SessionStore.ListLockExpired(ctx, now)
	if err == nil && r.owner.afterList != nil {
		r.owner.afterList()
	}
	return out, err
}
