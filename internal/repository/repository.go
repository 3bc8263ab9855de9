package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("repository: duplicate")
	// ErrStale is returned by conditional writes whose expected state no longer holds.
	ErrStale = errors.New("repository: stale state")
)

// ExamStore reads exams and applies scheduler-driven status changes.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	GetByCode(ctx context.Context, code string) (*model.Exam, error)
	// GetForShare reads an exam and blocks status changes to it until the
	// surrounding transaction ends.
	GetForShare(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListDueForPublish(ctx context.Context, now time.Time) ([]model.Exam, error)
	ListDueForClose(ctx context.Context, now time.Time) ([]model.Exam, error)
	// ListClosedWithOpenSessions returns CLOSED exams that still have a
	// non-terminal session.
	ListClosedWithOpenSessions(ctx context.Context) ([]model.Exam, error)
	// UpdateStatus moves an exam from one status to another and reports
	// whether this call performed the change.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.ExamStatus, now time.Time) (bool, error)
}

// QuestionStore reads the questions of an exam.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// SessionStore persists exam sessions.
type SessionStore interface {
	Create(ctx context.Context, s *model.ExamSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	// GetForUpdate reads a session and holds it against concurrent
	// writers until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	FindOpen(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error)
	CountByStatus(ctx context.Context, examID uuid.UUID, studentID int, statuses []model.SessionStatus) (int, error)
	// ListByExam returns the exam's sessions, restricted to statuses when any are given.
	ListByExam(ctx context.Context, examID uuid.UUID, statuses ...model.SessionStatus) ([]model.ExamSession, error)
	ListByStudent(ctx context.Context, studentID int) ([]model.ExamSession, error)
	ListLockExpired(ctx context.Context, now time.Time) ([]model.ExamSession, error)
	// Save writes every mutable field of s provided the stored status still
	// equals expected, otherwise it returns ErrStale.
	Save(ctx context.Context, s *model.ExamSession, expected model.SessionStatus) error
}

// AnswerStore persists answers.
type AnswerStore interface {
	Upsert(ctx context.Context, sessionID, questionID uuid.UUID, response []byte, now time.Time) (*model.Answer, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error)
	MarkCorrectness(ctx context.Context, answerID uuid.UUID, correct bool) error
}

// Store groups the stores and runs units of work atomically.
type Store interface {
	Exams() ExamStore
	Questions() QuestionStore
	Sessions() SessionStore
	Answers() AnswerStore
	// InTx runs fn against a Store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Store) error) error
}

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

func (s *PostgresStore) Exams() ExamStore         { return NewExamRepository(s.db) }
func (s *PostgresStore) Questions() QuestionStore { return NewQuestionRepository(s.db) }
func (s *PostgresStore) Sessions() SessionStore   { return NewExamSessionRepository(s.db) }
func (s *PostgresStore) Answers() AnswerStore     { return NewAnswerRepository(s.db) }

// InTx begins a transaction, or a savepoint when already inside one.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: tx})
	})
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
