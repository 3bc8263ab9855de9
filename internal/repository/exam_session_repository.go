package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

const sessionColumns = `id, exam_id, student_id, status, started_at, finished_at, score,
		        needs_review, locked, locked_until, last_violation, updated_at`

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	db DBTX
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(db DBTX) *ExamSessionRepository {
	return &ExamSessionRepository{db: db}
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.Status, &s.StartedAt, &s.FinishedAt, &s.Score,
		&s.NeedsReview, &s.Locked, &s.LockedUntil, &s.LastViolation, &s.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return s, nil
}

// Create inserts a new exam session. A second open session for the same
// student and exam is rejected by the partial unique index with ErrDuplicate.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO exam_sessions (id, exam_id, student_id, status, started_at, locked, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.ExamID, s.StudentID, s.Status, s.StartedAt, s.Locked, s.UpdatedAt)
	return translate(err)
}

// GetByID retrieves a session by its UUID.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

// GetForUpdate retrieves a session and row-locks it for the current transaction.
func (r *ExamSessionRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1 FOR UPDATE`, id))
}

// FindOpen retrieves the student's non-terminal session for an exam, if any.
func (r *ExamSessionRepository) FindOpen(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	return scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2 AND status = ANY($3)
		 LIMIT 1`, examID, studentID, statusStrings(model.OpenSessionStatuses)))
}

// CountByStatus counts a student's sessions for an exam in any of the given statuses.
func (r *ExamSessionRepository) CountByStatus(ctx context.Context, examID uuid.UUID, studentID int, statuses []model.SessionStatus) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2 AND status = ANY($3)`,
		examID, studentID, statusStrings(statuses)).Scan(&n)
	return n, err
}

// ListByExam retrieves the sessions of an exam, optionally filtered by status.
func (r *ExamSessionRepository) ListByExam(ctx context.Context, examID uuid.UUID, statuses ...model.SessionStatus) ([]model.ExamSession, error) {
	if len(statuses) == 0 {
		return r.list(ctx,
			`SELECT `+sessionColumns+` FROM exam_sessions
			 WHERE exam_id = $1 ORDER BY started_at`, examID)
	}
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE exam_id = $1 AND status = ANY($2) ORDER BY started_at`,
		examID, statusStrings(statuses))
}

// ListByStudent retrieves all sessions for a given student, newest first.
func (r *ExamSessionRepository) ListByStudent(ctx context.Context, studentID int) ([]model.ExamSession, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE student_id = $1 ORDER BY started_at DESC`, studentID)
}

// ListLockExpired retrieves LOCKED sessions whose cooldown ended before now.
func (r *ExamSessionRepository) ListLockExpired(ctx context.Context, now time.Time) ([]model.ExamSession, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE status = $1 AND locked_until IS NOT NULL AND locked_until < $2
		 ORDER BY locked_until`, model.SessionStatusLocked, now)
}

// Save writes the mutable fields of s conditioned on the stored status.
func (r *ExamSessionRepository) Save(ctx context.Context, s *model.ExamSession, expected model.SessionStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, finished_at = $2, score = $3, needs_review = $4,
		     locked = $5, locked_until = $6, last_violation = $7, updated_at = $8
		 WHERE id = $9 AND status = $10`,
		s.Status, s.FinishedAt, s.Score, s.NeedsReview,
		s.Locked, s.LockedUntil, s.LastViolation, s.UpdatedAt,
		s.ID, expected)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

func (r *ExamSessionRepository) list(ctx context.Context, query string, args ...any) ([]model.ExamSession, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func statusStrings(statuses []model.SessionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
