package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

const examColumns = `id, teacher_id, title, exam_code, status, duration_minutes, max_attempts,
		        scheduled_start, scheduled_end, created_at, updated_at`

// ExamRepository handles exam data access.
type ExamRepository struct {
	db DBTX
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(db DBTX) *ExamRepository {
	return &ExamRepository{db: db}
}

func scanExam(row pgx.Row) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(&e.ID, &e.TeacherID, &e.Title, &e.ExamCode, &e.Status, &e.DurationMinutes,
		&e.MaxAttempts, &e.ScheduledStart, &e.ScheduledEnd, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return e, nil
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.db.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
}

// GetByCode retrieves an exam by its join code.
func (r *ExamRepository) GetByCode(ctx context.Context, code string) (*model.Exam, error) {
	return scanExam(r.db.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE exam_code = $1`, code))
}

// GetForShare retrieves an exam holding a share lock on its row.
func (r *ExamRepository) GetForShare(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.db.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1 FOR SHARE`, id))
}

// ListDueForPublish retrieves DRAFT exams whose scheduled start has passed.
func (r *ExamRepository) ListDueForPublish(ctx context.Context, now time.Time) ([]model.Exam, error) {
	return r.list(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE status = $1 AND scheduled_start IS NOT NULL AND scheduled_start <= $2
		 ORDER BY scheduled_start`, model.ExamStatusDraft, now)
}

// ListDueForClose retrieves PUBLISHED exams whose scheduled end has passed.
func (r *ExamRepository) ListDueForClose(ctx context.Context, now time.Time) ([]model.Exam, error) {
	return r.list(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE status = $1 AND scheduled_end IS NOT NULL AND scheduled_end <= $2
		 ORDER BY scheduled_end`, model.ExamStatusPublished, now)
}

// ListClosedWithOpenSessions retrieves CLOSED exams that still have open sessions.
func (r *ExamRepository) ListClosedWithOpenSessions(ctx context.Context) ([]model.Exam, error) {
	return r.list(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE status = $1 AND EXISTS (
		     SELECT 1 FROM exam_sessions s
		     WHERE s.exam_id = exams.id AND s.status = ANY($2))
		 ORDER BY scheduled_end`, model.ExamStatusClosed, statusStrings(model.OpenSessionStatuses))
}

// UpdateStatus changes the status only while it still equals from.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.ExamStatus, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, now, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ExamRepository) list(ctx context.Context, query string, args ...any) ([]model.Exam, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}
