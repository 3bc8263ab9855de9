package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// AuditRepository persists lifecycle events.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

var auditColumns = []string{"event_type", "exam_id", "session_id", "student_id", "actor_id", "status", "occurred_at"}

// InsertBatch bulk-loads events with COPY.
func (r *AuditRepository) InsertBatch(ctx context.Context, events []model.Event) error {
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		rows = append(rows, auditRow(ev))
	}
	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"audit_logs"}, auditColumns, pgx.CopyFromRows(rows))
	return err
}

// Insert stores a single event.
func (r *AuditRepository) Insert(ctx context.Context, ev model.Event) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (event_type, exam_id, session_id, student_id, actor_id, status, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		auditRow(ev)...)
	return err
}

func auditRow(ev model.Event) []any {
	var studentID *int
	if ev.SessionID != nil {
		id := ev.StudentID
		studentID = &id
	}
	var status *string
	if ev.Status != "" {
		s := string(ev.Status)
		status = &s
	}
	return []any{string(ev.Type), ev.ExamID, ev.SessionID, studentID, ev.ActorID, status, ev.At}
}
