package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// AnswerRepository handles answer data access.
type AnswerRepository struct {
	db DBTX
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(db DBTX) *AnswerRepository {
	return &AnswerRepository{db: db}
}

// Upsert stores the latest response for a question, clearing any earlier mark.
func (r *AnswerRepository) Upsert(ctx context.Context, sessionID, questionID uuid.UUID, response []byte, now time.Time) (*model.Answer, error) {
	a := &model.Answer{SessionID: sessionID, QuestionID: questionID}
	var stored []byte
	err := r.db.QueryRow(ctx,
		`INSERT INTO answers (id, session_id, question_id, response, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)
		 ON CONFLICT (session_id, question_id)
		 DO UPDATE SET response = EXCLUDED.response, is_correct = NULL, updated_at = EXCLUDED.updated_at
		 RETURNING id, response, is_correct, updated_at`,
		uuid.New(), sessionID, questionID, string(response), now,
	).Scan(&a.ID, &stored, &a.IsCorrect, &a.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	a.Response = stored
	return a, nil
}

// ListBySession retrieves all answers recorded for a session.
func (r *AnswerRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, session_id, question_id, response, is_correct, updated_at
		 FROM answers WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		var resp []byte
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &resp, &a.IsCorrect, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Response = resp
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// MarkCorrectness records the grading result of a single answer.
func (r *AnswerRepository) MarkCorrectness(ctx context.Context, answerID uuid.UUID, correct bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE answers SET is_correct = $1 WHERE id = $2`, correct, answerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
