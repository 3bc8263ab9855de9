package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	db DBTX
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(db DBTX) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// ListByExam retrieves all questions for an exam ordered by order_num.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, exam_id, text, type, options, correct, order_num
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num, id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var correct []byte
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Text, &q.Type, &q.Options, &correct, &q.OrderNum); err != nil {
			return nil, err
		}
		q.Correct = correct
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
