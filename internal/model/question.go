package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType is the closed set of question kinds known to the grader.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeText           QuestionType = "TEXT"
)

// Question represents a single exam question, including its answer key.
type Question struct {
	ID       uuid.UUID       `json:"id"`
	ExamID   uuid.UUID       `json:"exam_id"`
	Text     string          `json:"text"`
	Type     QuestionType    `json:"type"`
	Options  []string        `json:"options,omitempty"`
	Correct  json.RawMessage `json:"correct,omitempty"`
	OrderNum int             `json:"order_num"`
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID       uuid.UUID    `json:"id"`
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	Options  []string     `json:"options,omitempty"`
	OrderNum int          `json:"order_num"`
}

// ForStudent strips the answer key.
func (q *Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:       q.ID,
		Text:     q.Text,
		Type:     q.Type,
		Options:  q.Options,
		OrderNum: q.OrderNum,
	}
}
