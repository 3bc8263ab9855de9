package app

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/repository/memory"
)

// DemoTeacherID owns the seeded exams.
const DemoTeacherID = 100

// SeedDemo loads a published exam (code DEMO01) and a scheduled draft
// (code DEMO02, opening two minutes after now) into an empty memory store.
func SeedDemo(store *memory.Store, now time.Time) {
	duration := 60
	open := model.Exam{
		ID:              uuid.New(),
		TeacherID:       DemoTeacherID,
		Title:           "Demo: general science",
		ExamCode:        "DEMO01",
		Status:          model.ExamStatusPublished,
		DurationMinutes: &duration,
		MaxAttempts:     2,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	store.PutExam(open)
	store.PutQuestions(open.ID, demoQuestions())

	start := now.Add(2 * time.Minute)
	end := start.Add(time.Hour)
	scheduled := open
	scheduled.ID = uuid.New()
	scheduled.Title = "Demo: scheduled quiz"
	scheduled.ExamCode = "DEMO02"
	scheduled.Status = model.ExamStatusDraft
	scheduled.MaxAttempts = 1
	scheduled.ScheduledStart = &start
	scheduled.ScheduledEnd = &end
	store.PutExam(scheduled)
	store.PutQuestions(scheduled.ID, demoQuestions())
}

func demoQuestions() []model.Question {
	return []model.Question{
		{
			ID: uuid.New(), Type: model.QuestionTypeTrueFalse, OrderNum: 1,
			Text:    "Water boils at 100 °C at sea level.",
			Correct: json.RawMessage(`true`),
		},
		{
			ID: uuid.New(), Type: model.QuestionTypeMultipleChoice, OrderNum: 2,
			Text:    "Which of these are noble gases?",
			Options: []string{"Helium", "Nitrogen", "Neon", "Oxygen"},
			Correct: json.RawMessage(`["Helium","Neon"]`),
		},
		{
			ID: uuid.New(), Type: model.QuestionTypeText, OrderNum: 3,
			Text: "Describe the water cycle in two sentences.",
		},
	}
}
