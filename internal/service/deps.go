package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// QuestionSource yields the questions of an exam, answer keys included.
type QuestionSource interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// EventPublisher receives an event after the transition it describes has
// been committed. Delivery is best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.Event) {}
