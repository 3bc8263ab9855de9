// Package grading scores exam sessions. It is pure: no I/O and no clock.
package grading

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// Result is the outcome of grading a single response.
type Result struct {
	AutoGraded bool // false when the question needs a human grader
	Correct    bool
}

// Strategy grades one question type.
type Strategy interface {
	Grade(q *model.Question, response json.RawMessage) Result
}

// Engine routes by question type to the matching Strategy.
// Types without a strategy (TEXT and anything unknown) are left for manual review.
type Engine struct {
	strategies map[model.QuestionType]Strategy
}

// NewEngine installs the built-in strategies.
func NewEngine() *Engine {
	return &Engine{
		strategies: map[model.QuestionType]Strategy{
			model.QuestionTypeTrueFalse:      trueFalseStrategy{},
			model.QuestionTypeMultipleChoice: multipleChoiceStrategy{},
		},
	}
}

// AutoGradable reports whether questions of type t are scored automatically.
func (e *Engine) AutoGradable(t model.QuestionType) bool {
	_, ok := e.strategies[t]
	return ok
}

// Grade evaluates a single response against its question.
func (e *Engine) Grade(q *model.Question, response json.RawMessage) Result {
	s, ok := e.strategies[q.Type]
	if !ok {
		return Result{}
	}
	return s.Grade(q, response)
}

// Outcome is the aggregate result of grading a whole session.
type Outcome struct {
	// Score is a percentage, nil when the exam has no auto-gradable question.
	Score        *float64
	NeedsReview  bool
	AutoGradable int
	Correct      int
	// Marks maps answer ID to correctness for auto-graded answers only.
	Marks map[uuid.UUID]bool
}

// Score grades every answer of a session against the exam's questions.
// Unanswered auto-gradable questions count as wrong. Answers to questions
// outside the exam are ignored. The result does not depend on answer order.
func (e *Engine) Score(questions []model.Question, answers []model.Answer) Outcome {
	out := Outcome{Marks: make(map[uuid.UUID]bool, len(answers))}

	byID := make(map[uuid.UUID]*model.Question, len(questions))
	for i := range questions {
		q := &questions[i]
		byID[q.ID] = q
		if e.AutoGradable(q.Type) {
			out.AutoGradable++
		}
	}

	correctQuestions := make(map[uuid.UUID]struct{})
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			continue
		}
		res := e.Grade(q, a.Response)
		if !res.AutoGraded {
			out.NeedsReview = true
			continue
		}
		out.Marks[a.ID] = res.Correct
		if res.Correct {
			correctQuestions[q.ID] = struct{}{}
		}
	}
	out.Correct = len(correctQuestions)

	if out.AutoGradable == 0 {
		out.NeedsReview = true
		return out
	}
	score := 100 * float64(out.Correct) / float64(out.AutoGradable)
	out.Score = &score
	return out
}

// --- Strategies ---

type trueFalseStrategy struct{}

func (trueFalseStrategy) Grade(q *model.Question, response json.RawMessage) Result {
	res := Result{AutoGraded: true}
	var want, got bool
	if !decodeBool(q.Correct, &want) || !decodeBool(response, &got) {
		return res
	}
	res.Correct = want == got
	return res
}

type multipleChoiceStrategy struct{}

func (multipleChoiceStrategy) Grade(q *model.Question, response json.RawMessage) Result {
	res := Result{AutoGraded: true}
	want, ok := toStringSlice(q.Correct)
	if !ok {
		return res
	}
	got, ok := toStringSlice(response)
	if !ok {
		return res
	}
	res.Correct = setEqual(toSet(want), toSet(got))
	return res
}

// --- helpers ---

// decodeBool accepts only a JSON true or false. A literal null would
// otherwise decode as false.
func decodeBool(raw json.RawMessage, dst *bool) bool {
	var v *bool
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return false
	}
	*dst = *v
	return true
}

// toStringSlice decodes a JSON array of option identifiers. Strings and
// numbers compare by their literal form so "2" and 2 name the same option.
func toStringSlice(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var items []interface{}
	if err := dec.Decode(&items); err != nil || items == nil {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, v)
		case json.Number:
			out = append(out, v.String())
		default:
			return nil, false
		}
	}
	return out, true
}

func toSet(xs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
