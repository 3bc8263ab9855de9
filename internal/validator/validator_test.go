package validator

import (
	"testing"

	govalidator "github.com/go-playground/validator/v10"
)

type joinPayload struct {
	ExamCode string `json:"exam_code" validate:"required,examcode"`
}

func TestExamCodeTag(t *testing.T) {
	v := govalidator.New()
	register(v)

	for _, code := range []string{"PHY101", "chem-final_2", "abc"} {
		if err := v.Struct(joinPayload{ExamCode: code}); err != nil {
			t.Errorf("%q: expected valid, got %v", code, err)
		}
	}
	for _, code := range []string{"", "ab", "-lead", "has space", "x!y", "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456"} {
		if err := v.Struct(joinPayload{ExamCode: code}); err == nil {
			t.Errorf("%q: expected invalid", code)
		}
	}
}

func TestTranslateErrorsUsesJSONName(t *testing.T) {
	v := govalidator.New()
	register(v)

	fields := TranslateErrors(v.Struct(joinPayload{ExamCode: "x"}))
	msg, ok := fields["exam_code"]
	if !ok {
		t.Fatalf("expected exam_code key, got %v", fields)
	}
	if msg != "exam_code must be 3-32 letters, digits, dashes or underscores" {
		t.Fatalf("unexpected message %q", msg)
	}
}
