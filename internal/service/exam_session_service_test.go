package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

func TestJoinCreatesActiveSession(t *testing.T) {
	f := newFixture(t)
	sess := f.join(t, studentID)

	if sess.Status != model.SessionStatusActive {
		t.Fatalf("expected ACTIVE, got %s", sess.Status)
	}
	if !sess.StartedAt.Equal(epoch) {
		t.Fatalf("expected startedAt %v, got %v", epoch, sess.StartedAt)
	}
	if sess.Locked || sess.Score != nil {
		t.Fatalf("unexpected initial state %+v", sess)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != model.EventSessionStarted {
		t.Fatalf("expected SESSION_STARTED, got %v", got)
	}
}

func TestJoinRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.sessions.Join(ctx, studentID, "NOPE"); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("unknown code: expected ErrNotFound, got %v", err)
	}

	draft := f.putExam(t, func(e *model.Exam) { e.Status = model.ExamStatusDraft })
	if _, err := f.sessions.Join(ctx, studentID, draft.ExamCode); !errors.Is(err, service.ErrInvalidState) {
		t.Fatalf("draft exam: expected ErrInvalidState, got %v", err)
	}
	closed := f.putExam(t, func(e *model.Exam) { e.Status = model.ExamStatusClosed })
	if _, err := f.sessions.Join(ctx, studentID, closed.ExamCode); !errors.Is(err, service.ErrInvalidState) {
		t.Fatalf("closed exam: expected ErrInvalidState, got %v", err)
	}

	sess := f.join(t, studentID)
	if _, err := f.sessions.Join(ctx, studentID, f.exam.ExamCode); !errors.Is(err, service.ErrConflict) {
		t.Fatalf("open session: expected ErrConflict, got %v", err)
	}

	if _, err := f.sessions.Finish(ctx, sess.ID, studentID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := f.sessions.Join(ctx, studentID, f.exam.ExamCode); !errors.Is(err, service.ErrLimitExceeded) {
		t.Fatalf("attempts used: expected ErrLimitExceeded, got %v", err)
	}
}

func TestJoinAllowsRetakesUpToMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	exam := f.putExam(t, func(e *model.Exam) { e.MaxAttempts = 2 })

	for i := 0; i < 2; i++ {
		sess, err := f.sessions.Join(ctx, studentID, exam.ExamCode)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if _, err := f.sessions.Finish(ctx, sess.ID, studentID); err != nil {
			t.Fatalf("finish attempt %d: %v", i+1, err)
		}
	}
	if _, err := f.sessions.Join(ctx, studentID, exam.ExamCode); !errors.Is(err, service.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded after two attempts, got %v", err)
	}
}

func TestConcurrentJoinCreatesOneSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.sessions.Join(ctx, studentID, f.exam.ExamCode)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, service.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflicts != 7 {
		t.Fatalf("expected 1 success and 7 conflicts, got %d and %d", ok, conflicts)
	}
}

func TestSubmitAnswerUpsertsResponse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.join(t, studentID)
	q := f.questions[0]

	if _, err := f.sessions.SubmitAnswer(ctx, sess.ID, studentID, q.ID, json.RawMessage(`false`)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := f.sessions.SubmitAnswer(ctx, sess.ID, studentID, q.ID, json.RawMessage(`true`)); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	answers, _ := f.store.Answers().ListBySession(ctx, sess.ID)
	if len(answers) != 1 || string(answers[0].Response) != "true" {
		t.Fatalf("expected a single overwritten answer, got %+v", answers)
	}
}

func TestSubmitAnswerRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.join(t, studentID)
	q := f.questions[0]

	if _, err := f.sessions.SubmitAnswer(ctx, uuid.New(), studentID, q.ID, json.RawMessage(`true`)); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("unknown session: expected ErrNotFound, got %v", err)
	}
	if _, err := f.sessions.SubmitAnswer(ctx, sess.ID, otherID, q.ID, json.RawMessage(`true`)); !errors.Is(err, service.ErrAccessDenied) {
		t.Fatalf("other student: expected ErrAccessDenied, got %v", err)
	}
	if _, err := f.sessions.SubmitAnswer(ctx, sess.ID, studentID, uuid.New(), json.RawMessage(`true`)); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("foreign question: expected ErrNotFound, got %v", err)
	}

	if _, err := f.security.ReportViolation(ctx, sess.ID, studentID, "TAB_SWITCH", "left the tab"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if _, err := f.sessions.SubmitAnswer(ctx, sess.ID, studentID, q.ID, json.RawMessage(`true`)); !errors.Is(err, service.ErrLocked) {
		t.Fatalf("blocked session: expected ErrLocked, got %v", err)
	}

	if _, err := f.security.ApproveViolation(ctx, sess.ID, teacher); err != nil {
		t.Fatalf("approve: %v", err)
	}
	f.clock.Advance(30 * time.Second)
	if _, err := f.sessions.SubmitAnswer(ctx, sess.ID, studentID, q.ID, json.RawMessage(`true`)); !errors.Is(err, service.ErrLocked) {
		t.Fatalf("cooldown running: expected ErrLocked, got %v", err)
	}
}

func TestSubmitAnswerAfterCooldownUnlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.join(t, studentID)

	if _, err := f.security.ReportViolation(ctx, sess.ID, studentID, "COPY", "copied text"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if _, err := f.security.ApproveViolation(ctx, sess.ID, teacher); err != nil {
		t.Fatalf("approve: %v", err)
	}
	f.clock.Advance(61 * time.Second)

	if _, err := f.sessions.SubmitAnswer(ctx, sess.ID, studentID, f.questions[0].ID, json.RawMessage(`true`)); err != nil {
		t.Fatalf("expected submit after cooldown to succeed, got %v", err)
	}
	got := f.reload(t, sess.ID)
	if got.Status != model.SessionStatusActive || got.Locked || got.LockedUntil != nil {
		t.Fatalf("expected session unlocked, got %+v", got)
	}
}

func TestSubmitAnswerAfterDurationFinishesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.join(t, studentID)

	if _, err := f.sessions.SubmitAnswer(ctx, sess.ID, studentID, f.questions[0].ID, json.RawMessage(`true`)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.clock.Advance(31 * time.Minute)

	_, err := f.sessions.SubmitAnswer(ctx, sess.ID, studentID, f.questions[1].ID, json.RawMessage(`["a","c"]`))
	if !errors.Is(err, service.ErrTimeExpired) {
		t.Fatalf("expected ErrTimeExpired, got %v", err)
	}

	got := f.reload(t, sess.ID)
	if got.Status != model.SessionStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
	if got.Score == nil || *got.Score != 50 {
		t.Fatalf("expected score 50 from the pre-expiry answer only, got %v", got.Score)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(f.clock.Now()) {
		t.Fatalf("expected finishedAt at expiry check, got %v", got.FinishedAt)
	}
	answers, _ := f.store.Answers().ListBySession(ctx, sess.ID)
	if len(answers) != 1 {
		t.Fatalf("late answer must not be stored, got %d answers", len(answers))
	}

	if _, err := f.sessions.SubmitAnswer(ctx, sess.ID, studentID, f.questions[1].ID, json.RawMessage(`["a"]`)); !errors.Is(err, service.ErrInvalidState) {
		t.Fatalf("completed session: expected ErrInvalidState, got %v", err)
	}
}

func TestSubmitAnswerExpiryWinsOverLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.join(t, studentID)

	if _, err := f.security.ReportViolation(ctx, sess.ID, studentID, "TAB_SWITCH", "left"); err != nil {
		t.Fatalf("report: %v", err)
	}
	f.clock.Advance(45 * time.Minute)

	if _, err := f.sessions.SubmitAnswer(ctx, sess.ID, studentID, f.questions[0].ID, json.RawMessage(`true`)); !errors.Is(err, service.ErrTimeExpired) {
		t.Fatalf("expected ErrTimeExpired before ErrLocked, got %v", err)
	}
	if got := f.reload(t, sess.ID); got.Status != model.SessionStatusCompleted || got.Locked {
		t.Fatalf("expected unlocked COMPLETED session, got %+v", got)
	}
}

func TestFinishGradesAndRecordsScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.join(t, studentID)

	submit := func(q model.Question, resp string) {
		t.Helper()
		if _, err := f.sessions.SubmitAnswer(ctx, sess.ID, studentID, q.ID, json.RawMessage(resp)); err != nil {
			t.Fatalf("submit %s: %v", q.Text, err)
		}
	}
	submit(f.questions[0], `true`)
	submit(f.questions[1], `["c","a","a"]`)
	submit(f.questions[2], `"disorder grows"`)
	f.clock.Advance(10 * time.Minute)

	if _, err := f.sessions.Finish(ctx, sess.ID, otherID); !errors.Is(err, service.ErrAccessDenied) {
		t.Fatalf("other student: expected ErrAccessDenied, got %v", err)
	}

	done, err := f.sessions.Finish(ctx, sess.ID, studentID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.Status != model.SessionStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", done.Status)
	}
	if done.Score == nil || *done.Score != 100 {
		t.Fatalf("expected 100, got %v", done.Score)
	}
	if !done.NeedsReview {
		t.Fatalf("expected review flag for the answered text question")
	}

	answers, _ := f.store.Answers().ListBySession(ctx, sess.ID)
	for _, a := range answers {
		isText := a.QuestionID == f.questions[2].ID
		if isText && a.IsCorrect != nil {
			t.Fatalf("text answer must stay unmarked")
		}
		if !isText && (a.IsCorrect == nil || !*a.IsCorrect) {
			t.Fatalf("expected auto-graded answer %s marked correct", a.QuestionID)
		}
	}

	if _, err := f.sessions.Finish(ctx, sess.ID, studentID); !errors.Is(err, service.ErrAlreadyCompleted) {
		t.Fatalf("second finish: expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestFinishWithoutAutoGradableQuestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	exam := f.putExam(t, func(e *model.Exam) {})
	essay := model.Question{ID: uuid.New(), Text: "Essay", Type: model.QuestionTypeText}
	f.store.PutQuestions(exam.ID, []model.Question{essay})

	sess, err := f.sessions.Join(ctx, studentID, exam.ExamCode)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	done, err := f.sessions.Finish(ctx, sess.ID, studentID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.Score != nil || !done.NeedsReview {
		t.Fatalf("expected nil score flagged for review, got %+v", done)
	}
}

func TestGetSessionReportsRemainingMinutes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.join(t, studentID)
	f.clock.Advance(12*time.Minute + 20*time.Second)

	detail, err := f.sessions.GetSession(ctx, sess.ID, studentID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if detail.RemainingMinutes == nil || *detail.RemainingMinutes != 18 {
		t.Fatalf("expected 18 minutes left, got %v", detail.RemainingMinutes)
	}
	if len(detail.Questions) != len(f.questions) {
		t.Fatalf("expected %d questions, got %d", len(f.questions), len(detail.Questions))
	}
	raw, _ := json.Marshal(detail.Questions)
	var generic []map[string]any
	_ = json.Unmarshal(raw, &generic)
	for _, q := range generic {
		if _, ok := q["correct"]; ok {
			t.Fatalf("answer key leaked to student view: %s", raw)
		}
	}

	if _, err := f.sessions.GetSession(ctx, sess.ID, otherID); !errors.Is(err, service.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestGetSessionFinishesWhenNoTimeRemains(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.join(t, studentID)
	f.clock.Advance(29*time.Minute + 40*time.Second)

	detail, err := f.sessions.GetSession(ctx, sess.ID, studentID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if detail.Session.Status != model.SessionStatusCompleted {
		t.Fatalf("expected auto-finished session, got %s", detail.Session.Status)
	}
	if detail.RemainingMinutes != nil {
		t.Fatalf("completed session must not report remaining time")
	}
	if detail.Session.Score == nil || *detail.Session.Score != 0 {
		t.Fatalf("expected score 0 without answers, got %v", detail.Session.Score)
	}
}

func TestUntimedExamNeverExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	exam := f.putExam(t, func(e *model.Exam) { e.DurationMinutes = nil })
	f.store.PutQuestions(exam.ID, f.questions)

	sess, err := f.sessions.Join(ctx, studentID, exam.ExamCode)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	f.clock.Advance(48 * time.Hour)

	if _, err := f.sessions.SubmitAnswer(ctx, sess.ID, studentID, f.questions[0].ID, json.RawMessage(`true`)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	detail, err := f.sessions.GetSession(ctx, sess.ID, studentID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if detail.RemainingMinutes != nil || detail.Session.Status != model.SessionStatusActive {
		t.Fatalf("expected ACTIVE untimed session, got %+v", detail)
	}
}

func TestConcurrentFinishAndForceFinish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 20; i++ {
		sess := f.join(t, 1000+i)

		var (
			wg                 sync.WaitGroup
			finishErr, teacErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, finishErr = f.sessions.Finish(ctx, sess.ID, 1000+i)
		}()
		go func() {
			defer wg.Done()
			_, teacErr = f.security.ForceFinish(ctx, sess.ID, teacher)
		}()
		wg.Wait()

		if (finishErr == nil) == (teacErr == nil) {
			t.Fatalf("expected exactly one terminal transition, got finish=%v force=%v", finishErr, teacErr)
		}
		if finishErr != nil && !errors.Is(finishErr, service.ErrAlreadyCompleted) {
			t.Fatalf("unexpected finish error: %v", finishErr)
		}
		if teacErr != nil && !errors.Is(teacErr, service.ErrAlreadyCompleted) {
			t.Fatalf("unexpected force-finish error: %v", teacErr)
		}
	}
}

func TestListMySessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	exam := f.putExam(t, func(e *model.Exam) { e.MaxAttempts = 3 })

	first, err := f.sessions.Join(ctx, studentID, exam.ExamCode)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.sessions.Finish(ctx, first.ID, studentID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	f.clock.Advance(time.Hour)
	second, err := f.sessions.Join(ctx, studentID, exam.ExamCode)
	if err != nil {
		t.Fatalf("join again: %v", err)
	}

	list, err := f.sessions.ListMySessions(ctx, studentID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}

	empty, err := f.sessions.ListMySessions(ctx, otherID)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %v %v", empty, err)
	}
}
