// Package memory is an in-process implementation of repository.Store with
// the same conditional-write and uniqueness rules as the PostgreSQL schema.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/repository"
)

type state struct {
	mu        sync.RWMutex
	exams     map[uuid.UUID]model.Exam
	questions map[uuid.UUID][]model.Question
	sessions  map[uuid.UUID]model.ExamSession
	answers   map[uuid.UUID]model.Answer
}

// Store is a mutex-guarded in-memory repository.Store. Transactions are
// serialised and roll back by restoring a snapshot.
type Store struct {
	txMu *sync.Mutex
	data *state
	inTx bool
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		txMu: &sync.Mutex{},
		data: &state{
			exams:     make(map[uuid.UUID]model.Exam),
			questions: make(map[uuid.UUID][]model.Question),
			sessions:  make(map[uuid.UUID]model.ExamSession),
			answers:   make(map[uuid.UUID]model.Answer),
		},
	}
}

func (s *Store) Exams() repository.ExamStore         { return examStore{s} }
func (s *Store) Questions() repository.QuestionStore { return questionStore{s} }
func (s *Store) Sessions() repository.SessionStore   { return sessionStore{s} }
func (s *Store) Answers() repository.AnswerStore     { return answerStore{s} }

// InTx runs fn with exclusive write access and restores the previous
// contents if fn fails.
func (s *Store) InTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.data.snapshot()
	if err := fn(&Store{txMu: s.txMu, data: s.data, inTx: true}); err != nil {
		s.data.restore(snap)
		return err
	}
	return nil
}

// write runs fn as a single-statement transaction.
func (s *Store) write(fn func(d *state) error) error {
	if !s.inTx {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	return fn(s.data)
}

// read sees committed state only: outside a transaction it waits for the
// running one to commit or roll back.
func (s *Store) read(fn func(d *state)) {
	if !s.inTx {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.peek(fn)
}

// peek reads without waiting for transactions. Questions are never written
// inside a transaction and are read from within them, so they use it.
func (s *Store) peek(fn func(d *state)) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	fn(s.data)
}

// PutExam inserts or replaces an exam.
func (s *Store) PutExam(e model.Exam) {
	_ = s.write(func(d *state) error {
		d.exams[e.ID] = e
		return nil
	})
}

// PutQuestions replaces the questions of an exam.
func (s *Store) PutQuestions(examID uuid.UUID, qs []model.Question) {
	cp := make([]model.Question, len(qs))
	copy(cp, qs)
	for i := range cp {
		cp[i].ExamID = examID
	}
	_ = s.write(func(d *state) error {
		d.questions[examID] = cp
		return nil
	})
}

// PutSession inserts or replaces a session without any checks.
func (s *Store) PutSession(sess model.ExamSession) {
	_ = s.write(func(d *state) error {
		d.sessions[sess.ID] = cloneSession(sess)
		return nil
	})
}

type snapshot struct {
	exams    map[uuid.UUID]model.Exam
	sessions map[uuid.UUID]model.ExamSession
	answers  map[uuid.UUID]model.Answer
}

func (d *state) snapshot() snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := snapshot{
		exams:    make(map[uuid.UUID]model.Exam, len(d.exams)),
		sessions: make(map[uuid.UUID]model.ExamSession, len(d.sessions)),
		answers:  make(map[uuid.UUID]model.Answer, len(d.answers)),
	}
	for k, v := range d.exams {
		snap.exams[k] = v
	}
	for k, v := range d.sessions {
		snap.sessions[k] = cloneSession(v)
	}
	for k, v := range d.answers {
		snap.answers[k] = v
	}
	return snap
}

func (d *state) restore(snap snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exams = snap.exams
	d.sessions = snap.sessions
	d.answers = snap.answers
}

func cloneSession(s model.ExamSession) model.ExamSession {
	if s.LastViolation != nil {
		v := *s.LastViolation
		s.LastViolation = &v
	}
	return s
}

func hasStatus(s model.SessionStatus, statuses []model.SessionStatus) bool {
	for _, st := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

// --- exams ---

type examStore struct{ s *Store }

func (r examStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	var (
		e  model.Exam
		ok bool
	)
	r.s.read(func(d *state) { e, ok = d.exams[id] })
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (r examStore) GetByCode(_ context.Context, code string) (*model.Exam, error) {
	var found *model.Exam
	r.s.read(func(d *state) {
		for _, e := range d.exams {
			if e.ExamCode == code {
				e := e
				found = &e
				return
			}
		}
	})
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

// GetForShare relies on InTx serialisation for exclusion.
func (r examStore) GetForShare(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return r.GetByID(ctx, id)
}

func (r examStore) ListDueForPublish(_ context.Context, now time.Time) ([]model.Exam, error) {
	return r.filter(func(e model.Exam) bool {
		return e.Status == model.ExamStatusDraft && e.ScheduledStart != nil && !e.ScheduledStart.After(now)
	}), nil
}

func (r examStore) ListDueForClose(_ context.Context, now time.Time) ([]model.Exam, error) {
	return r.filter(func(e model.Exam) bool {
		return e.Status == model.ExamStatusPublished && e.ScheduledEnd != nil && !e.ScheduledEnd.After(now)
	}), nil
}

func (r examStore) ListClosedWithOpenSessions(_ context.Context) ([]model.Exam, error) {
	var out []model.Exam
	r.s.read(func(d *state) {
		open := make(map[uuid.UUID]bool)
		for _, sess := range d.sessions {
			if !sess.Status.IsTerminal() {
				open[sess.ExamID] = true
			}
		}
		for _, e := range d.exams {
			if e.Status == model.ExamStatusClosed && open[e.ID] {
				out = append(out, e)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r examStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to model.ExamStatus, now time.Time) (bool, error) {
	changed := false
	err := r.s.write(func(d *state) error {
		e, ok := d.exams[id]
		if !ok || e.Status != from {
			return nil
		}
		e.Status = to
		e.UpdatedAt = now
		d.exams[id] = e
		changed = true
		return nil
	})
	return changed, err
}

func (r examStore) filter(keep func(model.Exam) bool) []model.Exam {
	var out []model.Exam
	r.s.read(func(d *state) {
		for _, e := range d.exams {
			if keep(e) {
				out = append(out, e)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// --- questions ---

type questionStore struct{ s *Store }

func (r questionStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	var out []model.Question
	r.s.peek(func(d *state) {
		out = append(out, d.questions[examID]...)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderNum < out[j].OrderNum })
	return out, nil
}

// --- sessions ---

type sessionStore struct{ s *Store }

func (r sessionStore) Create(_ context.Context, sess *model.ExamSession) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	return r.s.write(func(d *state) error {
		if _, ok := d.sessions[sess.ID]; ok {
			return repository.ErrDuplicate
		}
		if !sess.Status.IsTerminal() {
			for _, other := range d.sessions {
				if other.ExamID == sess.ExamID && other.StudentID == sess.StudentID && !other.Status.IsTerminal() {
					return repository.ErrDuplicate
				}
			}
		}
		d.sessions[sess.ID] = cloneSession(*sess)
		return nil
	})
}

func (r sessionStore) GetByID(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	var (
		sess model.ExamSession
		ok   bool
	)
	r.s.read(func(d *state) {
		sess, ok = d.sessions[id]
		sess = cloneSession(sess)
	})
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sess, nil
}

// GetForUpdate relies on InTx serialisation for exclusion.
func (r sessionStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return r.GetByID(ctx, id)
}

func (r sessionStore) FindOpen(_ context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	out := r.filter(func(s model.ExamSession) bool {
		return s.ExamID == examID && s.StudentID == studentID && !s.Status.IsTerminal()
	})
	if len(out) == 0 {
		return nil, repository.ErrNotFound
	}
	return &out[0], nil
}

func (r sessionStore) CountByStatus(_ context.Context, examID uuid.UUID, studentID int, statuses []model.SessionStatus) (int, error) {
	out := r.filter(func(s model.ExamSession) bool {
		return s.ExamID == examID && s.StudentID == studentID && hasStatus(s.Status, statuses)
	})
	return len(out), nil
}

func (r sessionStore) ListByExam(_ context.Context, examID uuid.UUID, statuses ...model.SessionStatus) ([]model.ExamSession, error) {
	out := r.filter(func(s model.ExamSession) bool {
		return s.ExamID == examID && (len(statuses) == 0 || hasStatus(s.Status, statuses))
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (r sessionStore) ListByStudent(_ context.Context, studentID int) ([]model.ExamSession, error) {
	out := r.filter(func(s model.ExamSession) bool { return s.StudentID == studentID })
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (r sessionStore) ListLockExpired(_ context.Context, now time.Time) ([]model.ExamSession, error) {
	out := r.filter(func(s model.ExamSession) bool {
		return s.Status == model.SessionStatusLocked && s.LockedUntil != nil && s.LockedUntil.Before(now)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LockedUntil.Before(*out[j].LockedUntil) })
	return out, nil
}

func (r sessionStore) Save(_ context.Context, sess *model.ExamSession, expected model.SessionStatus) error {
	return r.s.write(func(d *state) error {
		cur, ok := d.sessions[sess.ID]
		if !ok || cur.Status != expected {
			return repository.ErrStale
		}
		// Identity fields are immutable.
		next := cloneSession(*sess)
		next.ExamID, next.StudentID, next.StartedAt = cur.ExamID, cur.StudentID, cur.StartedAt
		d.sessions[sess.ID] = next
		return nil
	})
}

func (r sessionStore) filter(keep func(model.ExamSession) bool) []model.ExamSession {
	var out []model.ExamSession
	r.s.read(func(d *state) {
		for _, s := range d.sessions {
			if keep(s) {
				out = append(out, cloneSession(s))
			}
		}
	})
	return out
}

// --- answers ---

type answerStore struct{ s *Store }

func (r answerStore) Upsert(_ context.Context, sessionID, questionID uuid.UUID, response []byte, now time.Time) (*model.Answer, error) {
	var out model.Answer
	err := r.s.write(func(d *state) error {
		resp := append([]byte(nil), response...)
		for id, a := range d.answers {
			if a.SessionID == sessionID && a.QuestionID == questionID {
				a.Response = resp
				a.IsCorrect = nil
				a.UpdatedAt = now
				d.answers[id] = a
				out = a
				return nil
			}
		}
		out = model.Answer{
			ID:         uuid.New(),
			SessionID:  sessionID,
			QuestionID: questionID,
			Response:   resp,
			UpdatedAt:  now,
		}
		d.answers[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r answerStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	var out []model.Answer
	r.s.read(func(d *state) {
		for _, a := range d.answers {
			if a.SessionID == sessionID {
				out = append(out, a)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r answerStore) MarkCorrectness(_ context.Context, answerID uuid.UUID, correct bool) error {
	return r.s.write(func(d *state) error {
		a, ok := d.answers[answerID]
		if !ok {
			return repository.ErrNotFound
		}
		c := correct
		a.IsCorrect = &c
		d.answers[answerID] = a
		return nil
	})
}
