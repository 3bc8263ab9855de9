package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

type fakeSink struct {
	mu        sync.Mutex
	batchErr  error
	rejectTyp model.EventType
	stored    []model.Event
}

func (f *fakeSink) InsertBatch(_ context.Context, events []model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	f.stored = append(f.stored, events...)
	return nil
}

func (f *fakeSink) Insert(_ context.Context, ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Type == f.rejectTyp {
		return errors.New("constraint violation")
	}
	f.stored = append(f.stored, ev)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func newTestAuditWorker(t *testing.T, sink AuditSink) (*AuditWorker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	w := NewAuditWorker(sink, rdb, zerolog.Nop())
	w.batchTimeout = 10 * time.Millisecond
	w.requeueDelay = 0
	return w, mr, rdb
}

func auditEvent(t model.EventType) model.Event {
	id := uuid.New()
	return model.Event{Type: t, ExamID: uuid.New(), SessionID: &id, StudentID: 7, Status: model.SessionStatusActive, At: epoch}
}

func TestAuditWorkerDrainsQueue(t *testing.T) {
	sink := &fakeSink{}
	w, _, rdb := newTestAuditWorker(t, sink)

	ctx := context.Background()
	for _, ev := range []model.Event{auditEvent(model.EventSessionStarted), auditEvent(model.EventAnswerSaved)} {
		data, _ := json.Marshal(ev)
		rdb.RPush(ctx, config.WorkerKey.PersistAuditQueue, data)
	}
	rdb.RPush(ctx, config.WorkerKey.PersistAuditQueue, "not json")

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		w.Start(runCtx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	if got := sink.count(); got != 2 {
		t.Fatalf("expected 2 stored events, got %d", got)
	}
	if n, _ := rdb.LLen(ctx, config.WorkerKey.PersistAuditQueue).Result(); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestAuditWorkerFallbackRequeuesRejectedRows(t *testing.T) {
	sink := &fakeSink{batchErr: errors.New("copy failed"), rejectTyp: model.EventViolationReported}
	w, _, rdb := newTestAuditWorker(t, sink)

	ctx := context.Background()
	w.flushSafe(ctx, []model.Event{
		auditEvent(model.EventSessionStarted),
		auditEvent(model.EventViolationReported),
		auditEvent(model.EventSessionCompleted),
	})

	if got := sink.count(); got != 2 {
		t.Fatalf("expected 2 rows stored individually, got %d", got)
	}
	items, err := rdb.LRange(ctx, config.WorkerKey.PersistAuditQueue, 0, -1).Result()
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 requeued event, got %d", len(items))
	}
	var ev model.Event
	if err := json.Unmarshal([]byte(items[0]), &ev); err != nil {
		t.Fatalf("unmarshal requeued: %v", err)
	}
	if ev.Type != model.EventViolationReported {
		t.Fatalf("expected requeued violation event, got %s", ev.Type)
	}
}
