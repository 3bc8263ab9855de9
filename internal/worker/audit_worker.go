package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

const (
	AuditBatchSize    = 50
	AuditBatchTimeout = 2 * time.Second
	AuditPollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// AuditSink stores audit events durably.
type AuditSink interface {
	InsertBatch(ctx context.Context, events []model.Event) error
	Insert(ctx context.Context, ev model.Event) error
}

// AuditWorker drains the audit queue filled by the monitor publisher into
// the audit sink in batches.
type AuditWorker struct {
	sink         AuditSink
	rdb          *redis.Client
	log          zerolog.Logger
	batchSize    int
	batchTimeout time.Duration
	requeueDelay time.Duration
}

func NewAuditWorker(sink AuditSink, rdb *redis.Client, log zerolog.Logger) *AuditWorker {
	return &AuditWorker{
		sink:         sink,
		rdb:          rdb,
		log:          log.With().Str("component", "audit_worker").Logger(),
		batchSize:    AuditBatchSize,
		batchTimeout: AuditBatchTimeout,
		requeueDelay: 2 * time.Second,
	}
}

func (w *AuditWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AuditWorker started")

	buffer := make([]model.Event, 0, w.batchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 {
			if len(buffer) >= w.batchSize || time.Since(lastFlushTime) >= w.batchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis
		result, err := w.rdb.BLPop(ctx, AuditPollTimeout, config.WorkerKey.PersistAuditQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var ev model.Event
		if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed audit event")
			continue
		}
		buffer = append(buffer, ev)
	}
}

// flushSafe attempts a bulk insert, then row-by-row, then requeues what is left.
func (w *AuditWorker) flushSafe(ctx context.Context, batch []model.Event) {
	if err := w.sink.InsertBatch(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *AuditWorker) fallbackInsert(ctx context.Context, batch []model.Event) {
	var requeueList []model.Event
	for _, ev := range batch {
		if err := w.sink.Insert(ctx, ev); err != nil {
			w.log.Error().Err(err).Str("type", string(ev.Type)).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, ev)
		}
	}
	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *AuditWorker) requeue(ctx context.Context, items []model.Event) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.PersistAuditQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue audit events. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed audit events")
	// Back off so a database outage does not spin the loop.
	select {
	case <-time.After(w.requeueDelay):
	case <-ctx.Done():
	}
}

func (w *AuditWorker) shutdown(buffer []model.Event) {
	w.log.Info().Msg("AuditWorker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
