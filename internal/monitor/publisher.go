// Package monitor fans committed session events out to live monitors and
// the audit trail.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// Subscriber streams the events of one exam. The returned func releases the
// subscription and is safe to call more than once.
type Subscriber interface {
	Subscribe(ctx context.Context, examID uuid.UUID) (<-chan model.Event, func(), error)
}

// RedisPublisher publishes each event on the exam's monitor channel and
// queues it for the audit worker. Failures are logged, never returned.
type RedisPublisher struct {
	rdb   *redis.Client
	log   zerolog.Logger
	audit zerolog.Logger
}

// NewRedisPublisher creates a new RedisPublisher.
func NewRedisPublisher(rdb *redis.Client, log zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		rdb:   rdb,
		log:   log.With().Str("component", "monitor_publisher").Logger(),
		audit: log.With().Str("component", "audit").Logger(),
	}
}

// Publish implements service.EventPublisher.
func (p *RedisPublisher) Publish(ctx context.Context, ev model.Event) {
	logEvent(p.audit, ev)

	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to encode event")
		return
	}

	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID.String()), data)
	pipe.RPush(ctx, config.WorkerKey.PersistAuditQueue, data)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn().Err(err).
			Str("type", string(ev.Type)).
			Str("exam_id", ev.ExamID.String()).
			Msg("Failed to publish event")
	}
}

// Subscribe streams the events of one exam until ctx ends or the returned
// cancel func is called.
func (p *RedisPublisher) Subscribe(ctx context.Context, examID uuid.UUID) (<-chan model.Event, func(), error) {
	pubsub := p.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
	// Wait for the subscription to be confirmed so no event is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe exam %s: %w", examID, err)
	}

	out := make(chan model.Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					p.log.Warn().Err(err).Msg("Discarding malformed monitor event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}

func logEvent(log zerolog.Logger, ev model.Event) {
	var e *zerolog.Event
	switch ev.Type {
	case model.EventViolationReported, model.EventViolationApproved, model.EventSessionForceFinished:
		e = log.Warn()
	case model.EventAnswerSaved:
		e = log.Debug()
	default:
		e = log.Info()
	}
	e = e.Str("event", string(ev.Type)).Str("exam_id", ev.ExamID.String()).Time("at", ev.At)
	if ev.SessionID != nil {
		e = e.Str("session_id", ev.SessionID.String()).Int("student_id", ev.StudentID).Str("status", string(ev.Status))
	}
	if ev.ActorID != nil {
		e = e.Int("actor_id", *ev.ActorID)
	}
	e.Msg("Audit event")
}
