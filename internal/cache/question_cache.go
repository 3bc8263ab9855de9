// Package cache keeps exam questions in Redis so the hot submit path does not
// hit PostgreSQL for every answer.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches questions from the backing store.
type QuestionLoader interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// QuestionCache is a read-through Redis cache over a QuestionLoader.
// Concurrent misses for the same exam are collapsed into one load.
type QuestionCache struct {
	rdb    *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	log    zerolog.Logger
}

// NewQuestionCache creates a new QuestionCache.
func NewQuestionCache(rdb *redis.Client, loader QuestionLoader, ttl time.Duration, log zerolog.Logger) *QuestionCache {
	return &QuestionCache{
		rdb:    rdb,
		loader: loader,
		ttl:    ttl,
		log:    log.With().Str("component", "question_cache").Logger(),
	}
}

// ListByExam returns the exam's questions from Redis, loading and caching
// them on a miss. Redis failures fall back to the loader.
func (c *QuestionCache) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	key := config.CacheKey.ExamQuestionsKey(examID.String())

	if qs, ok := c.get(ctx, key); ok {
		return qs, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Another caller may have filled it while we waited.
		if qs, ok := c.get(ctx, key); ok {
			return qs, nil
		}

		qs, err := c.loader.ListByExam(ctx, examID)
		if err != nil {
			return nil, err
		}
		if qs == nil {
			qs = []model.Question{}
		}

		data, err := json.Marshal(qs)
		if err == nil {
			err = c.rdb.Set(ctx, key, data, c.ttlWithJitter()).Err()
		}
		if err != nil {
			c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to cache questions")
		}
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]model.Question), nil
}

// Invalidate drops the cached questions of an exam.
func (c *QuestionCache) Invalidate(ctx context.Context, examID uuid.UUID) error {
	return c.rdb.Del(ctx, config.CacheKey.ExamQuestionsKey(examID.String())).Err()
}

func (c *QuestionCache) get(ctx context.Context, key string) ([]model.Question, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("Question cache read failed")
		}
		return nil, false
	}
	var qs []model.Question
	if err := json.Unmarshal(data, &qs); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Discarding malformed cached questions")
		return nil, false
	}
	return qs, true
}

// ttlWithJitter spreads expiry by up to 10% so exams cached together do not
// all reload at once.
func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	return c.ttl + time.Duration(rand.Int64N(int64(c.ttl)/10+1))
}
