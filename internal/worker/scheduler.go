package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

const (
	JobExamSweep   = "exam_sweep"
	JobUnlockSweep = "unlock_sweep"
)

// Lease elects a single replica to run a job for one tick.
type Lease interface {
	Acquire(ctx context.Context, job string, ttl time.Duration) (bool, error)
}

// RedisLease implements Lease with SET NX PX. The lease is left to expire
// so replicas whose tick lands later in the same window skip the job.
type RedisLease struct {
	rdb   *redis.Client
	owner string
}

func NewRedisLease(rdb *redis.Client, owner string) *RedisLease {
	return &RedisLease{rdb: rdb, owner: owner}
}

func (l *RedisLease) Acquire(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, config.CacheKey.SchedulerLeaseKey(job), l.owner, ttl).Result()
}

// Scheduler runs the time-driven exam and session transitions.
type Scheduler struct {
	lifecycle      *service.ExamLifecycleService
	security       *service.SecurityService
	lease          Lease
	examInterval   time.Duration
	unlockInterval time.Duration
	log            zerolog.Logger
}

// NewScheduler creates a new Scheduler. A nil lease runs every tick locally.
func NewScheduler(
	lifecycle *service.ExamLifecycleService,
	security *service.SecurityService,
	lease Lease,
	examInterval, unlockInterval time.Duration,
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		lifecycle:      lifecycle,
		security:       security,
		lease:          lease,
		examInterval:   examInterval,
		unlockInterval: unlockInterval,
		log:            log.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers both sweeps and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})))

	if _, err := c.AddFunc(every(s.examInterval), func() {
		s.guarded(ctx, JobExamSweep, s.examInterval, func() { s.RunExamSweep(ctx) })
	}); err != nil {
		return fmt.Errorf("add %s: %w", JobExamSweep, err)
	}
	if _, err := c.AddFunc(every(s.unlockInterval), func() {
		s.guarded(ctx, JobUnlockSweep, s.unlockInterval, func() { s.UnlockExpired(ctx) })
	}); err != nil {
		return fmt.Errorf("add %s: %w", JobUnlockSweep, err)
	}

	c.Start()
	s.log.Info().
		Dur("exam_interval", s.examInterval).
		Dur("unlock_interval", s.unlockInterval).
		Msg("Scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
	return nil
}

// RunExamSweep publishes due exams, then closes due exams.
func (s *Scheduler) RunExamSweep(ctx context.Context) (published, closed int) {
	published = s.PublishDue(ctx)
	closed = s.CloseDue(ctx)
	if published > 0 || closed > 0 {
		s.log.Info().Int("published", published).Int("closed", closed).Msg("Scheduled exam update")
	}
	return published, closed
}

// PublishDue publishes every DRAFT exam whose start has been reached.
func (s *Scheduler) PublishDue(ctx context.Context) int {
	exams, err := s.lifecycle.DueForPublish(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("List exams due for publish failed")
		return 0
	}

	n := 0
	for _, exam := range exams {
		ok, err := s.lifecycle.Publish(ctx, exam.ID)
		if err != nil {
			s.log.Error().Err(err).Str("exam_id", exam.ID.String()).Msg("Auto-publish failed")
			continue
		}
		if !ok {
			continue
		}
		n++
		s.log.Info().
			Str("exam_id", exam.ID.String()).
			Str("title", exam.Title).
			Time("scheduled_start", *exam.ScheduledStart).
			Msg("Auto-published exam")
	}
	return n
}

// CloseDue closes every PUBLISHED exam whose end has been reached and ends
// its open sessions. Sessions left open on an already CLOSED exam by an
// earlier failure are ended as well.
func (s *Scheduler) CloseDue(ctx context.Context) int {
	exams, err := s.lifecycle.DueForClose(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("List exams due for close failed")
	}

	n := 0
	for _, exam := range exams {
		ok, ended, err := s.lifecycle.Close(ctx, exam.ID)
		if err != nil {
			s.log.Error().Err(err).Str("exam_id", exam.ID.String()).Msg("Auto-close failed")
		}
		if !ok {
			continue
		}
		n++
		s.log.Info().
			Str("exam_id", exam.ID.String()).
			Str("title", exam.Title).
			Time("scheduled_end", *exam.ScheduledEnd).
			Int("sessions_ended", len(ended)).
			Msg("Auto-closed exam")
		s.logEnded(ended)
	}

	stranded, err := s.lifecycle.StrandedExams(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("List closed exams with open sessions failed")
		return n
	}
	for _, exam := range stranded {
		ended, err := s.lifecycle.EndOpenSessions(ctx, exam.ID)
		if err != nil {
			s.log.Error().Err(err).Str("exam_id", exam.ID.String()).Msg("Ending sessions of closed exam failed")
		}
		s.logEnded(ended)
	}
	return n
}

func (s *Scheduler) logEnded(ended []model.ExamSession) {
	for _, sess := range ended {
		s.log.Info().
			Str("session_id", sess.ID.String()).
			Int("student_id", sess.StudentID).
			Msg("Force-finished session due to exam closure")
	}
}

// UnlockExpired returns sessions whose lock cooldown has passed to ACTIVE.
func (s *Scheduler) UnlockExpired(ctx context.Context) int {
	n, err := s.security.AutoUnlockExpired(ctx)
	if err != nil {
		s.log.Error().Err(err).Int("unlocked", n).Msg("Auto-unlock failed")
	}
	if n > 0 {
		s.log.Info().Int("unlocked", n).Msg("Auto-unlocked sessions")
	}
	return n
}

func (s *Scheduler) guarded(ctx context.Context, job string, interval time.Duration, run func()) {
	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx, job, interval*9/10)
		if err != nil {
			s.log.Warn().Err(err).Str("job", job).Msg("Lease unavailable, running locally")
		} else if !ok {
			return
		}
	}
	run()
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
