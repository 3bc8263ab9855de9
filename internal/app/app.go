// Package app assembles the storage, services and background workers from
// configuration. Both the HTTP server and the operator CLI build on it.
package app

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/cache"
	"github.com/stemsi/exstem-session-engine/internal/clock"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/database"
	"github.com/stemsi/exstem-session-engine/internal/grading"
	"github.com/stemsi/exstem-session-engine/internal/monitor"
	"github.com/stemsi/exstem-session-engine/internal/repository"
	"github.com/stemsi/exstem-session-engine/internal/repository/memory"
	"github.com/stemsi/exstem-session-engine/internal/service"
	"github.com/stemsi/exstem-session-engine/internal/worker"
)

// App holds the wired dependencies. Pool is nil in memory mode and Redis is
// nil when REDIS_URL is empty.
type App struct {
	Config *config.Config
	Log    zerolog.Logger
	Clock  clock.Clock

	Store      repository.Store
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Events     service.EventPublisher
	Subscriber monitor.Subscriber

	Auth      *service.AuthService
	Sessions  *service.ExamSessionService
	Security  *service.SecurityService
	Lifecycle *service.ExamLifecycleService
	Analytics *service.AnalyticsService

	Scheduler *worker.Scheduler
	// AuditWorker is nil unless both PostgreSQL and Redis are configured.
	AuditWorker *worker.AuditWorker
}

// New connects to the configured backends and builds every service.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Log:    log,
		Clock:  clock.Real{},
		Auth:   service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry),
	}

	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		a.Pool = pool
		a.Store = repository.NewPostgresStore(pool)
	case config.StorageDriverMemory:
		store := memory.NewStore()
		SeedDemo(store, a.Clock.Now())
		a.Store = store
		log.Warn().Msg("Using in-memory storage; state is lost on restart")
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	var questions service.QuestionSource = a.Store.Questions()
	var lease worker.Lease

	if cfg.RedisURL != "" {
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb

		publisher := monitor.NewRedisPublisher(rdb, log)
		a.Events = publisher
		a.Subscriber = publisher
		questions = cache.NewQuestionCache(rdb, a.Store.Questions(), cfg.QuestionCacheTTL, log)
		lease = worker.NewRedisLease(rdb, leaseOwner())

		if a.Pool != nil {
			a.AuditWorker = worker.NewAuditWorker(repository.NewAuditRepository(a.Pool), rdb, log)
		}
	} else {
		hub := monitor.NewHub(log)
		a.Events = hub
		a.Subscriber = hub
	}

	a.Sessions = service.NewExamSessionService(a.Store, questions, grading.NewEngine(), a.Events, a.Clock)
	a.Security = service.NewSecurityService(a.Store, a.Events, a.Clock, cfg.LockCooldown)
	a.Lifecycle = service.NewExamLifecycleService(a.Store, a.Events, a.Clock)
	a.Analytics = service.NewAnalyticsService(a.Store)
	a.Scheduler = worker.NewScheduler(a.Lifecycle, a.Security, lease,
		cfg.SchedulerExamInterval, cfg.SchedulerUnlockInterval, log)

	return a, nil
}

// Close releases the connections opened by New.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

func leaseOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + ":" + strconv.Itoa(os.Getpid())
}
