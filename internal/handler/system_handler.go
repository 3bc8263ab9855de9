package handler

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"golang.org/x/sync/errgroup"
)

const healthTimeout = 2 * time.Second

// Pinger is a dependency whose reachability is reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// SystemHandler reports process and dependency health.
type SystemHandler struct {
	startTime time.Time
	checks    map[string]Pinger
	log       zerolog.Logger
}

func NewSystemHandler(checks map[string]Pinger, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		startTime: time.Now(),
		checks:    checks,
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status     string            `json:"status"`
	Uptime     string            `json:"uptime"`
	Goroutines int               `json:"goroutines"`
	Checks     map[string]string `json:"checks"`
}

// Health godoc
// GET /health
// Returns 503 when any configured dependency fails its ping.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	var mu sync.Mutex
	results := make(map[string]string, len(h.checks))
	healthy := true

	var g errgroup.Group
	for name, check := range h.checks {
		g.Go(func() error {
			err := check.Ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				results[name] = err.Error()
				h.log.Warn().Err(err).Str("dependency", name).Msg("Health check failed")
				return nil
			}
			results[name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	report := healthReport{
		Status:     "ok",
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Checks:     results,
	}
	status := http.StatusOK
	if !healthy {
		report.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}
