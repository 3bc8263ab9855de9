package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/monitor"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams live session events of one exam to its teacher.
type MonitorHandler struct {
	analyticsService *service.AnalyticsService
	subscriber       monitor.Subscriber
	log              zerolog.Logger
}

func NewMonitorHandler(
	analyticsService *service.AnalyticsService,
	subscriber monitor.Subscriber,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		analyticsService: analyticsService,
		subscriber:       subscriber,
		log:              log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:exam_id/monitor
// Sends an analytics snapshot, then every committed event of the exam, with
// a periodic refreshed snapshot while events keep arriving.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	actor, examID, ok := examParams(c)
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	// The snapshot doubles as the ownership check.
	snapshot, err := h.analyticsService.ExamAnalytics(reqCtx, examID, actor)
	if err != nil {
		response.FailError(c, err)
		return
	}

	events, unsubscribe, err := h.subscriber.Subscribe(reqCtx, examID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Monitor subscribe failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal)
		return
	}
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refreshes while nothing has changed.
	dirty := false

	h.log.Info().Str("exam_id", examID.String()).Int("actor_id", actor.ID).Msg("Teacher attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Teacher disconnected from live monitor SSE")
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent("event", ev)
			c.Writer.Flush()
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			dirty = false
			h.sendRefresh(c, reqCtx, examID, actor)

		case <-keepAliveTicker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}

// sendRefresh recomputes the analytics snapshot under a scoped timeout.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, examID uuid.UUID, actor model.Actor) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	snapshot, err := h.analyticsService.ExamAnalytics(ctx, examID, actor)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to refresh monitor snapshot")
		return
	}
	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()
}
