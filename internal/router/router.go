package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/handler"
	"github.com/stemsi/exstem-session-engine/internal/middleware"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	Admin   *handler.AdminHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds the background work owned by the router, such as rate limiter
// cleanup.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.GET("/health", handlers.System.Health)

	// Answers arrive in bursts; 120 requests per minute per user leaves
	// room for autosave without letting one client flood the store.
	limiter := middleware.NewRateLimiter(ctx, 120, time.Minute)
	handlers.WS.LimitActions(limiter)

	// ─── 1. Student Group ──────────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireStudent(),
		limiter.Middleware(),
		middleware.NoStore(),
	)
	{
		studentAPI.POST("/sessions/join", handlers.Session.JoinExam)
		studentAPI.GET("/sessions", middleware.Brotli(), handlers.Session.ListSessions)
		studentAPI.GET("/sessions/:session_id", middleware.Brotli(), handlers.Session.GetSession)
		studentAPI.POST("/sessions/:session_id/answers", handlers.Session.SubmitAnswer)
		studentAPI.POST("/sessions/:session_id/finish", handlers.Session.FinishSession)
		studentAPI.POST("/sessions/:session_id/violations", handlers.Session.ReportViolation)
	}

	// ─── 2. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireJWT(authService), middleware.RequireStudent())
	{
		ws.GET("/student/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Admin Group (teachers and admins) ──────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireStaff(),
		middleware.NoStore(),
	)
	{
		adminAPI.POST("/sessions/:session_id/approve", handlers.Admin.ApproveViolation)
		adminAPI.POST("/sessions/:session_id/force-finish", handlers.Admin.ForceFinish)
		adminAPI.GET("/exams/:exam_id/analytics", middleware.Brotli(), handlers.Admin.ExamAnalytics)
		adminAPI.GET("/exams/:exam_id/monitor", handlers.Monitor.MonitorExamSSE)
	}

	return router
}
