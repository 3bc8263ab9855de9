package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

// AdminHandler handles teacher and admin moderation endpoints.
type AdminHandler struct {
	securityService  *service.SecurityService
	analyticsService *service.AnalyticsService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(securityService *service.SecurityService, analyticsService *service.AnalyticsService) *AdminHandler {
	return &AdminHandler{
		securityService:  securityService,
		analyticsService: analyticsService,
	}
}

// ApproveViolation godoc
// POST /api/v1/admin/sessions/:session_id/approve
// Confirms a reported violation and locks the session for the cooldown.
func (h *AdminHandler) ApproveViolation(c *gin.Context) {
	actor, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	session, err := h.securityService.ApproveViolation(c.Request.Context(), sessionID, actor)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// ForceFinish godoc
// POST /api/v1/admin/sessions/:session_id/force-finish
func (h *AdminHandler) ForceFinish(c *gin.Context) {
	actor, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	session, err := h.securityService.ForceFinish(c.Request.Context(), sessionID, actor)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// ExamAnalytics godoc
// GET /api/v1/admin/exams/:exam_id/analytics
func (h *AdminHandler) ExamAnalytics(c *gin.Context) {
	actor, examID, ok := examParams(c)
	if !ok {
		return
	}

	analytics, err := h.analyticsService.ExamAnalytics(c.Request.Context(), examID, actor)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, analytics)
}
