package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session-engine/internal/middleware"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
	"github.com/stemsi/exstem-session-engine/internal/validator"
)

// SessionHandler handles the student-facing session endpoints.
type SessionHandler struct {
	sessionService  *service.ExamSessionService
	securityService *service.SecurityService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	sessionService *service.ExamSessionService,
	securityService *service.SecurityService,
) *SessionHandler {
	return &SessionHandler{
		sessionService:  sessionService,
		securityService: securityService,
	}
}

// JoinExam godoc
// POST /api/v1/student/sessions/join
func (h *SessionHandler) JoinExam(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.JoinExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessionService.Join(c.Request.Context(), actor.ID, req.ExamCode)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": session})
}

// ListSessions godoc
// GET /api/v1/student/sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessions, err := h.sessionService.ListMySessions(c.Request.Context(), actor.ID)
	if err != nil {
		response.FailError(c, err)
		return
	}
	if sessions == nil {
		sessions = []model.ExamSession{}
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": sessions})
}

// GetSession godoc
// GET /api/v1/student/sessions/:session_id
// Returns the session with its questions and remaining time. A timed-out
// session is finished before it is returned.
func (h *SessionHandler) GetSession(c *gin.Context) {
	actor, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	detail, err := h.sessionService.GetSession(c.Request.Context(), sessionID, actor.ID)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// SubmitAnswer godoc
// POST /api/v1/student/sessions/:session_id/answers
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	actor, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answer, err := h.sessionService.SubmitAnswer(c.Request.Context(), sessionID, actor.ID, req.QuestionID, req.Response)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"answer": answer})
}

// FinishSession godoc
// POST /api/v1/student/sessions/:session_id/finish
func (h *SessionHandler) FinishSession(c *gin.Context) {
	actor, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Finish(c.Request.Context(), sessionID, actor.ID)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// ReportViolation godoc
// POST /api/v1/student/sessions/:session_id/violations
func (h *SessionHandler) ReportViolation(c *gin.Context) {
	actor, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.securityService.ReportViolation(c.Request.Context(), sessionID, actor.ID, req.Type, req.Note)
	if err != nil {
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// sessionParams resolves the caller and :session_id, writing the error
// response itself when either is missing.
func sessionParams(c *gin.Context) (model.Actor, uuid.UUID, bool) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return model.Actor{}, uuid.Nil, false
	}
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return model.Actor{}, uuid.Nil, false
	}
	return actor, sessionID, true
}

func examParams(c *gin.Context) (model.Actor, uuid.UUID, bool) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return model.Actor{}, uuid.Nil, false
	}
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return model.Actor{}, uuid.Nil, false
	}
	return actor, examID, true
}
