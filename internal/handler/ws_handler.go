package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/middleware"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/monitor"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
	ws "github.com/stemsi/exstem-session-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the student's live session stream.
type WSHandler struct {
	sessionService  *service.ExamSessionService
	securityService *service.SecurityService
	subscriber      monitor.Subscriber
	log             zerolog.Logger
	upgrader        websocket.Upgrader
	limiter         *middleware.RateLimiter
}

// NewWSHandler creates a new WSHandler. subscriber may be nil, in which case
// teacher-side changes are not pushed to the student.
func NewWSHandler(
	sessionService *service.ExamSessionService,
	securityService *service.SecurityService,
	subscriber monitor.Subscriber,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		sessionService:  sessionService,
		securityService: securityService,
		subscriber:      subscriber,
		log:             log.With().Str("component", "ws_handler").Logger(),
		upgrader:        buildUpgrader(allowedOrigins),
	}
}

// LimitActions makes answer, finish and violation messages draw from the
// caller's REST rate limit bucket. Pings are not counted.
func (h *WSHandler) LimitActions(rl *middleware.RateLimiter) {
	h.limiter = rl
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
// Accepts answer, finish, violation and ping actions, and pushes state
// changes made by teachers or the scheduler to the student.
func (h *WSHandler) SessionStream(c *gin.Context) {
	actor, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	// Ownership and existence are checked before the upgrade so the client
	// gets a normal HTTP error.
	detail, err := h.sessionService.GetSession(c.Request.Context(), sessionID, actor.ID)
	if err != nil {
		response.FailError(c, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	wsLog := h.log.With().
		Int("student_id", actor.ID).
		Str("session_id", sessionID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	_ = conn.WriteEvent(ws.EventSession, detail)

	if h.subscriber != nil {
		events, unsubscribe, err := h.subscriber.Subscribe(ctx, detail.Session.ExamID)
		if err != nil {
			wsLog.Warn().Err(err).Msg("Session push unavailable")
		} else {
			defer unsubscribe()
			go pushSessionEvents(ctx, conn, events, sessionID)
		}
	}

	for {
		var msg ws.RequestPayload
		if err := conn.ReadPayload(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if msg.Action != ws.ActionPing && !h.allow(actor) {
			_ = conn.WriteError(string(response.ErrRateLimitExceeded), "too many requests")
			continue
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(ctx, conn, actor.ID, sessionID, &msg)
		case ws.ActionFinish:
			h.handleFinish(ctx, conn, actor.ID, sessionID)
		case ws.ActionViolation:
			h.handleViolation(ctx, conn, actor.ID, sessionID, &msg)
		case ws.ActionPing:
			_ = conn.WriteEvent(ws.EventPong, nil)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) allow(actor model.Actor) bool {
	return h.limiter == nil || h.limiter.Allow(middleware.ActorKey(actor))
}

func (h *WSHandler) handleAnswer(ctx context.Context, conn *ws.Conn, studentID int, sessionID uuid.UUID, msg *ws.RequestPayload) {
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		_ = conn.WriteError(string(response.ErrInvalidID), "invalid question_id")
		return
	}
	if len(msg.Response) == 0 {
		_ = conn.WriteError(string(response.ErrValidation), "response is required")
		return
	}

	answer, err := h.sessionService.SubmitAnswer(ctx, sessionID, studentID, questionID, msg.Response)
	if err != nil {
		writeServiceError(conn, err)
		if errors.Is(err, service.ErrTimeExpired) {
			h.sendSession(ctx, conn, studentID, sessionID)
		}
		return
	}
	_ = conn.WriteEvent(ws.EventSaved, answer)
}

func (h *WSHandler) handleFinish(ctx context.Context, conn *ws.Conn, studentID int, sessionID uuid.UUID) {
	session, err := h.sessionService.Finish(ctx, sessionID, studentID)
	if err != nil {
		writeServiceError(conn, err)
		return
	}
	_ = conn.WriteEvent(ws.EventFinished, session)
}

func (h *WSHandler) handleViolation(ctx context.Context, conn *ws.Conn, studentID int, sessionID uuid.UUID, msg *ws.RequestPayload) {
	if msg.Type == "" {
		_ = conn.WriteError(string(response.ErrValidation), "type is required")
		return
	}
	session, err := h.securityService.ReportViolation(ctx, sessionID, studentID, msg.Type, msg.Note)
	if err != nil {
		writeServiceError(conn, err)
		return
	}
	_ = conn.WriteEvent(ws.EventViolation, session)
}

func (h *WSHandler) sendSession(ctx context.Context, conn *ws.Conn, studentID int, sessionID uuid.UUID) {
	detail, err := h.sessionService.GetSession(ctx, sessionID, studentID)
	if err != nil {
		return
	}
	_ = conn.WriteEvent(ws.EventSession, detail)
}

// pushSessionEvents forwards teacher and scheduler changes to this session,
// plus exam-wide events. The student's own answer saves are not echoed.
func pushSessionEvents(ctx context.Context, conn *ws.Conn, events <-chan model.Event, sessionID uuid.UUID) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == model.EventAnswerSaved {
				continue
			}
			if ev.SessionID != nil && *ev.SessionID != sessionID {
				continue
			}
			if err := conn.WriteEvent(ws.EventState, ev); err != nil {
				return
			}
		}
	}
}

func writeServiceError(conn *ws.Conn, err error) {
	status, code := response.FromError(err)
	msg := response.GetMessage(code)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	_ = conn.WriteError(string(code), msg)
}
