package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/broadcast"
	"github.com/stemsi/classroom-exam/internal/exam"
	"github.com/stemsi/classroom-exam/internal/logger"
	"github.com/stemsi/classroom-exam/internal/middleware"
	"github.com/stemsi/classroom-exam/internal/remote"
	"github.com/stemsi/classroom-exam/internal/response"
	"github.com/stemsi/classroom-exam/internal/service"
	ws "github.com/stemsi/classroom-exam/internal/websocket"
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

// WSHandler handles the student answer stream.
type WSHandler struct {
	classrooms *service.ClassroomService
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(classrooms *service.ClassroomService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		classrooms: classrooms,
		log:        logger.Component(log, "ws_handler"),
		upgrader:   buildUpgrader(allowedOrigins),
	}
}

// studentStream is one connected student.
type studentStream struct {
	conn        *ws.Conn
	classroomID string
	studentID   string
	remoteToken string
	log         zerolog.Logger
}

// StudentStream godoc
// WS /ws/v1/student/stream?token=
// Upgrades to WebSocket for answering. The paper is pushed on connect and
// again, scored, when the classroom ends.
func (h *WSHandler) StudentStream(c *gin.Context) {
	claims := middleware.GetClaims(c)

	// The student must have joined before the upgrade.
	if _, err := h.classrooms.GetStudentRecord(c.Request.Context(), claims.ClassroomID, claims.UserID); err != nil {
		failFromError(c, h.log, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	s := &studentStream{
		conn:        conn,
		classroomID: claims.ClassroomID,
		studentID:   claims.UserID,
		remoteToken: claims.RemoteToken,
		log: h.log.With().
			Str("student_id", claims.UserID).
			Str("classroom_id", claims.ClassroomID).
			Logger(),
	}
	s.log.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sub, err := h.classrooms.Subscribe(ctx, s.classroomID); err == nil {
		defer sub.Close()
		go h.watchEnd(ctx, s, sub)
	} else {
		s.log.Warn().Err(err).Msg("Live events unavailable, end will not be pushed")
	}

	h.sendState(ctx, s, ws.EventState)

	for {
		var msg ws.RequestPayload
		err := conn.ReadPayload(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(ctx, s, &msg)
		case ws.ActionState:
			h.sendState(ctx, s, ws.EventState)
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			s.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

// handleAnswer records one answer through the engine.
func (h *WSHandler) handleAnswer(ctx context.Context, s *studentStream, msg *ws.RequestPayload) {
	if msg.QuestionID == "" || msg.AnswerIndex == nil {
		s.conn.WriteError(string(response.ErrValidation), "question_id and answer_index are required")
		return
	}

	err := h.classrooms.SubmitAnswer(remote.WithToken(ctx, s.remoteToken), s.classroomID, s.studentID, msg.QuestionID, *msg.AnswerIndex)
	switch {
	case err == nil:
		s.conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, QuestionID: msg.QuestionID, AnswerIndex: *msg.AnswerIndex})
	case errors.Is(err, exam.ErrSessionEnded):
		h.sendState(ctx, s, ws.EventEnded)
	default:
		_, code := errorStatus(err)
		if code == response.ErrInternal {
			s.log.Error().Err(err).Msg("Answer failed")
		}
		s.conn.WriteError(string(code), response.GetMessage(code))
	}
}

// watchEnd pushes the scored paper when the classroom ends.
func (h *WSHandler) watchEnd(ctx context.Context, s *studentStream, sub broadcast.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub.C():
			if !ok {
				return
			}
			var ev broadcast.Event
			if err := json.Unmarshal(raw, &ev); err != nil || ev.Type != broadcast.EventClassroomEnded {
				continue
			}
			h.sendState(ctx, s, ws.EventEnded)
		}
	}
}

func (h *WSHandler) sendState(ctx context.Context, s *studentStream, event ws.Event) {
	paper, err := h.classrooms.GetStudentPaper(ctx, s.classroomID, s.studentID)
	if err != nil {
		_, code := errorStatus(err)
		s.conn.WriteError(string(code), response.GetMessage(code))
		return
	}
	s.conn.WriteTyped(ws.StateResponse{Event: event, Paper: paper})
}
