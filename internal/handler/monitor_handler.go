package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/logger"
	"github.com/stemsi/classroom-exam/internal/middleware"
	"github.com/stemsi/classroom-exam/internal/service"
)

const (
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow reads from blocking the SSE loop
)

type MonitorHandler struct {
	classrooms      *service.ClassroomService
	refreshInterval time.Duration
	log             zerolog.Logger
}

func NewMonitorHandler(classrooms *service.ClassroomService, refreshInterval time.Duration, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		classrooms:      classrooms,
		refreshInterval: refreshInterval,
		log:             logger.Component(log, "monitor_handler"),
	}
}

// MonitorClassroomSSE godoc
// GET /api/v1/classrooms/:id/monitor
// Streams a progress snapshot, then every classroom event, a periodic
// progress refresh and keep-alive pings.
func (h *MonitorHandler) MonitorClassroomSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	reqCtx := c.Request.Context()

	classroom, err := h.classrooms.GetOwnedSession(reqCtx, c.Param("id"), claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	// Subscribe before the snapshot so no event falls between the two.
	sub, err := h.classrooms.Subscribe(reqCtx, classroom.ID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	defer sub.Close()

	snapshot, err := h.classrooms.GetProgress(reqCtx, classroom.ID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	c.SSEvent("message", gin.H{"type": "snapshot", "data": snapshot})
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(h.refreshInterval)
	defer refreshTicker.Stop()

	log := h.log.With().Str("classroom_id", classroom.ID).Logger()
	log.Info().Msg("Teacher attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Teacher disconnected from live monitor SSE")
			return

		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(msg)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendRefresh(c, reqCtx, log, classroom.ID)

		case <-keepAliveTicker.C:
			c.SSEvent("message", gin.H{"type": "ping"})
			c.Writer.Flush()
		}
	}
}

// sendRefresh reads the current progress and sends a refresh event.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, log zerolog.Logger, classroomID string) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.classrooms.GetProgress(ctx, classroomID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch progress for refresh")
		return
	}

	c.SSEvent("message", gin.H{"type": "refresh", "data": progress})
	c.Writer.Flush()
}
