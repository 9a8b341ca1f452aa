package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/logger"
	"github.com/stemsi/classroom-exam/internal/middleware"
	"github.com/stemsi/classroom-exam/internal/model"
	"github.com/stemsi/classroom-exam/internal/response"
	"github.com/stemsi/classroom-exam/internal/service"
	"github.com/stemsi/classroom-exam/internal/validator"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ClassroomHandler handles the teacher side of classrooms.
type ClassroomHandler struct {
	classrooms *service.ClassroomService
	results    *service.ResultService
	log        zerolog.Logger
}

// NewClassroomHandler creates a new ClassroomHandler.
func NewClassroomHandler(classrooms *service.ClassroomService, results *service.ResultService, log zerolog.Logger) *ClassroomHandler {
	return &ClassroomHandler{
		classrooms: classrooms,
		results:    results,
		log:        logger.Component(log, "classroom_handler"),
	}
}

// ListCategories godoc
// GET /api/v1/categories
// Never fails: the defaults are returned with fallback=true when the
// question backend is unreachable.
func (h *ClassroomHandler) ListCategories(c *gin.Context) {
	response.Success(c, http.StatusOK, h.classrooms.ListCategories(c.Request.Context()))
}

// CreateClassroom godoc
// POST /api/v1/classrooms
func (h *ClassroomHandler) CreateClassroom(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.CreateClassroomRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	classroom, err := h.classrooms.CreateSession(c.Request.Context(), claims.UserID, claims.Name, req.Category, req.Duration, req.QuestionCount)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"classroom": classroom})
}

// ListClassrooms godoc
// GET /api/v1/classrooms
// Lists the teacher's classrooms, newest first.
func (h *ClassroomHandler) ListClassrooms(c *gin.Context) {
	claims := middleware.GetClaims(c)

	list, err := h.classrooms.ListTeacherSessions(c.Request.Context(), claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"classrooms": list})
}

// GetClassroom godoc
// GET /api/v1/classrooms/:id
// Full classroom including every student's record.
func (h *ClassroomHandler) GetClassroom(c *gin.Context) {
	claims := middleware.GetClaims(c)

	classroom, err := h.classrooms.GetOwnedSession(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"classroom": classroom})
}

// EndClassroom godoc
// POST /api/v1/classrooms/:id/end
// Ends the classroom now and scores every student. Idempotent.
func (h *ClassroomHandler) EndClassroom(c *gin.Context) {
	claims := middleware.GetClaims(c)
	ctx := c.Request.Context()

	if _, err := h.classrooms.GetOwnedSession(ctx, c.Param("id"), claims.UserID); err != nil {
		failFromError(c, h.log, err)
		return
	}

	classroom, err := h.classrooms.EndSession(ctx, c.Param("id"))
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"classroom": classroom})
}

// GetProgress godoc
// GET /api/v1/classrooms/:id/progress
func (h *ClassroomHandler) GetProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)

	classroom, err := h.classrooms.GetOwnedSession(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"progress": service.Progress(classroom)})
}

// GetResults godoc
// GET /api/v1/classrooms/:id/results
func (h *ClassroomHandler) GetResults(c *gin.Context) {
	claims := middleware.GetClaims(c)

	results, err := h.results.ClassroomResults(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// ExportResults godoc
// GET /api/v1/classrooms/:id/results.xlsx
func (h *ClassroomHandler) ExportResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id := c.Param("id")

	data, err := h.results.ExportResults(c.Request.Context(), id, claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Attachment(c, fmt.Sprintf("classroom-%s-results.xlsx", id), xlsxContentType, data)
}

// GetByCode godoc
// GET /api/v1/classrooms/code/:code
// Public lookup of an active classroom. Questions and answers are not exposed.
func (h *ClassroomHandler) GetByCode(c *gin.Context) {
	classroom, err := h.classrooms.GetSessionByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"classroom": classroom.Summary()})
}
