package handler

import (
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

// StudentHandler handles the student side of classrooms.
type StudentHandler struct {
	classrooms  *service.ClassroomService
	authService *service.AuthService
	log         zerolog.Logger
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(classrooms *service.ClassroomService, authService *service.AuthService, log zerolog.Logger) *StudentHandler {
	return &StudentHandler{
		classrooms:  classrooms,
		authService: authService,
		log:         logger.Component(log, "student_handler"),
	}
}

// JoinClassroom godoc
// POST /api/v1/student/join
// Joins by code and name and returns a student token scoped to the classroom.
// Joining again with the same name returns the same student.
func (h *StudentHandler) JoinClassroom(c *gin.Context) {
	var req model.JoinClassroomRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	ctx := c.Request.Context()

	join, err := h.classrooms.JoinSession(ctx, req.Code, req.Name)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	auth, err := h.authService.JoinAsStudent(ctx, join)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if join.Rejoined {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{
		"token":     auth.Token,
		"student":   auth.User,
		"classroom": join.Classroom,
		"rejoined":  join.Rejoined,
	})
}

// GetPaper godoc
// GET /api/v1/student/paper
// Returns the student's personalized questions with current selections.
func (h *StudentHandler) GetPaper(c *gin.Context) {
	claims := middleware.GetClaims(c)

	paper, err := h.classrooms.GetStudentPaper(c.Request.Context(), claims.ClassroomID, claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"paper": paper})
}

// SubmitAnswer godoc
// POST /api/v1/student/answers
// answer_index is the position in the student's shuffled answer list.
func (h *StudentHandler) SubmitAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.classrooms.SubmitAnswer(c.Request.Context(), claims.ClassroomID, claims.UserID, req.QuestionID, *req.AnswerIndex)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"question_id":  req.QuestionID,
		"answer_index": *req.AnswerIndex,
	})
}
