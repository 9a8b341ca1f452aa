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

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
	log         zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         logger.Component(log, "auth_handler"),
	}
}

// Register godoc
// POST /api/v1/auth/register
// Creates a teacher account and returns a JWT.
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.authService.Register(c.Request.Context(), req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, res)
}

// Login godoc
// POST /api/v1/auth/login
// Validates email + password, returns JWT. A new login replaces the old session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// Profile godoc
// GET /api/v1/auth/me
// Returns the user of the current token.
func (h *AuthHandler) Profile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	user, err := h.authService.Profile(c.Request.Context(), claims)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": user})
}

// Logout godoc
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.Logout(c.Request.Context(), claims); err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}
