package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/config"
	"github.com/stemsi/classroom-exam/internal/handler"
	"github.com/stemsi/classroom-exam/internal/middleware"
	"github.com/stemsi/classroom-exam/internal/response"
	"github.com/stemsi/classroom-exam/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth      *handler.AuthHandler
	Classroom *handler.ClassroomHandler
	Student   *handler.StudentHandler
	Monitor   *handler.MonitorHandler
	WS        *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// joinLimiter is owned by the caller, which stops it on shutdown.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	joinLimiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

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
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so the access log can carry it.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Brotli())

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	// ─── 1. Auth Group (Public) ────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/register", handlers.Auth.Register)
		auth.POST("/login", handlers.Auth.Login)

		auth.GET("/me", middleware.RequireJWT(authService), middleware.CheckSingleDeviceSession(authService), handlers.Auth.Profile)
		auth.POST("/logout", middleware.RequireJWT(authService), handlers.Auth.Logout)
	}

	// ─── 2. Public classroom lookup ────────────────────────────────────
	router.GET("/api/v1/classrooms/code/:code", handlers.Classroom.GetByCode)

	// ─── 3. Teacher Group (JWT + Single Device) ─────────────────────────
	teacherAPI := router.Group("/api/v1")
	teacherAPI.Use(
		middleware.RequireTeacherJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		teacherAPI.GET("/categories", middleware.PrivateMaxAge(60), handlers.Classroom.ListCategories)

		teacherAPI.POST("/classrooms", handlers.Classroom.CreateClassroom)
		teacherAPI.GET("/classrooms", handlers.Classroom.ListClassrooms)
		teacherAPI.GET("/classrooms/:id", handlers.Classroom.GetClassroom)
		teacherAPI.POST("/classrooms/:id/end", handlers.Classroom.EndClassroom)
		teacherAPI.GET("/classrooms/:id/progress", handlers.Classroom.GetProgress)
		teacherAPI.GET("/classrooms/:id/monitor", handlers.Monitor.MonitorClassroomSSE)
		teacherAPI.GET("/classrooms/:id/results", handlers.Classroom.GetResults)
		teacherAPI.GET("/classrooms/:id/results.xlsx", handlers.Classroom.ExportResults)
	}

	// ─── 4. Student Group ──────────────────────────────────────────────
	// Joining is public and rate limited per IP; it mints the student token.
	router.POST("/api/v1/student/join", joinLimiter.Middleware(), handlers.Student.JoinClassroom)

	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		studentAPI.GET("/paper", handlers.Student.GetPaper)
		studentAPI.POST("/answers", handlers.Student.SubmitAnswer)
	}

	// ─── 5. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentWSAuth(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/student/stream", handlers.WS.StudentStream)
	}

	return router
}
