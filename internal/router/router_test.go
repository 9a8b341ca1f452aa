package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/classroom-exam/internal/broadcast"
	"github.com/stemsi/classroom-exam/internal/config"
	"github.com/stemsi/classroom-exam/internal/exam"
	"github.com/stemsi/classroom-exam/internal/handler"
	"github.com/stemsi/classroom-exam/internal/middleware"
	"github.com/stemsi/classroom-exam/internal/model"
	"github.com/stemsi/classroom-exam/internal/repository"
	"github.com/stemsi/classroom-exam/internal/response"
	"github.com/stemsi/classroom-exam/internal/service"
	"github.com/stemsi/classroom-exam/internal/store"
	"github.com/stemsi/classroom-exam/internal/supplier"
	"github.com/stemsi/classroom-exam/internal/validator"
)

var setupValidator sync.Once

type bankSupplier struct{}

func (bankSupplier) ListCategories(context.Context) ([]model.Category, error) {
	return []model.Category{{ID: "1", Name: "Algebra"}}, nil
}

func (bankSupplier) FetchQuestions(_ context.Context, category string, count int) ([]model.Question, error) {
	qs := []model.Question{
		{ID: "q1", Question: "1+1?", Answers: []string{"1", "2", "3", "4"}, CorrectAnswer: 1, Category: category},
		{ID: "q2", Question: "2+2?", Answers: []string{"4", "5", "6", "7"}, CorrectAnswer: 0, Category: category},
		{ID: "q3", Question: "3+3?", Answers: []string{"5", "6", "7", "8"}, CorrectAnswer: 1, Category: category},
	}
	if count > len(qs) {
		return nil, supplier.ErrNotEnoughQuestions
	}
	return qs[:count], nil
}

type testServer struct {
	engine     *gin.Engine
	classrooms *service.ClassroomService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	setupValidator.Do(validator.Setup)

	cfg := &config.Config{
		GinMode:        gin.TestMode,
		JWTSecret:      "router-test-secret",
		JWTExpiry:      time.Hour,
		BcryptCost:     bcrypt.MinCost,
		MonitorRefresh: time.Second,
	}
	log := zerolog.Nop()

	rnd := exam.NewLockedRand(nil)
	classrooms := service.NewClassroomService(
		store.NewMemoryStore(),
		supplier.NewFallback(bankSupplier{}, rnd, log),
		nil,
		broadcast.NewMemoryBroker(),
		nil,
		log,
		service.WithRand(rnd),
	)
	t.Cleanup(classrooms.Wait)

	auth := service.NewAuthService(cfg, repository.NewMemoryTeacherRepository(), service.NewMemorySessionStore(), nil, log)
	results := service.NewResultService(classrooms, nil, log)

	limiter := middleware.NewRateLimiter(100, time.Minute)
	t.Cleanup(limiter.Stop)

	handlers := &Handlers{
		Auth:      handler.NewAuthHandler(auth, log),
		Classroom: handler.NewClassroomHandler(classrooms, results, log),
		Student:   handler.NewStudentHandler(classrooms, auth, log),
		Monitor:   handler.NewMonitorHandler(classrooms, cfg.MonitorRefresh, log),
		WS:        handler.NewWSHandler(classrooms, log, nil),
	}
	return &testServer{
		engine:     SetupRouter(auth, handlers, limiter, cfg, log),
		classrooms: classrooms,
	}
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (s *testServer) registerTeacher(t *testing.T, email string) string {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"name": "Ms. Rivera", "email": email, "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, status)
	return decode[model.AuthResult](t, env.Data).Token
}

func (s *testServer) createClassroom(t *testing.T, token string, count int) model.Classroom {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/api/v1/classrooms", token, gin.H{
		"category": "Algebra", "duration": 30, "question_count": count,
	})
	require.Equal(t, http.StatusCreated, status)
	return decode[struct {
		Classroom model.Classroom `json:"classroom"`
	}](t, env.Data).Classroom
}

type joinResponse struct {
	Token     string                 `json:"token"`
	Student   model.User             `json:"student"`
	Classroom model.ClassroomSummary `json:"classroom"`
	Rejoined  bool                   `json:"rejoined"`
}

func (s *testServer) join(t *testing.T, code, name string) (int, joinResponse) {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/api/v1/student/join", "", gin.H{"code": code, "name": name})
	if status >= http.StatusBadRequest {
		return status, joinResponse{}
	}
	return status, decode[joinResponse](t, env.Data)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, env := s.do(t, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrNotFound, env.Error.Code)
}

func TestClassroomLifecycle(t *testing.T) {
	s := newTestServer(t)
	teacher := s.registerTeacher(t, "rivera@school.test")
	classroom := s.createClassroom(t, teacher, 3)
	assert.Len(t, classroom.Code, exam.CodeLength)
	assert.True(t, classroom.IsActive)

	// Public lookup ignores case and hides questions.
	status, env := s.do(t, http.MethodGet, "/api/v1/classrooms/code/"+strings.ToLower(classroom.Code), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(env.Data), "correctAnswer")
	assert.NotContains(t, string(env.Data), "questions")

	status, first := s.join(t, classroom.Code, "Ana")
	require.Equal(t, http.StatusCreated, status)
	assert.False(t, first.Rejoined)
	assert.Equal(t, model.RoleStudent, first.Student.Role)

	status, again := s.join(t, " "+strings.ToLower(classroom.Code)+" ", "Ana")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, again.Rejoined)
	assert.Equal(t, first.Student.ID, again.Student.ID)
	student := again.Token

	// The earlier token was replaced by the rejoin.
	status, env = s.do(t, http.MethodGet, "/api/v1/student/paper", first.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.ErrSessionInvalidated, env.Error.Code)

	status, env = s.do(t, http.MethodGet, "/api/v1/student/paper", student, nil)
	require.Equal(t, http.StatusOK, status)
	paper := decode[struct {
		Paper model.StudentPaper `json:"paper"`
	}](t, env.Data).Paper
	require.Len(t, paper.Questions, 3)
	assert.NotContains(t, string(env.Data), "correctAnswer")

	status, _ = s.do(t, http.MethodPost, "/api/v1/student/answers", student, gin.H{
		"question_id": paper.Questions[0].ID, "answer_index": 0,
	})
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodPost, "/api/v1/student/answers", student, gin.H{
		"question_id": paper.Questions[0].ID, "answer_index": 9,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.ErrValidation, env.Error.Code)

	status, env = s.do(t, http.MethodGet, "/api/v1/classrooms/"+classroom.ID+"/progress", teacher, nil)
	require.Equal(t, http.StatusOK, status)
	progress := decode[struct {
		Progress model.Progress `json:"progress"`
	}](t, env.Data).Progress
	require.Len(t, progress.Students, 1)
	assert.Equal(t, 1, progress.Students[0].AnsweredCount)

	// Ending twice succeeds both times.
	for range 2 {
		status, env = s.do(t, http.MethodPost, "/api/v1/classrooms/"+classroom.ID+"/end", teacher, nil)
		require.Equal(t, http.StatusOK, status)
	}
	ended := decode[struct {
		Classroom model.Classroom `json:"classroom"`
	}](t, env.Data).Classroom
	assert.False(t, ended.IsActive)
	require.NotNil(t, ended.StudentAnswers[first.Student.ID].Score)
	assert.Equal(t, 3, *ended.StudentAnswers[first.Student.ID].TotalQuestions)

	status, env = s.do(t, http.MethodPost, "/api/v1/student/answers", student, gin.H{
		"question_id": paper.Questions[1].ID, "answer_index": 0,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, response.ErrClassroomEnded, env.Error.Code)

	status, _ = s.join(t, classroom.Code, "Late")
	assert.Equal(t, http.StatusConflict, status)

	status, env = s.do(t, http.MethodGet, "/api/v1/classrooms/"+classroom.ID+"/results", teacher, nil)
	require.Equal(t, http.StatusOK, status)
	results := decode[struct {
		Results []model.StudentResult `json:"results"`
	}](t, env.Data).Results
	require.Len(t, results, 1)
	assert.Equal(t, "Ana", results[0].StudentName)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/classrooms/"+classroom.ID+"/results.xlsx", nil)
	req.Header.Set("Authorization", "Bearer "+teacher)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "results.xlsx")
	assert.NotEmpty(t, w.Body.Bytes())

	status, env = s.do(t, http.MethodGet, "/api/v1/classrooms", teacher, nil)
	require.Equal(t, http.StatusOK, status)
	list := decode[struct {
		Classrooms []model.ClassroomSummary `json:"classrooms"`
	}](t, env.Data).Classrooms
	require.Len(t, list, 1)
	assert.Equal(t, classroom.ID, list[0].ID)
}

func TestTeacherRoutes_Authorization(t *testing.T) {
	s := newTestServer(t)
	owner := s.registerTeacher(t, "owner@school.test")
	other := s.registerTeacher(t, "other@school.test")
	classroom := s.createClassroom(t, owner, 1)

	status, env := s.do(t, http.MethodGet, "/api/v1/classrooms/"+classroom.ID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.ErrTokenInvalid, env.Error.Code)

	status, env = s.do(t, http.MethodPost, "/api/v1/classrooms/"+classroom.ID+"/end", other, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, response.ErrNotClassroomOwner, env.Error.Code)

	_, joined := s.join(t, classroom.Code, "Ana")
	status, env = s.do(t, http.MethodGet, "/api/v1/classrooms", joined.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, response.ErrTeacherAccessOnly, env.Error.Code)

	status, env = s.do(t, http.MethodGet, "/api/v1/student/paper", owner, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, response.ErrStudentAccessOnly, env.Error.Code)

	status, env = s.do(t, http.MethodGet, "/api/v1/classrooms/missing", owner, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.ErrClassroomNotFound, env.Error.Code)
}

func TestCreateAndJoin_Validation(t *testing.T) {
	s := newTestServer(t)
	teacher := s.registerTeacher(t, "rivera@school.test")

	status, env := s.do(t, http.MethodPost, "/api/v1/classrooms", teacher, gin.H{
		"category": "Algebra", "duration": 0, "question_count": 5,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Error.Fields, "duration")

	status, _ = s.join(t, "AB!", "Ana")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.join(t, "ZZZZZZ", "Ana")
	assert.Equal(t, http.StatusNotFound, status)

	status, env = s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"name": "Dup", "email": "RIVERA@school.test", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, response.ErrEmailTaken, env.Error.Code)
}

func TestAuthRoutes(t *testing.T) {
	s := newTestServer(t)
	s.registerTeacher(t, "rivera@school.test")

	status, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "rivera@school.test", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.ErrInvalidCredentials, env.Error.Code)

	status, env = s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "rivera@school.test", "password": "secret123"})
	require.Equal(t, http.StatusOK, status)
	token := decode[model.AuthResult](t, env.Data).Token

	status, env = s.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	me := decode[struct {
		User model.User `json:"user"`
	}](t, env.Data).User
	assert.Equal(t, "rivera@school.test", me.Email)

	status, _ = s.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.ErrSessionInvalidated, env.Error.Code)
}

func TestCategories(t *testing.T) {
	s := newTestServer(t)
	teacher := s.registerTeacher(t, "rivera@school.test")

	status, env := s.do(t, http.MethodGet, "/api/v1/categories", teacher, nil)
	require.Equal(t, http.StatusOK, status)
	list := decode[model.CategoryList](t, env.Data)
	assert.False(t, list.Fallback)
	require.Len(t, list.Categories, 1)
	assert.Equal(t, "Algebra", list.Categories[0].Name)
}

func TestStudentStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	t.Cleanup(srv.Close)

	teacher := s.registerTeacher(t, "rivera@school.test")
	classroom := s.createClassroom(t, teacher, 2)
	_, joined := s.join(t, classroom.Code, "Ana")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/student/stream?token=" + joined.Token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	type message struct {
		Event       string              `json:"event"`
		Code        string              `json:"code"`
		QuestionID  string              `json:"question_id"`
		AnswerIndex int                 `json:"answer_index"`
		Paper       *model.StudentPaper `json:"paper"`
	}
	read := func() message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var m message
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	state := read()
	require.Equal(t, "state", state.Event)
	require.NotNil(t, state.Paper)
	require.Len(t, state.Paper.Questions, 2)
	qid := state.Paper.Questions[0].ID

	require.NoError(t, conn.WriteJSON(gin.H{"action": "answer", "question_id": qid, "answer_index": 1}))
	saved := read()
	assert.Equal(t, "saved", saved.Event)
	assert.Equal(t, qid, saved.QuestionID)
	assert.Equal(t, 1, saved.AnswerIndex)

	require.NoError(t, conn.WriteJSON(gin.H{"action": "answer", "question_id": "missing", "answer_index": 0}))
	failed := read()
	assert.Equal(t, "error", failed.Event)
	assert.Equal(t, string(response.ErrValidation), failed.Code)

	require.NoError(t, conn.WriteJSON(gin.H{"action": "ping"}))
	assert.Equal(t, "pong", read().Event)

	status, _ := s.do(t, http.MethodPost, "/api/v1/classrooms/"+classroom.ID+"/end", teacher, nil)
	require.Equal(t, http.StatusOK, status)

	ended := read()
	require.Equal(t, "ended", ended.Event)
	require.NotNil(t, ended.Paper)
	assert.False(t, ended.Paper.IsActive)
	require.NotNil(t, ended.Paper.TotalQuestions)
	assert.Equal(t, 2, *ended.Paper.TotalQuestions)
}

func TestStudentStream_RequiresStudentToken(t *testing.T) {
	s := newTestServer(t)
	teacher := s.registerTeacher(t, "rivera@school.test")

	status, env := s.do(t, http.MethodGet, "/ws/v1/student/stream", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.ErrTokenRequired, env.Error.Code)

	status, env = s.do(t, http.MethodGet, "/ws/v1/student/stream?token="+teacher, "", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, response.ErrStudentAccessOnly, env.Error.Code)
}
