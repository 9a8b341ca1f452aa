package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/config"
	"github.com/stemsi/classroom-exam/internal/exam"
	"github.com/stemsi/classroom-exam/internal/logger"
	"github.com/stemsi/classroom-exam/internal/model"
	"github.com/stemsi/classroom-exam/internal/remote"
	"github.com/stemsi/classroom-exam/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrSessionInvalidated = errors.New("session invalidated")
)

// TokenType distinguishes teacher vs student tokens.
type TokenType string

const (
	TokenTypeTeacher TokenType = "teacher"
	TokenTypeStudent TokenType = "student"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	ClassroomID string    `json:"classroom_id,omitempty"` // Student only
	// RemoteToken is the token issued by the remote auth backend, forwarded
	// on calls to the remote collaborators.
	RemoteToken string `json:"remote_token,omitempty"`
}

// User returns the identity carried by the token.
func (c *Claims) User() model.User {
	return model.User{ID: c.UserID, Name: c.Name, Email: c.Email, Role: model.Role(c.TokenType)}
}

// TeacherAccounts is the local account store.
type TeacherAccounts interface {
	Create(ctx context.Context, t *model.Teacher) error
	GetByEmail(ctx context.Context, email string) (*model.Teacher, error)
	GetByID(ctx context.Context, id string) (*model.Teacher, error)
}

// AuthService handles accounts, JWT, and session management. When a remote
// auth backend is configured it is asked first; local accounts serve when it
// is unreachable.
type AuthService struct {
	cfg      *config.Config
	teachers TeacherAccounts
	sessions SessionStore
	remote   *remote.Client
	log      zerolog.Logger
}

// NewAuthService creates a new AuthService. rc may be nil.
func NewAuthService(cfg *config.Config, teachers TeacherAccounts, sessions SessionStore, rc *remote.Client, log zerolog.Logger) *AuthService {
	return &AuthService{
		cfg:      cfg,
		teachers: teachers,
		sessions: sessions,
		remote:   rc,
		log:      logger.Component(log, "auth_service"),
	}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Register creates a teacher account and logs it in.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (*model.AuthResult, error) {
	if s.remote.Enabled() {
		var res model.AuthResult
		err := s.remote.Do(ctx, http.MethodPost, "/api/auth/register", req, &res)
		if err == nil {
			return s.issueRemote(ctx, res)
		}
		// 5xx carries a *StatusError too, so unavailability is checked first.
		if !errors.Is(err, exam.ErrCollaboratorUnavailable) {
			var serr *remote.StatusError
			if !errors.As(err, &serr) {
				return nil, err
			}
			if serr.Status == http.StatusConflict {
				return nil, ErrUserExists
			}
			return nil, fmt.Errorf("remote register rejected: %w", exam.ErrInvalidInput)
		}
		s.log.Warn().Err(err).Msg("Remote auth unavailable, registering locally")
	}

	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	t := &model.Teacher{
		Name:         strings.TrimSpace(req.Name),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RoleTeacher,
	}
	if err := s.teachers.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create teacher: %w", err)
	}

	s.log.Info().Str("user_id", t.ID).Msg("Teacher registered")
	return s.issue(ctx, t.User(), "", "")
}

// Login authenticates by email and password. role is the role the client
// asked for; a local account always keeps its stored role.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.AuthResult, error) {
	if s.remote.Enabled() {
		var res model.AuthResult
		err := s.remote.Do(ctx, http.MethodPost, "/api/auth/login", req, &res)
		if err == nil {
			return s.issueRemote(ctx, res)
		}
		if !errors.Is(err, exam.ErrCollaboratorUnavailable) {
			var serr *remote.StatusError
			if errors.As(err, &serr) {
				return nil, ErrInvalidCredentials
			}
			return nil, err
		}
		s.log.Warn().Err(err).Msg("Remote auth unavailable, using local accounts")
	}

	t, err := s.teachers.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrTeacherNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get teacher: %w", err)
	}
	if err := s.CheckPassword(t.PasswordHash, req.Password); err != nil {
		return nil, err
	}
	if req.Role != "" && req.Role != t.Role {
		s.log.Warn().
			Str("user_id", t.ID).
			Str("requested_role", string(req.Role)).
			Str("stored_role", string(t.Role)).
			Msg("Login role mismatch, using stored role")
	}

	return s.issue(ctx, t.User(), "", "")
}

// JoinAsStudent issues a student token scoped to the joined classroom.
func (s *AuthService) JoinAsStudent(ctx context.Context, join *JoinResult) (*model.AuthResult, error) {
	user := model.User{ID: join.StudentID, Name: join.StudentName, Role: model.RoleStudent}
	return s.issue(ctx, user, join.Classroom.ID, remote.TokenFrom(ctx))
}

// Profile returns the user of a validated token whose session is still live.
// A token whose session was replaced or removed clears the session.
func (s *AuthService) Profile(ctx context.Context, claims *Claims) (model.User, error) {
	if err := s.ValidateSession(ctx, claims); err != nil {
		if errors.Is(err, ErrSessionInvalidated) {
			_ = s.sessions.Delete(ctx, claims.UserID)
		}
		return model.User{}, err
	}
	return claims.User(), nil
}

// Logout removes the user's session so the token stops working.
func (s *AuthService) Logout(ctx context.Context, claims *Claims) error {
	return s.sessions.Delete(ctx, claims.UserID)
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// ValidateSession checks that the token's JTI matches the user's active session.
func (s *AuthService) ValidateSession(ctx context.Context, claims *Claims) error {
	stored, err := s.sessions.Get(ctx, claims.UserID)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if stored == "" || stored != claims.ID {
		return ErrSessionInvalidated
	}
	return nil
}

func (s *AuthService) issueRemote(ctx context.Context, res model.AuthResult) (*model.AuthResult, error) {
	if res.User.ID == "" {
		return nil, fmt.Errorf("remote auth returned no user: %w", exam.ErrCollaboratorUnavailable)
	}
	if res.User.Role == "" {
		res.User.Role = model.RoleTeacher
	}
	return s.issue(ctx, res.User, "", res.Token)
}

// issue signs a token for user and makes it the user's only live session.
func (s *AuthService) issue(ctx context.Context, user model.User, classroomID, remoteToken string) (*model.AuthResult, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType:   TokenType(user.Role),
		UserID:      user.ID,
		Name:        user.Name,
		Email:       user.Email,
		ClassroomID: classroomID,
		RemoteToken: remoteToken,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	if err := s.sessions.Set(ctx, user.ID, jti, s.cfg.JWTExpiry); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	return &model.AuthResult{User: user, Token: signed}, nil
}
