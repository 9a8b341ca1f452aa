package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/classroom-exam/internal/remote"
	"github.com/stemsi/classroom-exam/internal/response"
	"github.com/stemsi/classroom-exam/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// RequireJWT validates a JWT of any type from the Authorization header.
func RequireJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireTokenType(authService, "")
}

// RequireTeacherJWT validates a teacher JWT from the Authorization header.
func RequireTeacherJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireTokenType(authService, service.TokenTypeTeacher)
}

// RequireStudentJWT validates a student JWT from the Authorization header.
func RequireStudentJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireTokenType(authService, service.TokenTypeStudent)
}

func requireTokenType(authService *service.AuthService, want service.TokenType) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := extractAndValidateClaims(c, authService)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if want != "" && claims.TokenType != want {
			code := response.ErrTeacherAccessOnly
			if want == service.TokenTypeStudent {
				code = response.ErrStudentAccessOnly
			}
			response.AbortFail(c, http.StatusForbidden, code)
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// RequireStudentWSAuth validates a student JWT from the query param ?token=...
// Used for WebSocket upgrade requests.
func RequireStudentWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if claims.TokenType != service.TokenTypeStudent {
			response.AbortFail(c, http.StatusForbidden, response.ErrStudentAccessOnly)
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

// setClaims stores the claims and forwards the remote token, if any, on the
// request context.
func setClaims(c *gin.Context, claims *service.Claims) {
	c.Set(ContextKeyClaims, claims)
	if claims.RemoteToken != "" {
		c.Request = c.Request.WithContext(remote.WithToken(c.Request.Context(), claims.RemoteToken))
	}
}

func extractAndValidateClaims(c *gin.Context, authService *service.AuthService) (*service.Claims, error) {
	tokenStr := ""

	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			tokenStr = parts[1]
		}
	}

	// Fallback for EventSource (SSE) which cannot send headers
	if tokenStr == "" {
		tokenStr = c.Query("token")
	}

	if tokenStr == "" {
		return nil, fmt.Errorf("authorization header or token query required")
	}

	return authService.ValidateToken(tokenStr)
}
