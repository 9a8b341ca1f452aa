package model

import "time"

// Role separates teachers from students.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// User is the identity returned to clients.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Teacher is a registered teacher account.
type Teacher struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// User projects the account to its public identity.
func (t *Teacher) User() User {
	return User{ID: t.ID, Name: t.Name, Email: t.Email, Role: t.Role}
}

// AuthResult is returned by login and register.
type AuthResult struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// LoginRequest is the payload for teacher login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=1"`
	Role     Role   `json:"role" binding:"omitempty,oneof=teacher student"`
}

// RegisterRequest is the payload for teacher registration.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}
