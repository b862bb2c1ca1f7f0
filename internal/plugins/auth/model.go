// Package auth handles user authentication for VibeTube: password hashing,
// stateless HS256 session tokens carried in the "token" cookie, the
// per-request auth pipeline (CSRF check, then identity resolution), and the
// register/login/logout/me endpoints.
package auth

import (
	"time"
)

// Identity is the authenticated user as carried inside a session token.
// It is fixed at issuance; the users table stays the source of truth.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// User is a row of the users table.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose in JSON responses.
	Avatar       *string   `json:"avatar,omitempty"`
	Banner       *string   `json:"banner,omitempty"`
	Description  *string   `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity returns the token-facing subset of the user.
func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Username: u.Username, Email: u.Email}
}

// Profile returns the user without credential material.
func (u *User) Profile() *Profile {
	return &Profile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Avatar:      u.Avatar,
		Banner:      u.Banner,
		Description: u.Description,
		CreatedAt:   u.CreatedAt,
	}
}

// Profile is what GET /api/auth/me returns and what the profile cache stores.
type Profile struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Avatar      *string   `json:"avatar,omitempty"`
	Banner      *string   `json:"banner,omitempty"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// --- Request DTOs (bound from HTTP requests) ---

// RegisterRequest is the JSON body of POST /api/auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// --- Service Input DTOs ---

// RegisterInput is the raw registration data; the service sanitizes it.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginInput carries login credentials.
type LoginInput struct {
	Email    string
	Password string
}

// --- Responses ---

// registeredUser is the user object in the registration response.
type registeredUser struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Avatar   *string `json:"avatar,omitempty"`
}

type registerResponse struct {
	User  registeredUser `json:"user"`
	Token string         `json:"token"`
}

type loginResponse struct {
	User  Identity `json:"user"`
	Token string   `json:"token"`
}

type profileResponse struct {
	User *Profile `json:"user"`
}
