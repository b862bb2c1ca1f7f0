package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vibetube/vibetube/internal/apperror"
)

// Handler handles the JSON auth endpoints. Handlers are thin: they bind the
// request, call the service, set cookies and write the response. No business
// logic lives here.
type Handler struct {
	service AuthService
}

// NewHandler creates a new auth handler with the given service.
func NewHandler(service AuthService) *Handler {
	return &Handler{service: service}
}

// Register creates an account and signs the new user in
// (POST /api/auth/register).
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("Invalid request body")
	}

	user, token, err := h.service.Register(c.Request().Context(), RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	setTokenCookie(c, token)
	return c.JSON(http.StatusCreated, registerResponse{
		User: registeredUser{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Avatar:   user.Avatar,
		},
		Token: token,
	})
}

// Login checks credentials and sets the session cookie (POST /api/auth/login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("Invalid request body")
	}

	user, token, err := h.service.Login(c.Request().Context(), LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	setTokenCookie(c, token)
	return c.JSON(http.StatusOK, loginResponse{
		User:  user.Identity(),
		Token: token,
	})
}

// Logout clears the session cookie (POST /api/auth/logout). It succeeds for
// anonymous callers too; there is nothing to revoke server-side.
func (h *Handler) Logout(c echo.Context) error {
	if identity := GetIdentity(c); identity != nil {
		h.service.Logout(c.Request().Context(), identity.ID)
	}

	clearTokenCookie(c)
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// Me returns the caller's profile (GET /api/auth/me). RequireAuth guarantees
// an identity.
func (h *Handler) Me(c echo.Context) error {
	identity := GetIdentity(c)
	if identity == nil {
		return apperror.NewUnauthorized("Unauthorized")
	}

	profile, err := h.service.Profile(c.Request().Context(), identity.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, profileResponse{User: profile})
}
