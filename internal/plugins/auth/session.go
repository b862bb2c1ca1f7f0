package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vibetube/vibetube/internal/middleware"
)

// TokenCookieName is the HttpOnly cookie carrying the session token.
const TokenCookieName = "token"

// ErrNoSession means the request carries no session token at all. The
// request is anonymous, which is not a failure by itself.
var ErrNoSession = errors.New("no session token")

// SessionAuthenticator resolves the identity behind a request's token cookie.
// It only reads; tokens are never refreshed or re-issued here.
type SessionAuthenticator struct {
	codec *TokenCodec
}

// NewSessionAuthenticator creates an authenticator backed by codec.
func NewSessionAuthenticator(codec *TokenCodec) *SessionAuthenticator {
	return &SessionAuthenticator{codec: codec}
}

// Resolve returns the identity for req. It returns ErrNoSession when the
// token cookie is absent or empty, otherwise whatever TokenCodec.Parse
// reports.
func (s *SessionAuthenticator) Resolve(req *http.Request) (Identity, error) {
	cookie, err := req.Cookie(TokenCookieName)
	if err != nil || cookie.Value == "" {
		return Identity{}, ErrNoSession
	}
	return s.codec.Parse(cookie.Value)
}

// setTokenCookie stores a freshly issued session token on the response.
func setTokenCookie(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:     TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   middleware.IsSecure(c.Request()),
		SameSite: http.SameSiteLaxMode,
	})
}

// clearTokenCookie expires the session cookie (Max-Age=0 on the wire).
func clearTokenCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   middleware.IsSecure(c.Request()),
		SameSite: http.SameSiteLaxMode,
	})
}
