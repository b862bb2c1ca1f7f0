package middleware

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	// CSRFCookieName holds the per-browser secret. Client script reads it
	// and echoes it back, so it is deliberately not HttpOnly.
	CSRFCookieName = "csrf_token"

	// CSRFHeaderName is the preferred channel for echoing the secret.
	CSRFHeaderName = "X-CSRF-Token"

	// CSRFBodyField is the JSON body field accepted when the header is absent.
	CSRFBodyField = "csrf_token"

	// csrfSecretBytes is the number of random bytes in a secret (64 hex chars).
	csrfSecretBytes = 32

	// csrfCookieMaxAge is seven days in seconds.
	csrfCookieMaxAge = 7 * 24 * 60 * 60

	// maxPeekBytes bounds how much of a JSON body is buffered to look for
	// the csrf_token field.
	maxPeekBytes = 1 << 20

	contextKeyCSRF = "csrf_token"
)

// Validation failures. The messages are returned to clients verbatim.
var (
	ErrCSRFRequired = errors.New("CSRF token is required")
	ErrCSRFInvalid  = errors.New("Invalid CSRF token")
)

// CSRFGuard implements the double-submit cookie pattern: a random secret
// lives in the csrf_token cookie and every state-changing request must echo
// it back through the X-CSRF-Token header or a csrf_token JSON body field.
type CSRFGuard struct {
	skipPaths []string
	random    io.Reader
}

// NewCSRFGuard returns a guard that exempts requests to skipPaths or below
// them (bootstrap endpoints where no secret can exist yet).
func NewCSRFGuard(skipPaths ...string) *CSRFGuard {
	return &CSRFGuard{
		skipPaths: skipPaths,
		random:    rand.Reader,
	}
}

// EnsureSecret returns the request's CSRF secret. When the request carries
// none, a new secret is generated and scheduled as a Set-Cookie on the
// response. The new value is only exposed through the context for the
// response; it is never treated as present on the current request.
func (g *CSRFGuard) EnsureSecret(c echo.Context) (string, error) {
	req := c.Request()
	if cookie, err := req.Cookie(CSRFCookieName); err == nil && cookie.Value != "" {
		c.Set(contextKeyCSRF, cookie.Value)
		return cookie.Value, nil
	}

	secret, err := g.generateSecret()
	if err != nil {
		return "", fmt.Errorf("generating CSRF secret: %w", err)
	}

	c.SetCookie(&http.Cookie{
		Name:     CSRFCookieName,
		Value:    secret,
		Path:     "/",
		MaxAge:   csrfCookieMaxAge,
		HttpOnly: false,
		Secure:   IsSecure(req),
		SameSite: http.SameSiteLaxMode,
	})
	c.Set(contextKeyCSRF, secret)

	return secret, nil
}

// ExtractCandidate returns the client-echoed secret: the X-CSRF-Token header
// if set, otherwise the csrf_token field of a JSON body. The body is restored
// after peeking so handlers can still bind it. Any read or decode failure
// yields "" (no candidate).
func (g *CSRFGuard) ExtractCandidate(req *http.Request) string {
	if token := req.Header.Get(CSRFHeaderName); token != "" {
		return token
	}
	if !strings.Contains(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return ""
	}
	return peekBodyField(req)
}

// Validate checks a request against the double-submit rule. Safe methods and
// skipped paths always pass.
func (g *CSRFGuard) Validate(req *http.Request) error {
	if !IsMutatingMethod(req.Method) || g.skipped(req.URL.Path) {
		return nil
	}

	candidate := g.ExtractCandidate(req)
	if candidate == "" {
		return ErrCSRFRequired
	}

	cookie, err := req.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return ErrCSRFInvalid
	}

	// The secret length is public; only the content comparison must be constant-time.
	if len(candidate) != len(cookie.Value) {
		return ErrCSRFInvalid
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(cookie.Value)) != 1 {
		return ErrCSRFInvalid
	}

	return nil
}

// skipped matches a skip path exactly or as a parent segment, so
// /api/auth/login covers /api/auth/login/ but not /api/auth/login-history.
func (g *CSRFGuard) skipped(path string) bool {
	for _, skip := range g.skipPaths {
		if path == skip || strings.HasPrefix(path, strings.TrimSuffix(skip, "/")+"/") {
			return true
		}
	}
	return false
}

func (g *CSRFGuard) generateSecret() (string, error) {
	b := make([]byte, csrfSecretBytes)
	if _, err := io.ReadFull(g.random, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// peekBodyField reads the body up to maxPeekBytes, puts it back on the
// request and returns the csrf_token string field if the JSON decodes.
func peekBodyField(req *http.Request) string {
	if req.Body == nil || req.Body == http.NoBody {
		return ""
	}

	original := req.Body
	buf, err := io.ReadAll(io.LimitReader(original, maxPeekBytes+1))
	req.Body = restoredBody{
		Reader: io.MultiReader(bytes.NewReader(buf), original),
		Closer: original,
	}
	if err != nil {
		// Aborted or broken upload: fail closed.
		slog.Debug("csrf body peek failed", slog.Any("error", err))
		return ""
	}
	if len(buf) > maxPeekBytes {
		return ""
	}

	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.Unmarshal(buf, &body); err != nil {
		return ""
	}
	return body.CSRFToken
}

// restoredBody replays the peeked bytes, then the unread remainder, while
// still closing the original body.
type restoredBody struct {
	io.Reader
	io.Closer
}

// GetCSRFToken returns the CSRF secret stored in the echo context by
// EnsureSecret, or "" if the guard has not run.
func GetCSRFToken(c echo.Context) string {
	if token, ok := c.Get(contextKeyCSRF).(string); ok {
		return token
	}
	return ""
}
