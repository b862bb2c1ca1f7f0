package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "8f14e45fceea167a5a36dedd4bea2543c9f0f1c8b0a1e2d3c4b5a69788796a5b"

func newRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return httptest.NewRequest(method, target, r)
}

func withCookie(req *http.Request, value string) *http.Request {
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: value})
	return req
}

func TestEnsureSecret_IssuesCookieWhenAbsent(t *testing.T) {
	e := echo.New()
	req := newRequest(http.MethodGet, "/", "")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	secret, err := NewCSRFGuard().EnsureSecret(c)
	require.NoError(t, err)
	assert.Len(t, secret, 64)
	assert.Equal(t, secret, GetCSRFToken(c))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	assert.Equal(t, CSRFCookieName, ck.Name)
	assert.Equal(t, secret, ck.Value)
	assert.Equal(t, "/", ck.Path)
	assert.False(t, ck.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	assert.Equal(t, 7*24*60*60, ck.MaxAge)
	assert.False(t, ck.Secure)
}

func TestEnsureSecret_KeepsExisting(t *testing.T) {
	e := echo.New()
	req := withCookie(newRequest(http.MethodGet, "/", ""), testSecret)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	secret, err := NewCSRFGuard().EnsureSecret(c)
	require.NoError(t, err)
	assert.Equal(t, testSecret, secret)
	assert.Empty(t, rec.Result().Cookies(), "existing secret must not be reissued")
}

func TestEnsureSecret_SecureBehindTLSProxy(t *testing.T) {
	e := echo.New()
	req := newRequest(http.MethodGet, "/", "")
	req.Header.Set(echo.HeaderXForwardedProto, "https")
	rec := httptest.NewRecorder()

	_, err := NewCSRFGuard().EnsureSecret(e.NewContext(req, rec))
	require.NoError(t, err)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.True(t, rec.Result().Cookies()[0].Secure)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestEnsureSecret_RandomFailure(t *testing.T) {
	g := NewCSRFGuard()
	g.random = failingReader{}
	c := echo.New().NewContext(newRequest(http.MethodGet, "/", ""), httptest.NewRecorder())

	_, err := g.EnsureSecret(c)
	require.Error(t, err)
}

func TestEnsureSecret_Unique(t *testing.T) {
	g := NewCSRFGuard()
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		c := echo.New().NewContext(newRequest(http.MethodGet, "/", ""), httptest.NewRecorder())
		s, err := g.EnsureSecret(c)
		require.NoError(t, err)
		assert.False(t, seen[s], "duplicate secret")
		seen[s] = true
	}
}

func TestValidate(t *testing.T) {
	g := NewCSRFGuard("/api/auth/login", "/api/auth/register")
	oneOff := testSecret[:63] + "0"
	if oneOff == testSecret {
		oneOff = testSecret[:63] + "1"
	}

	tests := []struct {
		name    string
		req     func() *http.Request
		wantErr error
	}{
		{
			name:    "GET passes without anything",
			req:     func() *http.Request { return newRequest(http.MethodGet, "/api/videos", "") },
			wantErr: nil,
		},
		{
			name:    "HEAD passes",
			req:     func() *http.Request { return newRequest(http.MethodHead, "/api/videos", "") },
			wantErr: nil,
		},
		{
			name:    "login is skipped",
			req:     func() *http.Request { return newRequest(http.MethodPost, "/api/auth/login", "") },
			wantErr: nil,
		},
		{
			name:    "register is skipped",
			req:     func() *http.Request { return newRequest(http.MethodPost, "/api/auth/register", "") },
			wantErr: nil,
		},
		{
			name:    "path under a skipped path is skipped",
			req:     func() *http.Request { return newRequest(http.MethodPost, "/api/auth/login/", "") },
			wantErr: nil,
		},
		{
			name:    "sibling of login is not skipped",
			req:     func() *http.Request { return newRequest(http.MethodPost, "/api/auth/login-history", "") },
			wantErr: ErrCSRFRequired,
		},
		{
			name:    "sibling of register is not skipped",
			req:     func() *http.Request { return newRequest(http.MethodDelete, "/api/auth/registered-devices", "") },
			wantErr: ErrCSRFRequired,
		},
		{
			name:    "POST with nothing",
			req:     func() *http.Request { return newRequest(http.MethodPost, "/api/auth/logout", "") },
			wantErr: ErrCSRFRequired,
		},
		{
			name: "cookie without candidate",
			req: func() *http.Request {
				return withCookie(newRequest(http.MethodDelete, "/api/comments/1", ""), testSecret)
			},
			wantErr: ErrCSRFRequired,
		},
		{
			name: "header without cookie",
			req: func() *http.Request {
				r := newRequest(http.MethodPost, "/api/likes", "")
				r.Header.Set(CSRFHeaderName, testSecret)
				return r
			},
			wantErr: ErrCSRFInvalid,
		},
		{
			name: "header matches cookie",
			req: func() *http.Request {
				r := withCookie(newRequest(http.MethodPut, "/api/user/update", ""), testSecret)
				r.Header.Set(CSRFHeaderName, testSecret)
				return r
			},
			wantErr: nil,
		},
		{
			name: "header differs by one character",
			req: func() *http.Request {
				r := withCookie(newRequest(http.MethodPatch, "/api/videos/3", ""), testSecret)
				r.Header.Set(CSRFHeaderName, oneOff)
				return r
			},
			wantErr: ErrCSRFInvalid,
		},
		{
			name: "header has different length",
			req: func() *http.Request {
				r := withCookie(newRequest(http.MethodPost, "/api/likes", ""), testSecret)
				r.Header.Set(CSRFHeaderName, testSecret+"00")
				return r
			},
			wantErr: ErrCSRFInvalid,
		},
		{
			name: "JSON body field matches",
			req: func() *http.Request {
				r := withCookie(newRequest(http.MethodPost, "/api/comments", `{"text":"hi","csrf_token":"`+testSecret+`"}`), testSecret)
				r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSONCharsetUTF8)
				return r
			},
			wantErr: nil,
		},
		{
			name: "JSON body field mismatches",
			req: func() *http.Request {
				r := withCookie(newRequest(http.MethodPost, "/api/comments", `{"csrf_token":"`+oneOff+`"}`), testSecret)
				r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
				return r
			},
			wantErr: ErrCSRFInvalid,
		},
		{
			name: "body field ignored for non-JSON",
			req: func() *http.Request {
				r := withCookie(newRequest(http.MethodPost, "/api/comments", `{"csrf_token":"`+testSecret+`"}`), testSecret)
				r.Header.Set(echo.HeaderContentType, echo.MIMETextPlain)
				return r
			},
			wantErr: ErrCSRFRequired,
		},
		{
			name: "malformed JSON is no candidate",
			req: func() *http.Request {
				r := withCookie(newRequest(http.MethodPost, "/api/comments", `{"csrf_token":`), testSecret)
				r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
				return r
			},
			wantErr: ErrCSRFRequired,
		},
		{
			name: "non-string body field is no candidate",
			req: func() *http.Request {
				r := withCookie(newRequest(http.MethodPost, "/api/comments", `{"csrf_token":42}`), testSecret)
				r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
				return r
			},
			wantErr: ErrCSRFRequired,
		},
		{
			name: "header wins over body",
			req: func() *http.Request {
				r := withCookie(newRequest(http.MethodPost, "/api/comments", `{"csrf_token":"`+testSecret+`"}`), testSecret)
				r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
				r.Header.Set(CSRFHeaderName, oneOff)
				return r
			},
			wantErr: ErrCSRFInvalid,
		},
		{
			name: "skip prefix does not leak to other auth routes",
			req: func() *http.Request {
				return newRequest(http.MethodPost, "/api/auth/logout", "")
			},
			wantErr: ErrCSRFRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Validate(tt.req())
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidate_BodyStillReadableAfterPeek(t *testing.T) {
	body := `{"text":"first!","csrf_token":"` + testSecret + `"}`
	req := withCookie(newRequest(http.MethodPost, "/api/comments", body), testSecret)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	require.NoError(t, NewCSRFGuard().Validate(req))

	got, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
	assert.NoError(t, req.Body.Close())
}

type abortedBody struct {
	sent bool
}

func (b *abortedBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, `{"csrf_token":"`+testSecret), nil
	}
	return 0, io.ErrUnexpectedEOF
}

func (b *abortedBody) Close() error { return nil }

func TestValidate_AbortedBodyFailsClosed(t *testing.T) {
	req := withCookie(httptest.NewRequest(http.MethodPost, "/api/comments", nil), testSecret)
	req.Body = &abortedBody{}
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	assert.ErrorIs(t, NewCSRFGuard().Validate(req), ErrCSRFRequired)
}

func TestValidate_OversizedBodyIsNoCandidate(t *testing.T) {
	padding := strings.Repeat(" ", maxPeekBytes)
	body := `{"csrf_token":"` + testSecret + `"}` + padding
	req := withCookie(newRequest(http.MethodPost, "/api/videos", body), testSecret)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	assert.ErrorIs(t, NewCSRFGuard().Validate(req), ErrCSRFRequired)

	// The handler still sees the whole body.
	got, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Len(t, got, len(body))
}

func TestIsMutatingMethod(t *testing.T) {
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		assert.True(t, IsMutatingMethod(m), m)
	}
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace} {
		assert.False(t, IsMutatingMethod(m), m)
	}
}
