package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/vibetube/vibetube/internal/apperror"
	"github.com/vibetube/vibetube/internal/middleware"
)

// Outcome is the terminal state of the per-request auth pipeline.
type Outcome int

const (
	// OutcomeRejected means CSRF validation failed; the request must not
	// reach its handler.
	OutcomeRejected Outcome = iota
	// OutcomeAnonymous means CSRF passed (or did not apply) and no valid
	// session token was presented.
	OutcomeAnonymous
	// OutcomeAuthenticated means CSRF passed and the token resolved.
	OutcomeAuthenticated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeAnonymous:
		return "anonymous"
	case OutcomeAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result is what Pipeline.Run decided for one request. Err holds the CSRF
// failure for OutcomeRejected and the token failure (if any) for
// OutcomeAnonymous.
type Result struct {
	Outcome  Outcome
	Identity Identity
	Err      error
}

// Context keys for auth state. Read them through GetIdentity.
const (
	contextKeyIdentity   = "auth_identity"
	contextKeyTokenError = "auth_token_error"
)

// Pipeline gates every request: it makes sure the browser holds a CSRF
// secret, validates mutating requests against it, then resolves the session.
type Pipeline struct {
	guard    *middleware.CSRFGuard
	sessions *SessionAuthenticator
}

// NewPipeline composes guard and sessions.
func NewPipeline(guard *middleware.CSRFGuard, sessions *SessionAuthenticator) *Pipeline {
	return &Pipeline{guard: guard, sessions: sessions}
}

// Run executes the pipeline for c. The returned error is reserved for
// infrastructure failures (the CSRF secret could not be generated); auth
// decisions are always reported through Result.
func (p *Pipeline) Run(c echo.Context) (Result, error) {
	if _, err := p.guard.EnsureSecret(c); err != nil {
		return Result{}, err
	}

	req := c.Request()
	if err := p.guard.Validate(req); err != nil {
		slog.Debug("csrf validation failed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("reason", err.Error()),
		)
		return Result{Outcome: OutcomeRejected, Err: err}, nil
	}

	identity, err := p.sessions.Resolve(req)
	switch {
	case err == nil:
		return Result{Outcome: OutcomeAuthenticated, Identity: identity}, nil
	case errors.Is(err, ErrNoSession):
		return Result{Outcome: OutcomeAnonymous}, nil
	default:
		slog.Debug("session token rejected",
			slog.String("path", req.URL.Path),
			slog.String("reason", err.Error()),
		)
		return Result{Outcome: OutcomeAnonymous, Err: err}, nil
	}
}

// Middleware installs the pipeline as echo middleware. Rejected requests get
// 403 with the CSRF message; everyone else continues, authenticated requests
// with their identity stored in the context.
func (p *Pipeline) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res, err := p.Run(c)
			if err != nil {
				return apperror.NewInternal(err)
			}

			switch res.Outcome {
			case OutcomeRejected:
				return apperror.NewForbidden(res.Err.Error())
			case OutcomeAuthenticated:
				identity := res.Identity
				c.Set(contextKeyIdentity, &identity)
				c.Set(middleware.ContextKeyUserID, identity.ID)
			default:
				if res.Err != nil {
					c.Set(contextKeyTokenError, res.Err)
				}
			}

			return next(c)
		}
	}
}
