package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/vibetube/vibetube/internal/apperror"
	"github.com/vibetube/vibetube/internal/sanitize"
)

// Input limits, matching the users table column sizes.
const (
	maxUsernameLen    = 50
	maxEmailLen       = 100
	minPasswordLength = 6
)

// avatarBaseURL renders an initials avatar for new accounts.
const avatarBaseURL = "https://ui-avatars.com/api/"

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the repository directly.
type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (*User, string, error)
	Login(ctx context.Context, input LoginInput) (*User, string, error)
	Profile(ctx context.Context, userID int64) (*Profile, error)
	Logout(ctx context.Context, userID int64)
}

// authService implements AuthService with bcrypt passwords, JWT session
// tokens, MariaDB users and a Redis profile cache.
type authService struct {
	repo   UserRepository
	cache  ProfileCache
	hasher *PasswordHasher
	tokens *TokenCodec
	now    func() time.Time

	// dummyHash is verified against when the email is unknown, so a failed
	// login costs one bcrypt comparison whether or not the account exists.
	dummyHash func() string
}

// NewAuthService creates a new auth service with the given dependencies.
// cache may be nil, in which case profiles are always read from the repo.
func NewAuthService(repo UserRepository, cache ProfileCache, hasher *PasswordHasher, tokens *TokenCodec) AuthService {
	return &authService{
		repo:   repo,
		cache:  cache,
		hasher: hasher,
		tokens: tokens,
		now:    time.Now,
		dummyHash: sync.OnceValue(func() string {
			hash, err := hasher.Hash("vibetube-placeholder-password")
			if err != nil {
				slog.Error("failed to build placeholder hash", slog.Any("error", err))
			}
			return hash
		}),
	}
}

// Register validates and sanitizes the input, creates the account and
// returns it together with a session token.
func (s *authService) Register(ctx context.Context, input RegisterInput) (*User, string, error) {
	if input.Username == "" || input.Email == "" || input.Password == "" {
		return nil, "", apperror.NewBadRequest("All fields are required")
	}

	username := sanitize.Text(input.Username, maxUsernameLen)
	email := normalizeEmail(input.Email)

	if username == "" {
		return nil, "", apperror.NewBadRequest("Username cannot be empty")
	}
	if !emailPattern.MatchString(email) {
		return nil, "", apperror.NewBadRequest("Invalid email format")
	}
	if utf8.RuneCountInString(input.Password) < minPasswordLength {
		return nil, "", apperror.NewBadRequest("Password must be at least 6 characters")
	}
	if len(input.Password) > maxPasswordBytes {
		return nil, "", apperror.NewBadRequest("Password must be at most 72 bytes")
	}

	// Check before hashing so duplicates do not pay for bcrypt.
	exists, err := s.repo.ExistsByEmailOrUsername(ctx, email, username)
	if err != nil {
		return nil, "", apperror.NewInternal(fmt.Errorf("checking existing user: %w", err))
	}
	if exists {
		return nil, "", apperror.NewConflict("User already exists")
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, "", apperror.NewInternal(err)
	}

	avatar := avatarURL(username)
	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Avatar:       &avatar,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, "", appErr
		}
		return nil, "", apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	token, err := s.tokens.Issue(user.Identity())
	if err != nil {
		return nil, "", apperror.NewInternal(fmt.Errorf("issuing token: %w", err))
	}

	slog.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, token, nil
}

// Login checks the credentials and returns the user with a new session
// token. Unknown emails and wrong passwords produce the same 401.
func (s *authService) Login(ctx context.Context, input LoginInput) (*User, string, error) {
	if input.Email == "" || input.Password == "" {
		return nil, "", apperror.NewBadRequest("Email and password are required")
	}

	email := normalizeEmail(input.Email)
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if apperror.IsNotFound(err) {
			s.hasher.Verify(input.Password, s.dummyHash())
			return nil, "", apperror.NewUnauthorized("Invalid credentials")
		}
		return nil, "", apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if !s.hasher.Verify(input.Password, user.PasswordHash) {
		slog.Debug("login password mismatch", slog.Int64("user_id", user.ID))
		return nil, "", apperror.NewUnauthorized("Invalid credentials")
	}

	token, err := s.tokens.Issue(user.Identity())
	if err != nil {
		return nil, "", apperror.NewInternal(fmt.Errorf("issuing token: %w", err))
	}

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, token, nil
}

// Profile returns the full profile of userID, reading through the cache.
// Cache failures are logged and fall through to the database.
func (s *authService) Profile(ctx context.Context, userID int64) (*Profile, error) {
	if s.cache != nil {
		profile, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			slog.Warn("profile cache read failed",
				slog.Int64("user_id", userID),
				slog.Any("error", err),
			)
		}
		if ok {
			return profile, nil
		}
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("User not found")
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	profile := user.Profile()
	if s.cache != nil {
		if err := s.cache.Set(ctx, profile); err != nil {
			slog.Warn("profile cache write failed",
				slog.Int64("user_id", userID),
				slog.Any("error", err),
			)
		}
	}

	return profile, nil
}

// Logout drops the cached profile. Tokens are stateless, so the session
// itself ends when the handler clears the cookie.
func (s *authService) Logout(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, userID); err != nil {
		slog.Warn("profile cache eviction failed",
			slog.Int64("user_id", userID),
			slog.Any("error", err),
		)
	}
}

// normalizeEmail is the one canonical form of an email address, used both
// to store it and to look it up.
func normalizeEmail(raw string) string {
	return strings.ToLower(sanitize.Text(raw, maxEmailLen))
}

// avatarURL builds the default initials avatar for username.
func avatarURL(username string) string {
	q := url.Values{}
	q.Set("name", username)
	q.Set("background", "9b59b6")
	q.Set("color", "fff")
	return avatarBaseURL + "?" + q.Encode()
}
