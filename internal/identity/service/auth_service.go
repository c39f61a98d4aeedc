package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"auth-service/internal/audit"
	"auth-service/internal/logging"
	"auth-service/internal/security"
	sessiondomain "auth-service/internal/session/domain"
	"auth-service/internal/session/registry"
	authotel "auth-service/internal/telemetry/otel"
	userdomain "auth-service/internal/user/domain"
	userrepo "auth-service/internal/user/repository"
)

// Sentinel errors for auth service; handler maps them to gRPC codes.
var (
	// ErrInvalidToken is the only error refresh and token validation return to
	// callers. The internal cause is logged and audited.
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
)

const minPasswordLength = 6

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }

func invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	FindByID(ctx context.Context, id string) (*userdomain.User, error)
	FindByEmail(ctx context.Context, email string) (*userdomain.User, error)
	FindByUsername(ctx context.Context, username string) (*userdomain.User, error)
	Save(ctx context.Context, u *userdomain.User) (*userdomain.User, error)
}

// freshUserFinder is implemented by repositories that cache FindByID.
// FindByIDFresh always reads the source of truth.
type freshUserFinder interface {
	FindByIDFresh(ctx context.Context, id string) (*userdomain.User, error)
}

// TokenIssuer signs and verifies token pairs.
type TokenIssuer interface {
	IssuePair(sub security.Subject) (*security.TokenPair, error)
	Verify(token string, kind security.TokenKind) (*security.Claims, error)
}

// SessionRegistry is the part of the session registry the auth service uses.
type SessionRegistry interface {
	SaveUserSession(ctx context.Context, p registry.SaveParams) error
	Get(ctx context.Context, ssid string) (*sessiondomain.Record, error)
	Logout(ctx context.Context, userID, ssid string) error
	Rotate(ctx context.Context, p registry.RotateParams) error
	LinkSuccessor(ctx context.Context, oldSSID, newSSID string, ttl time.Duration) error
	RevokeLineage(ctx context.Context, ssid string) ([]string, error)
	ListUserRecords(ctx context.Context, userID string) ([]*sessiondomain.Record, error)
	CountActiveSessions(ctx context.Context, userID string) (int, error)
	RevokeAllForUser(ctx context.Context, userID string) ([]string, error)
	RevokeUserToken(ctx context.Context, userID, jti string) (string, error)
}

// AuthResult is returned by Register, Login, and Refresh.
type AuthResult struct {
	AccessToken  security.TokenResponse
	RefreshToken security.TokenResponse
	SessionID    string
	User         *userdomain.User
}

// RegisterInput carries a registration request. Meta is stored with the
// session and carried through every rotation.
type RegisterInput struct {
	Name     string
	Email    string
	Username string
	Password string
	Meta     map[string]any
}

// LoginInput carries a password login request.
type LoginInput struct {
	Email    string
	Password string
	Meta     map[string]any
}

// AuthService implements register, login, refresh rotation, and session management.
type AuthService struct {
	users       UserRepo
	sessions    SessionRegistry
	tokens      TokenIssuer
	hasher      *security.Hasher
	logger      *slog.Logger
	audit       audit.AuditLogger
	metrics     *authotel.AuthMetrics
	rotationCAS bool
	now         func() time.Time
}

// Option configures an AuthService.
type Option func(*AuthService)

func WithLogger(l *slog.Logger) Option { return func(s *AuthService) { s.logger = l } }

func WithAuditLogger(a audit.AuditLogger) Option { return func(s *AuthService) { s.audit = a } }

func WithMetrics(m *authotel.AuthMetrics) Option { return func(s *AuthService) { s.metrics = m } }

// WithRotationCAS selects between the conditional swap (true, default) and two
// concurrent writes (false) when a refresh rotates a session.
func WithRotationCAS(enabled bool) Option { return func(s *AuthService) { s.rotationCAS = enabled } }

// WithClock overrides the time source used for session lifetimes.
func WithClock(now func() time.Time) Option { return func(s *AuthService) { s.now = now } }

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(users UserRepo, sessions SessionRegistry, tokens TokenIssuer, hasher *security.Hasher, opts ...Option) *AuthService {
	s := &AuthService{
		users:       users,
		sessions:    sessions,
		tokens:      tokens,
		hasher:      hasher,
		rotationCAS: true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).With(logging.Component("auth_service"))
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	return s
}

// Register creates an active user with the given credentials and opens a session for it.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := userdomain.NormalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return nil, invalid("name", "is required")
	case email == "":
		return nil, invalid("email", "is required")
	case username == "":
		return nil, invalid("username", "is required")
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}
	existing, err = s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	first, last := userdomain.SplitName(name)
	user := &userdomain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hashed,
		FirstName:    first,
		LastName:     last,
		IsActive:     true,
	}
	if err := user.Validate(); err != nil {
		return nil, invalid("user", err.Error())
	}
	saved, err := s.users.Save(ctx, user)
	switch {
	case errors.Is(err, userrepo.ErrDuplicateEmail):
		return nil, ErrEmailTaken
	case errors.Is(err, userrepo.ErrDuplicateUsername):
		return nil, ErrUsernameTaken
	case err != nil:
		return nil, err
	}

	res, err := s.startSession(ctx, saved, in.Meta)
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, audit.Event{Action: audit.ActionRegister, UserID: saved.ID, SessionID: res.SessionID})
	s.metrics.Login(ctx, "register", authotel.OutcomeSuccess)
	return res, nil
}

// Login authenticates with email and password and opens a new session.
// Unknown emails, inactive users, and wrong passwords all yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	email := userdomain.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.hasher.BurnCompare(in.Password)
		return nil, s.loginFailed(ctx, "", "unknown email")
	}
	if err := s.hasher.Verify(user.PasswordHash, in.Password); err != nil {
		return nil, s.loginFailed(ctx, user.ID, "password mismatch")
	}
	if !user.IsActive {
		return nil, s.loginFailed(ctx, user.ID, "user inactive")
	}

	res, err := s.startSession(ctx, user, in.Meta)
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, audit.Event{Action: audit.ActionLogin, UserID: user.ID, SessionID: res.SessionID})
	s.metrics.Login(ctx, "login", authotel.OutcomeSuccess)
	return res, nil
}

func (s *AuthService) loginFailed(ctx context.Context, userID, reason string) error {
	s.audit.LogEvent(ctx, audit.Event{Action: audit.ActionLoginFailure, UserID: userID, Reason: reason, Failure: true})
	s.metrics.Login(ctx, "login", authotel.OutcomeFailure)
	return ErrInvalidCredentials
}

// GetProfile returns the stored user. It returns ErrUserNotFound when the user is gone.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*userdomain.User, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "load profile", logging.UserID(userID), logging.Error(err))
		return nil, err
	}
	if user == nil {
		s.logger.WarnContext(ctx, "profile not found", logging.UserID(userID))
		return nil, ErrUserNotFound
	}
	return user, nil
}

// startSession issues a token pair with a fresh session id and persists the session.
func (s *AuthService) startSession(ctx context.Context, user *userdomain.User, meta map[string]any) (*AuthResult, error) {
	pair, err := s.tokens.IssuePair(security.Subject{UserID: user.ID, Email: user.Email})
	if err != nil {
		return nil, err
	}
	ttl := s.sessionTTL(pair)
	if ttl <= 0 {
		return nil, registry.ErrNonPositiveTTL
	}
	rec := newRecord(pair, user, meta, s.now())
	if err := s.sessions.SaveUserSession(ctx, registry.SaveParams{
		UserID:    user.ID,
		SessionID: pair.SessionID,
		Record:    rec,
		TTL:       ttl,
	}); err != nil {
		return nil, err
	}
	return &AuthResult{AccessToken: pair.Access, RefreshToken: pair.Refresh, SessionID: pair.SessionID, User: user}, nil
}

// sessionTTL is the time left on the refresh token, floored at zero.
func (s *AuthService) sessionTTL(pair *security.TokenPair) time.Duration {
	return max(0, pair.Refresh.ExpiresAt.Sub(s.now()).Truncate(time.Second))
}

func newRecord(pair *security.TokenPair, user *userdomain.User, meta map[string]any, now time.Time) *sessiondomain.Record {
	return &sessiondomain.Record{
		SessionID:   pair.SessionID,
		UserID:      user.ID,
		AccessJTI:   pair.Access.TokenID,
		RefreshJTI:  pair.Refresh.TokenID,
		RefreshHash: security.TokenFingerprint(pair.Refresh.Token),
		User:        user.Snapshot(),
		Meta:        meta,
		CreatedAt:   now.UTC(),
	}
}

func validatePassword(password string) error {
	if password == "" {
		return invalid("password", "is required")
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return invalid("password", "must be at least 6 characters")
	}
	return nil
}
