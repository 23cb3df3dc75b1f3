package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/notevault/auth/internal/auth/domain"
	"github.com/notevault/auth/internal/auth/metrics"
	"github.com/notevault/auth/internal/auth/ratelimit"
	"github.com/notevault/auth/internal/auth/store"
	"github.com/notevault/auth/pkg/cryptox"
	"github.com/notevault/auth/pkg/idx"
	"github.com/notevault/auth/pkg/slogx"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

	// reservedUsernames can never be registered.
	reservedUsernames = map[string]struct{}{
		"admin":         {},
		"administrator": {},
		"root":          {},
		"system":        {},
		"support":       {},
		"moderator":     {},
	}
)

// AuthService orchestrates registration and login: validation, rate
// limiting, credential checks, auditing, and session creation.
type AuthService struct {
	Store    store.Store
	Sessions *SessionService
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
}

// RegisterInput is the raw registration request.
type RegisterInput struct {
	Email           string
	Username        string
	Password        string
	ConfirmPassword string
	DeviceInfo      string // client User-Agent
}

// LoginInput is the raw login request plus its network origin.
type LoginInput struct {
	Identifier string // username or email
	Password   string
	IPAddress  string
	DeviceInfo string // client User-Agent
}

// AuthResult pairs the public user with the issued tokens, the shape both
// register and login return.
type AuthResult struct {
	User   domain.User
	Tokens *domain.TokenPair
}

// Register validates and creates a new account. Registration implies login:
// a token pair is issued immediately.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	l := slogx.FromContext(ctx)
	now := time.Now().UTC()

	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)

	if verr := validateRegistration(in); verr != nil {
		return nil, verr
	}

	hash, err := cryptox.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := domain.User{
		ID:           idx.New().String(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	pair, err := s.Sessions.Start(ctx, u, in.DeviceInfo, now)
	if err != nil {
		return nil, err
	}

	l.Info("user registered", slog.String("user_id", u.ID), slog.String("username", u.Username))
	s.Metrics.Registration()

	return &AuthResult{User: u, Tokens: pair}, nil
}

// Login authenticates by username or email. Failures all surface as
// ErrInvalidCredentials (except an inactive account with correct
// credentials) so the response never reveals whether the account exists.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	l := slogx.FromContext(ctx)
	now := time.Now().UTC()

	in.Identifier = strings.TrimSpace(in.Identifier)
	if in.Identifier == "" || in.Password == "" {
		return nil, ErrInvalidCredentials
	}

	// Rate check before touching any credentials.
	if err := s.checkLimits(ctx, in); err != nil {
		s.audit(ctx, domain.LoginAttempt{
			Identifier:    in.Identifier,
			IPAddress:     in.IPAddress,
			FailureReason: domain.FailureReasonRateLimited,
			CreatedAt:     now,
		})
		return nil, err
	}

	u, err := s.Store.Users().GetUserByIdentifier(ctx, in.Identifier)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		// Burn the same bcrypt cost as a real check so the response
		// time doesn't reveal whether the account exists.
		cryptox.DummyVerify()

		s.recordFailure(ctx, in, "")
		s.audit(ctx, domain.LoginAttempt{
			Identifier:    in.Identifier,
			IPAddress:     in.IPAddress,
			FailureReason: domain.FailureReasonUnknownUser,
			CreatedAt:     now,
		})
		s.Metrics.LoginFailure(domain.FailureReasonUnknownUser)
		return nil, ErrInvalidCredentials
	}

	// Account-scope limit applies once the identifier resolved.
	if d := s.Limiter.Check(ctx, ratelimit.ScopeAccount, u.ID); !d.Allowed {
		s.Metrics.RateLimited(string(ratelimit.ScopeAccount))
		s.audit(ctx, domain.LoginAttempt{
			UserID:        u.ID,
			Identifier:    in.Identifier,
			IPAddress:     in.IPAddress,
			FailureReason: domain.FailureReasonRateLimited,
			CreatedAt:     now,
		})
		return nil, &RateLimitError{Scope: string(ratelimit.ScopeAccount), RetryAfter: d.RetryAfter}
	}

	if err := cryptox.VerifyPassword(in.Password, u.PasswordHash); err != nil {
		s.recordFailure(ctx, in, u.ID)
		s.audit(ctx, domain.LoginAttempt{
			UserID:        u.ID,
			Identifier:    in.Identifier,
			IPAddress:     in.IPAddress,
			FailureReason: domain.FailureReasonBadPassword,
			CreatedAt:     now,
		})
		s.Metrics.LoginFailure(domain.FailureReasonBadPassword)
		return nil, ErrInvalidCredentials
	}

	if !u.IsActive {
		s.recordFailure(ctx, in, u.ID)
		s.audit(ctx, domain.LoginAttempt{
			UserID:        u.ID,
			Identifier:    in.Identifier,
			IPAddress:     in.IPAddress,
			FailureReason: domain.FailureReasonAccountInactive,
			CreatedAt:     now,
		})
		s.Metrics.LoginFailure(domain.FailureReasonAccountInactive)
		return nil, ErrAccountInactive
	}

	// Success: the IP counter still advances to bound total throughput,
	// but the account counters reset.
	s.Limiter.Record(ctx, ratelimit.ScopeIP, in.IPAddress)
	s.Limiter.Clear(ctx, ratelimit.ScopeAccount, u.ID)

	if err := s.Store.Users().UpdateLastLogin(ctx, u.ID, now); err != nil {
		l.Warn("failed to update last login", slog.Any("error", err), slog.String("user_id", u.ID))
	}
	u.LastLoginAt = &now

	pair, err := s.Sessions.Start(ctx, u, in.DeviceInfo, now)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, domain.LoginAttempt{
		UserID:     u.ID,
		Identifier: in.Identifier,
		IPAddress:  in.IPAddress,
		Success:    true,
		CreatedAt:  now,
	})
	s.Metrics.LoginSuccess()

	l.Info("user logged in",
		slog.String("user_id", u.ID),
		slog.String("ip", in.IPAddress),
	)
	return &AuthResult{User: u, Tokens: pair}, nil
}

// Refresh redeems a refresh token for a new pair.
func (s *AuthService) Refresh(ctx context.Context, rawToken string) (*domain.TokenPair, error) {
	return s.Sessions.Redeem(ctx, rawToken)
}

// Logout ends the session of the presented refresh token. userID is the
// authenticated caller; a token belonging to someone else is rejected.
func (s *AuthService) Logout(ctx context.Context, userID, rawToken string) error {
	return s.Sessions.Revoke(ctx, userID, rawToken)
}

// LogoutAll ends every session the user holds.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	return s.Sessions.RevokeAll(ctx, userID)
}

// checkLimits applies the pre-credential scopes: per-IP and per-identifier.
func (s *AuthService) checkLimits(ctx context.Context, in LoginInput) error {
	if d := s.Limiter.Check(ctx, ratelimit.ScopeIP, in.IPAddress); !d.Allowed {
		s.Metrics.RateLimited(string(ratelimit.ScopeIP))
		return &RateLimitError{Scope: string(ratelimit.ScopeIP), RetryAfter: d.RetryAfter}
	}
	if d := s.Limiter.Check(ctx, ratelimit.ScopeIdentifier, in.Identifier); !d.Allowed {
		s.Metrics.RateLimited(string(ratelimit.ScopeIdentifier))
		return &RateLimitError{Scope: string(ratelimit.ScopeIdentifier), RetryAfter: d.RetryAfter}
	}
	return nil
}

// recordFailure adds the failed attempt to every applicable limiter scope.
func (s *AuthService) recordFailure(ctx context.Context, in LoginInput, userID string) {
	s.Limiter.Record(ctx, ratelimit.ScopeIP, in.IPAddress)
	s.Limiter.Record(ctx, ratelimit.ScopeIdentifier, in.Identifier)
	if userID != "" {
		s.Limiter.Record(ctx, ratelimit.ScopeAccount, userID)
	}
}

// audit writes a login attempt record. Audit failures are logged, never
// surfaced: they must not turn a valid login into an error.
func (s *AuthService) audit(ctx context.Context, a domain.LoginAttempt) {
	a.ID = idx.New().String()
	if err := s.Store.LoginAttempts().CreateLoginAttempt(ctx, a); err != nil {
		slogx.FromContext(ctx).Error("failed to write login attempt",
			slog.Any("error", err),
			slog.String("identifier", a.Identifier),
		)
	}
}

func validateRegistration(in RegisterInput) *ValidationError {
	fields := make(map[string]string)

	if len(in.Email) == 0 || len(in.Email) > 255 {
		fields["email"] = "Email must be between 1 and 255 characters"
	} else if _, err := mail.ParseAddress(in.Email); err != nil {
		fields["email"] = "Email address is not valid"
	}

	switch {
	case len(in.Username) < 3 || len(in.Username) > 50:
		fields["username"] = "Username must be between 3 and 50 characters"
	case !usernamePattern.MatchString(in.Username):
		fields["username"] = "Username must contain only alphanumeric characters and underscores"
	default:
		if _, reserved := reservedUsernames[strings.ToLower(in.Username)]; reserved {
			fields["username"] = "Username is reserved and cannot be used"
		}
	}

	if msg := validatePassword(in.Password, in.Username, in.Email); msg != "" {
		fields["password"] = msg
	}

	if in.Password != in.ConfirmPassword {
		fields["confirm_password"] = "Passwords do not match"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validatePassword(password, username, email string) string {
	switch {
	case len(password) < 8:
		return "Password must be at least 8 characters long"
	case len(password) > 128:
		return "Password must be at most 128 characters long"
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(`!@#$%^&*(),.?":{}|<>`, r):
			hasSpecial = true
		}
	}
	switch {
	case !hasUpper:
		return "Password must contain at least one uppercase letter"
	case !hasLower:
		return "Password must contain at least one lowercase letter"
	case !hasDigit:
		return "Password must contain at least one number"
	case !hasSpecial:
		return "Password must contain at least one special character"
	}

	// Only reject identifiers long enough to be meaningful; a one or two
	// letter email local part would otherwise poison almost any password.
	lowered := strings.ToLower(password)
	if len(username) >= 4 && strings.Contains(lowered, strings.ToLower(username)) {
		return "Password cannot contain username or email"
	}
	if local, _, found := strings.Cut(email, "@"); found && len(local) >= 4 &&
		strings.Contains(lowered, strings.ToLower(local)) {
		return "Password cannot contain username or email"
	}

	return ""
}
