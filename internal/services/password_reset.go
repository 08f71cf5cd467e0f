package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smehub/apiserver/internal/logging"
	"github.com/smehub/apiserver/internal/mail"
	"github.com/smehub/apiserver/internal/store"
	"github.com/smehub/apiserver/types"
)

const (
	ResetTokenTTL    = 30 * time.Minute
	ResetRateWindow  = 15 * time.Minute
	ResetRateLimit   = 3
	resetTokenBytes  = 32
	maxTokenAttempts = 3
)

// Outcome labels reported to a ResetRecorder.
const (
	OutcomeIssued      = "issued"
	OutcomeSuppressed  = "suppressed"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
	OutcomeCompleted   = "completed"
	OutcomeInvalid     = "invalid"
	OutcomeAlreadyUsed = "already_used"
)

// ResetTokenRepository persists reset tokens and the per-IP request log.
type ResetTokenRepository interface {
	PurgeExpired(ctx context.Context, now, requestCutoff time.Time) (int64, error)
	CountRequestsSince(ctx context.Context, ip string, since time.Time) (int, error)
	RecordRequest(ctx context.Context, ip string, at time.Time) error
	Create(ctx context.Context, token types.ResetToken) (types.ResetToken, error)
	GetByToken(ctx context.Context, token string) (types.ResetToken, error)
	Consume(ctx context.Context, token, passwordHash string, now time.Time) (string, error)
}

// AccountLookup resolves the owners of reset tokens.
type AccountLookup interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
}

// ResetRecorder receives reset flow outcomes, typically for metrics.
type ResetRecorder interface {
	ResetRequested(outcome string)
	ResetCompleted(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) ResetRequested(string) {}
func (noopRecorder) ResetCompleted(string) {}

// PasswordResetService issues, verifies and consumes single-use password
// reset tokens.
type PasswordResetService struct {
	tokens      ResetTokenRepository
	users       AccountLookup
	mailer      mail.Mailer
	hasher      PasswordHasher
	log         logging.Logger
	recorder    ResetRecorder
	frontendURL string
	production  bool
	now         func() time.Time
	newToken    func() (string, error)
}

type ResetOption func(*PasswordResetService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ResetOption {
	return func(s *PasswordResetService) { s.now = now }
}

// WithTokenGenerator overrides random token generation.
func WithTokenGenerator(gen func() (string, error)) ResetOption {
	return func(s *PasswordResetService) { s.newToken = gen }
}

func WithResetRecorder(r ResetRecorder) ResetOption {
	return func(s *PasswordResetService) { s.recorder = r }
}

// WithFrontendURL sets the base URL for links embedded in reset e-mails.
func WithFrontendURL(u string) ResetOption {
	return func(s *PasswordResetService) { s.frontendURL = u }
}

// WithProduction suppresses logging of reset links when delivery fails.
func WithProduction(production bool) ResetOption {
	return func(s *PasswordResetService) { s.production = production }
}

func NewPasswordResetService(
	tokens ResetTokenRepository,
	users AccountLookup,
	mailer mail.Mailer,
	hasher PasswordHasher,
	log logging.Logger,
	opts ...ResetOption,
) *PasswordResetService {
	s := &PasswordResetService{
		tokens:      tokens,
		users:       users,
		mailer:      mailer,
		hasher:      hasher,
		log:         log,
		recorder:    noopRecorder{},
		frontendURL: "http://localhost:5174",
		now:         func() time.Time { return time.Now().UTC() },
		newToken:    GenerateResetToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateResetToken returns 256 bits of randomness, base64url encoded.
func GenerateResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *PasswordResetService) purge(ctx context.Context, now time.Time) {
	removed, err := s.tokens.PurgeExpired(ctx, now, now.Add(-ResetRateWindow))
	if err != nil {
		s.log.Warn(ctx, "purge expired reset tokens failed", "error", err)
		return
	}
	if removed > 0 {
		s.log.Debug(ctx, "purged expired reset tokens", "count", removed)
	}
}

// RequestReset issues a reset token for email and delivers it. The caller
// sees the same result for unknown, inactive and active accounts; only
// ErrRateLimited and persistence failures are reported.
func (s *PasswordResetService) RequestReset(ctx context.Context, email, ip string) error {
	now := s.now()
	s.purge(ctx, now)

	count, err := s.tokens.CountRequestsSince(ctx, ip, now.Add(-ResetRateWindow))
	if err != nil {
		s.recorder.ResetRequested(OutcomeError)
		return fmt.Errorf("count reset requests: %w", err)
	}
	if count >= ResetRateLimit {
		s.recorder.ResetRequested(OutcomeRateLimited)
		s.log.Warn(ctx, "password reset rate limit exceeded", "event", "password_reset_rate_limit_exceeded", "ip", ip)
		return ErrRateLimited
	}
	if err := s.tokens.RecordRequest(ctx, ip, now); err != nil {
		s.recorder.ResetRequested(OutcomeError)
		return fmt.Errorf("record reset request: %w", err)
	}

	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.suppress(ctx, "unknown_email", email)
		return nil
	case err != nil:
		s.recorder.ResetRequested(OutcomeError)
		return fmt.Errorf("lookup user: %w", err)
	case !user.IsActive:
		s.suppress(ctx, "inactive_user", email)
		return nil
	}

	token, err := s.issue(ctx, user.ID, ip, now)
	if err != nil {
		s.recorder.ResetRequested(OutcomeError)
		return err
	}

	s.deliver(ctx, user, token)
	s.recorder.ResetRequested(OutcomeIssued)
	s.log.Info(ctx, "password reset requested", "event", "password_reset_requested", "user_id", user.ID, "ip", ip)
	return nil
}

// suppress spends a token generation so unknown and known addresses follow
// the same path up to persistence.
func (s *PasswordResetService) suppress(ctx context.Context, reason, email string) {
	_, _ = s.newToken()
	s.recorder.ResetRequested(OutcomeSuppressed)
	s.log.Warn(ctx, "password reset suppressed", "event", "password_reset_suppressed", "reason", reason, "email", email)
}

func (s *PasswordResetService) issue(ctx context.Context, userID, ip string, now time.Time) (types.ResetToken, error) {
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		value, err := s.newToken()
		if err != nil {
			return types.ResetToken{}, fmt.Errorf("generate reset token: %w", err)
		}
		token, err := s.tokens.Create(ctx, types.ResetToken{
			UserID:    userID,
			Token:     value,
			CreatedAt: now,
			ExpiresAt: now.Add(ResetTokenTTL),
			IPAddress: ip,
		})
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return types.ResetToken{}, fmt.Errorf("store reset token: %w", err)
		}
		s.log.Warn(ctx, "reset token collision", "attempt", attempt)
	}
	return types.ResetToken{}, fmt.Errorf("store reset token: %w", store.ErrConflict)
}

func (s *PasswordResetService) deliver(ctx context.Context, user types.User, token types.ResetToken) {
	link := mail.ResetLink(s.frontendURL, token.Token)
	msg, err := mail.ResetEmail(user.Email, user.Username, link, ResetTokenTTL)
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err == nil {
		s.log.Info(ctx, "password reset email sent", "user_id", user.ID)
		return
	}

	if s.production {
		s.log.Error(ctx, "password reset email delivery failed", "user_id", user.ID, "error", err)
		return
	}
	s.log.Warn(ctx, "password reset email delivery failed, logging link", "user_id", user.ID, "error", err, "reset_link", link)
}

// VerifyToken reports whether token can currently be used. It returns
// ErrTokenAlreadyUsed for consumed tokens and ErrTokenInvalid for every other
// unusable token.
func (s *PasswordResetService) VerifyToken(ctx context.Context, token string) error {
	now := s.now()
	s.purge(ctx, now)
	_, err := s.usableToken(ctx, token, now)
	return err
}

func (s *PasswordResetService) usableToken(ctx context.Context, value string, now time.Time) (types.ResetToken, error) {
	if strings.TrimSpace(value) == "" {
		return types.ResetToken{}, ErrTokenInvalid
	}

	token, err := s.tokens.GetByToken(ctx, value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.ResetToken{}, ErrTokenInvalid
		}
		return types.ResetToken{}, fmt.Errorf("lookup reset token: %w", err)
	}
	if token.Expired(now) {
		return types.ResetToken{}, ErrTokenInvalid
	}
	if token.Used() {
		return types.ResetToken{}, ErrTokenAlreadyUsed
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.ResetToken{}, ErrTokenInvalid
		}
		return types.ResetToken{}, fmt.Errorf("lookup token owner: %w", err)
	}
	if !user.IsActive {
		return types.ResetToken{}, ErrTokenInvalid
	}
	return token, nil
}

// ConsumeToken sets a new password for the owner of token and invalidates it.
// At most one call succeeds per token.
func (s *PasswordResetService) ConsumeToken(ctx context.Context, token, newPassword string) error {
	now := s.now()
	s.purge(ctx, now)

	if _, err := s.usableToken(ctx, token, now); err != nil {
		s.recordCompletion(err)
		return err
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.recorder.ResetCompleted(OutcomeError)
		return fmt.Errorf("hash password: %w", err)
	}

	userID, err := s.tokens.Consume(ctx, token, hashed, now)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTokenUsed):
			err = ErrTokenAlreadyUsed
		case errors.Is(err, store.ErrNotFound):
			err = ErrTokenInvalid
		default:
			err = fmt.Errorf("consume reset token: %w", err)
		}
		s.recordCompletion(err)
		return err
	}

	s.recorder.ResetCompleted(OutcomeCompleted)
	s.log.Info(ctx, "password reset completed", "event", "password_reset_completed", "user_id", userID)
	return nil
}

func (s *PasswordResetService) recordCompletion(err error) {
	switch {
	case errors.Is(err, ErrTokenInvalid):
		s.recorder.ResetCompleted(OutcomeInvalid)
	case errors.Is(err, ErrTokenAlreadyUsed):
		s.recorder.ResetCompleted(OutcomeAlreadyUsed)
	default:
		s.recorder.ResetCompleted(OutcomeError)
	}
}
