package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"

	appmetrics "github.com/kitchenguard/kitchenguard/app/observability/metrics"
	"github.com/kitchenguard/kitchenguard/internal/api"
	"github.com/kitchenguard/kitchenguard/internal/api/notify"
	"github.com/kitchenguard/kitchenguard/internal/api/token"
	"github.com/kitchenguard/kitchenguard/internal/types"
)

const (
	minPasswordLength = 6
	resetTokenTTL     = time.Hour
	resetTokenBytes   = 32
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var _ AuthService = (*AuthServiceImpl)(nil)

// AuthService defines the business logic contract for authentication.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*types.UserSummary, string, error)
	Login(ctx context.Context, username, password string) (*types.UserSummary, string, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ConsumePasswordReset(ctx context.Context, resetToken, newPassword string) error
	Profile(ctx context.Context, username string) (*types.UserSummary, error)
}

// AuthServiceImpl composes the credential store, the token issuer and the
// notification collaborator.
type AuthServiceImpl struct {
	logger   *slog.Logger
	repo     AuthRepo
	issuer   *token.Issuer
	notifier notify.Notifier
}

func NewAuthService(repo AuthRepo, issuer *token.Issuer, notifier notify.Notifier, logger *slog.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{
		logger:   logger,
		repo:     repo,
		issuer:   issuer,
		notifier: notifier,
	}
}

// Register stores a new user with a hashed password and issues a session token.
func (s *AuthServiceImpl) Register(ctx context.Context, req RegisterRequest) (*types.UserSummary, string, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "Register")
	defer span.End()

	l := s.logger.With(slog.String("method", "Register"), slog.String("username", req.Username))

	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if username == "" || email == "" || req.Password == "" ||
		strings.TrimSpace(req.FullName) == "" || strings.TrimSpace(req.RestaurantName) == "" {
		return nil, "", fmt.Errorf("username, email, password, fullName and restaurantName are required: %w", api.ErrInvalidInput)
	}
	if !emailPattern.MatchString(email) {
		return nil, "", fmt.Errorf("invalid email format: %w", api.ErrInvalidInput)
	}
	if len(req.Password) < minPasswordLength {
		return nil, "", fmt.Errorf("password must be at least %d characters long: %w", minPasswordLength, api.ErrInvalidInput)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		l.ErrorContext(ctx, "Password hashing failed", slog.Any("error", err))
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Username:       username,
		Email:          email,
		PasswordHash:   string(hashedPassword),
		FullName:       strings.TrimSpace(req.FullName),
		RestaurantName: strings.TrimSpace(req.RestaurantName),
		RestaurantType: strings.TrimSpace(req.RestaurantType),
		UserPosition:   strings.TrimSpace(req.UserPosition),
		KitchenProduce: req.KitchenProduceList,
		BarProduce:     req.BarProduceList,
	})
	if err != nil {
		appmetrics.Get().RegisterRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		return nil, "", err
	}

	sessionToken, err := s.issuer.Issue(user.ID, user.Username)
	if err != nil {
		l.ErrorContext(ctx, "Token issuance failed after registration", slog.Any("error", err))
		return nil, "", fmt.Errorf("failed to issue session token: %w", err)
	}

	appmetrics.Get().RegisterRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	l.InfoContext(ctx, "User registered", slog.String("userID", user.ID.String()))

	summary := user.Summary()
	return &summary, sessionToken, nil
}

// Login verifies credentials and issues a fresh session token. Unknown user,
// deactivated account and wrong password all collapse into one generic error.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password string) (*types.UserSummary, string, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "Login")
	defer span.End()

	l := s.logger.With(slog.String("method", "Login"), slog.String("username", username))

	if strings.TrimSpace(username) == "" || password == "" {
		return nil, "", fmt.Errorf("username and password are required: %w", api.ErrInvalidInput)
	}

	reject := func() (*types.UserSummary, string, error) {
		appmetrics.Get().LoginRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "rejected")))
		return nil, "", fmt.Errorf("invalid username or password: %w", api.ErrUnauthenticated)
	}

	user, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return reject()
		}
		l.ErrorContext(ctx, "User lookup failed", slog.Any("error", err))
		return nil, "", err
	}
	if !user.IsActive {
		l.WarnContext(ctx, "Login attempt on deactivated account")
		return reject()
	}

	// bcrypt comparison is constant-time on the hash
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return reject()
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
		// Login still succeeds; the timestamp is advisory.
		l.WarnContext(ctx, "Failed to update last login", slog.Any("error", err))
	}

	sessionToken, err := s.issuer.Issue(user.ID, user.Username)
	if err != nil {
		l.ErrorContext(ctx, "Token issuance failed", slog.Any("error", err))
		return nil, "", fmt.Errorf("failed to issue session token: %w", err)
	}

	appmetrics.Get().LoginRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))

	summary := user.Summary()
	return &summary, sessionToken, nil
}

// RequestPasswordReset creates a single-use reset token for the matching
// active user. The outcome is identical whether or not the email exists.
func (s *AuthServiceImpl) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "RequestPasswordReset")
	defer span.End()

	l := s.logger.With(slog.String("method", "RequestPasswordReset"))

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("email is required: %w", api.ErrInvalidInput)
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			l.DebugContext(ctx, "Reset requested for unknown email")
			return nil
		}
		return err
	}
	if !user.IsActive {
		l.DebugContext(ctx, "Reset requested for deactivated account")
		return nil
	}

	resetToken, err := generateResetToken()
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}

	if err := s.repo.CreateResetToken(ctx, user.ID, resetToken, time.Now().Add(resetTokenTTL)); err != nil {
		return err
	}

	// Fire-and-forget: delivery failure must not be observable to the caller.
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.SendResetLink(sendCtx, email, resetToken); err != nil {
			s.logger.Warn("Failed to send reset link", slog.Any("error", err))
		}
	}()

	return nil
}

// ConsumePasswordReset redeems a reset token for a new password. The token is
// marked used atomically with the check, so a replay always fails.
func (s *AuthServiceImpl) ConsumePasswordReset(ctx context.Context, resetToken, newPassword string) error {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "ConsumePasswordReset")
	defer span.End()

	if resetToken == "" {
		return fmt.Errorf("reset token is required: %w", api.ErrInvalidInput)
	}
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters long: %w", minPasswordLength, api.ErrInvalidInput)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.repo.ResetPassword(ctx, resetToken, string(hashedPassword)); err != nil {
		return err
	}

	appmetrics.Get().PasswordResetsTotal.Add(ctx, 1)
	s.logger.InfoContext(ctx, "Password reset token consumed")
	return nil
}

// Profile returns the caller-facing summary for an authenticated username.
func (s *AuthServiceImpl) Profile(ctx context.Context, username string) (*types.UserSummary, error) {
	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("profile: %w", api.ErrNotFound)
	}
	summary := user.Summary()
	return &summary, nil
}

// generateResetToken returns a URL-safe random token (32 bytes of entropy).
func generateResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
