package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	appmetrics "github.com/kitchenguard/kitchenguard/app/observability/metrics"
	"github.com/kitchenguard/kitchenguard/config"
	"github.com/kitchenguard/kitchenguard/internal/api"
	"github.com/kitchenguard/kitchenguard/internal/api/token"
	"github.com/kitchenguard/kitchenguard/internal/types"
)

// MockAuthRepo is a mock implementation of AuthRepo.
type MockAuthRepo struct {
	mock.Mock
}

func (m *MockAuthRepo) CreateUser(ctx context.Context, params CreateUserParams) (*types.UserAuth, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.UserAuth), args.Error(1)
}

func (m *MockAuthRepo) GetUserByUsername(ctx context.Context, username string) (*types.UserAuth, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.UserAuth), args.Error(1)
}

func (m *MockAuthRepo) GetUserByEmail(ctx context.Context, email string) (*types.UserAuth, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.UserAuth), args.Error(1)
}

func (m *MockAuthRepo) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockAuthRepo) CreateResetToken(ctx context.Context, userID uuid.UUID, tok string, expiresAt time.Time) error {
	args := m.Called(ctx, userID, tok, expiresAt)
	return args.Error(0)
}

func (m *MockAuthRepo) ResetPassword(ctx context.Context, tok, newPasswordHash string) error {
	args := m.Called(ctx, tok, newPasswordHash)
	return args.Error(0)
}

// chanNotifier signals each delivery so tests can wait for the
// fire-and-forget goroutine without sleeping.
type chanNotifier struct {
	sent chan string
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{sent: make(chan string, 1)}
}

func (n *chanNotifier) SendResetLink(ctx context.Context, email, tok string) error {
	n.sent <- tok
	return nil
}

func testIssuer(t *testing.T) *token.Issuer {
	t.Helper()
	issuer, err := token.NewIssuer(config.JWTConfig{
		SecretKey:       "unit-test-secret",
		SessionTokenTTL: time.Hour,
		Issuer:          "kitchenguard-auth",
		Audience:        "kitchenguard",
	})
	require.NoError(t, err)
	return issuer
}

func newTestService(t *testing.T, repo AuthRepo) (*AuthServiceImpl, *chanNotifier) {
	t.Helper()
	appmetrics.InitAppMetrics()
	notifier := newChanNotifier()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthService(repo, testIssuer(t), notifier, logger), notifier
}

func validRegisterRequest() RegisterRequest {
	return RegisterRequest{
		Username:       "chef_maria",
		Email:          "Maria@Example.COM",
		Password:       "s3cretpass",
		FullName:       "Maria Santos",
		RestaurantName: "La Cocina",
		RestaurantType: "mexican",
		UserPosition:   "head chef",
	}
}

func storedUser(username, email, password string) *types.UserAuth {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return &types.UserAuth{
		ID:             uuid.New(),
		Username:       username,
		Email:          email,
		PasswordHash:   string(hash),
		FullName:       "Maria Santos",
		RestaurantName: "La Cocina",
		IsActive:       true,
	}
}

func TestRegister_Success(t *testing.T) {
	mockRepo := new(MockAuthRepo)
	svc, _ := newTestService(t, mockRepo)
	ctx := context.Background()

	created := storedUser("chef_maria", "maria@example.com", "s3cretpass")
	mockRepo.On("CreateUser", mock.Anything, mock.MatchedBy(func(p CreateUserParams) bool {
		// Email is normalized to lower case before it reaches the store.
		return p.Username == "chef_maria" && p.Email == "maria@example.com" && p.PasswordHash != "s3cretpass"
	})).Return(created, nil).Once()

	user, sessionToken, err := svc.Register(ctx, validRegisterRequest())

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, created.ID, user.ID)
	assert.Equal(t, "chef_maria", user.Username)

	claims, err := svc.issuer.Verify(sessionToken)
	require.NoError(t, err)
	assert.Equal(t, created.ID.String(), claims.UserID)
	mockRepo.AssertExpectations(t)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RegisterRequest)
	}{
		{"missing username", func(r *RegisterRequest) { r.Username = "" }},
		{"missing email", func(r *RegisterRequest) { r.Email = "" }},
		{"missing password", func(r *RegisterRequest) { r.Password = "" }},
		{"missing full name", func(r *RegisterRequest) { r.FullName = "   " }},
		{"missing restaurant name", func(r *RegisterRequest) { r.RestaurantName = "" }},
		{"malformed email", func(r *RegisterRequest) { r.Email = "not-an-email" }},
		{"email without tld", func(r *RegisterRequest) { r.Email = "user@host" }},
		{"short password", func(r *RegisterRequest) { r.Password = "abc12" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockAuthRepo)
			svc, _ := newTestService(t, mockRepo)

			req := validRegisterRequest()
			tt.mutate(&req)

			_, _, err := svc.Register(context.Background(), req)

			assert.ErrorIs(t, err, api.ErrInvalidInput)
			mockRepo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
		})
	}
}

func TestRegister_DuplicateUser(t *testing.T) {
	mockRepo := new(MockAuthRepo)
	svc, _ := newTestService(t, mockRepo)
	ctx := context.Background()

	mockRepo.On("CreateUser", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("username or email already exists: %w", api.ErrConflict)).Once()

	_, _, err := svc.Register(ctx, validRegisterRequest())

	assert.ErrorIs(t, err, api.ErrConflict)
	mockRepo.AssertExpectations(t)
}

func TestLogin_Success(t *testing.T) {
	mockRepo := new(MockAuthRepo)
	svc, _ := newTestService(t, mockRepo)
	ctx := context.Background()

	user := storedUser("chef_maria", "maria@example.com", "s3cretpass")
	mockRepo.On("GetUserByUsername", mock.Anything, "chef_maria").Return(user, nil).Once()
	mockRepo.On("UpdateLastLogin", mock.Anything, user.ID).Return(nil).Once()

	summary, sessionToken, err := svc.Login(ctx, "chef_maria", "s3cretpass")

	require.NoError(t, err)
	assert.Equal(t, user.ID, summary.ID)

	claims, err := svc.issuer.Verify(sessionToken)
	require.NoError(t, err)
	assert.Equal(t, "chef_maria", claims.Username)
	mockRepo.AssertExpectations(t)
}

func TestLogin_GenericRejection(t *testing.T) {
	// Unknown user, wrong password and deactivated account must be
	// indistinguishable from the caller's perspective.
	inactive := storedUser("ghost", "ghost@example.com", "s3cretpass")
	inactive.IsActive = false

	tests := []struct {
		name     string
		username string
		password string
		setup    func(m *MockAuthRepo)
	}{
		{
			name: "unknown user", username: "nobody", password: "s3cretpass",
			setup: func(m *MockAuthRepo) {
				m.On("GetUserByUsername", mock.Anything, "nobody").Return(nil, api.ErrNotFound).Once()
			},
		},
		{
			name: "wrong password", username: "chef_maria", password: "wrongpass",
			setup: func(m *MockAuthRepo) {
				m.On("GetUserByUsername", mock.Anything, "chef_maria").
					Return(storedUser("chef_maria", "maria@example.com", "s3cretpass"), nil).Once()
			},
		},
		{
			name: "deactivated account", username: "ghost", password: "s3cretpass",
			setup: func(m *MockAuthRepo) {
				m.On("GetUserByUsername", mock.Anything, "ghost").Return(inactive, nil).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockAuthRepo)
			svc, _ := newTestService(t, mockRepo)
			tt.setup(mockRepo)

			_, _, err := svc.Login(context.Background(), tt.username, tt.password)

			require.ErrorIs(t, err, api.ErrUnauthenticated)
			assert.Equal(t, "invalid username or password: "+api.ErrUnauthenticated.Error(), err.Error())
			mockRepo.AssertNotCalled(t, "UpdateLastLogin", mock.Anything, mock.Anything)
		})
	}
}

func TestLogin_LastLoginFailureIsNonFatal(t *testing.T) {
	mockRepo := new(MockAuthRepo)
	svc, _ := newTestService(t, mockRepo)
	ctx := context.Background()

	user := storedUser("chef_maria", "maria@example.com", "s3cretpass")
	mockRepo.On("GetUserByUsername", mock.Anything, "chef_maria").Return(user, nil).Once()
	mockRepo.On("UpdateLastLogin", mock.Anything, user.ID).Return(errors.New("db timeout")).Once()

	_, sessionToken, err := svc.Login(ctx, "chef_maria", "s3cretpass")

	require.NoError(t, err)
	assert.NotEmpty(t, sessionToken)
}

func TestRequestPasswordReset_Success(t *testing.T) {
	mockRepo := new(MockAuthRepo)
	svc, notifier := newTestService(t, mockRepo)
	ctx := context.Background()

	user := storedUser("chef_maria", "maria@example.com", "s3cretpass")
	mockRepo.On("GetUserByEmail", mock.Anything, "maria@example.com").Return(user, nil).Once()

	var persisted string
	mockRepo.On("CreateResetToken", mock.Anything, user.ID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) { persisted = args.String(2) }).
		Return(nil).Once()

	err := svc.RequestPasswordReset(ctx, "Maria@Example.com")
	require.NoError(t, err)

	select {
	case sent := <-notifier.sent:
		assert.Equal(t, persisted, sent)
		assert.NotEmpty(t, sent)
	case <-time.After(2 * time.Second):
		t.Fatal("reset link was never dispatched")
	}
	mockRepo.AssertExpectations(t)
}

func TestRequestPasswordReset_UnknownEmailSilent(t *testing.T) {
	mockRepo := new(MockAuthRepo)
	svc, notifier := newTestService(t, mockRepo)
	ctx := context.Background()

	mockRepo.On("GetUserByEmail", mock.Anything, "nobody@example.com").Return(nil, api.ErrNotFound).Once()

	err := svc.RequestPasswordReset(ctx, "nobody@example.com")

	require.NoError(t, err)
	mockRepo.AssertNotCalled(t, "CreateResetToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	select {
	case <-notifier.sent:
		t.Fatal("no link should be sent for an unknown email")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRequestPasswordReset_DeactivatedAccountSilent(t *testing.T) {
	mockRepo := new(MockAuthRepo)
	svc, _ := newTestService(t, mockRepo)
	ctx := context.Background()

	user := storedUser("ghost", "ghost@example.com", "s3cretpass")
	user.IsActive = false
	mockRepo.On("GetUserByEmail", mock.Anything, "ghost@example.com").Return(user, nil).Once()

	err := svc.RequestPasswordReset(ctx, "ghost@example.com")

	require.NoError(t, err)
	mockRepo.AssertNotCalled(t, "CreateResetToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumePasswordReset_Success(t *testing.T) {
	mockRepo := new(MockAuthRepo)
	svc, _ := newTestService(t, mockRepo)
	ctx := context.Background()

	mockRepo.On("ResetPassword", mock.Anything, "reset-token-abc", mock.MatchedBy(func(hash string) bool {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte("newpassword1")) == nil
	})).Return(nil).Once()

	err := svc.ConsumePasswordReset(ctx, "reset-token-abc", "newpassword1")

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestConsumePasswordReset_InvalidToken(t *testing.T) {
	mockRepo := new(MockAuthRepo)
	svc, _ := newTestService(t, mockRepo)
	ctx := context.Background()

	mockRepo.On("ResetPassword", mock.Anything, "spent-token", mock.AnythingOfType("string")).
		Return(api.ErrUnauthenticated).Once()

	err := svc.ConsumePasswordReset(ctx, "spent-token", "newpassword1")

	assert.ErrorIs(t, err, api.ErrUnauthenticated)
}

func TestConsumePasswordReset_Validation(t *testing.T) {
	mockRepo := new(MockAuthRepo)
	svc, _ := newTestService(t, mockRepo)
	ctx := context.Background()

	err := svc.ConsumePasswordReset(ctx, "", "newpassword1")
	assert.ErrorIs(t, err, api.ErrInvalidInput)

	err = svc.ConsumePasswordReset(ctx, "some-token", "short")
	assert.ErrorIs(t, err, api.ErrInvalidInput)

	mockRepo.AssertNotCalled(t, "ResetPassword", mock.Anything, mock.Anything, mock.Anything)
}

func TestProfile_DeactivatedIsNotFound(t *testing.T) {
	mockRepo := new(MockAuthRepo)
	svc, _ := newTestService(t, mockRepo)
	ctx := context.Background()

	user := storedUser("ghost", "ghost@example.com", "s3cretpass")
	user.IsActive = false
	mockRepo.On("GetUserByUsername", mock.Anything, "ghost").Return(user, nil).Once()

	_, err := svc.Profile(ctx, "ghost")

	assert.ErrorIs(t, err, api.ErrNotFound)
}
