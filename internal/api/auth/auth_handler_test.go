package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kitchenguard/kitchenguard/internal/api"
	"github.com/kitchenguard/kitchenguard/internal/types"
)

// MockAuthService is a mock implementation of AuthService.
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Register(ctx context.Context, req RegisterRequest) (*types.UserSummary, string, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(*types.UserSummary), args.String(1), args.Error(2)
}

func (m *MockAuthService) Login(ctx context.Context, username, password string) (*types.UserSummary, string, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(*types.UserSummary), args.String(1), args.Error(2)
}

func (m *MockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockAuthService) ConsumePasswordReset(ctx context.Context, resetToken, newPassword string) error {
	args := m.Called(ctx, resetToken, newPassword)
	return args.Error(0)
}

func (m *MockAuthService) Profile(ctx context.Context, username string) (*types.UserSummary, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.UserSummary), args.Error(1)
}

func newTestHandler(t *testing.T) (*AuthHandler, *MockAuthService) {
	t.Helper()
	mockSvc := new(MockAuthService)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthHandler(mockSvc, testIssuer(t), logger), mockSvc
}

func decodeError(t *testing.T, body *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(body.Body).Decode(&envelope))
	return envelope.Error
}

func TestHandlerRegister_Created(t *testing.T) {
	h, mockSvc := newTestHandler(t)

	summary := &types.UserSummary{ID: uuid.New(), Username: "chef_maria", Email: "maria@example.com"}
	mockSvc.On("Register", mock.Anything, mock.AnythingOfType("RegisterRequest")).
		Return(summary, "signed.jwt.token", nil).Once()

	body := `{"username":"chef_maria","email":"maria@example.com","password":"s3cretpass",
	          "fullName":"Maria Santos","restaurantName":"La Cocina"}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "signed.jwt.token", resp.Token)
	assert.Equal(t, "chef_maria", resp.User.Username)
	mockSvc.AssertExpectations(t)
}

func TestHandlerRegister_Conflict(t *testing.T) {
	h, mockSvc := newTestHandler(t)

	mockSvc.On("Register", mock.Anything, mock.Anything).
		Return(nil, "", api.ErrConflict).Once()

	body := `{"username":"chef_maria","email":"maria@example.com","password":"s3cretpass",
	          "fullName":"Maria Santos","restaurantName":"La Cocina"}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Username or email already exists", decodeError(t, rec))
}

func TestHandlerRegister_MalformedBody(t *testing.T) {
	h, mockSvc := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"username":`))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	mockSvc.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestHandlerLogin_Unauthorized(t *testing.T) {
	h, mockSvc := newTestHandler(t)

	mockSvc.On("Login", mock.Anything, "chef_maria", "wrongpass").
		Return(nil, "", api.ErrUnauthenticated).Once()

	body := `{"username":"chef_maria","password":"wrongpass"}`
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid username or password", decodeError(t, rec))
}

func TestHandlerPasswordResetRequest_AlwaysOK(t *testing.T) {
	h, mockSvc := newTestHandler(t)

	mockSvc.On("RequestPasswordReset", mock.Anything, "nobody@example.com").Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/reset-password",
		strings.NewReader(`{"email":"nobody@example.com"}`))
	rec := httptest.NewRecorder()

	h.RequestPasswordReset(rec, req)

	// The response body is identical whether or not the account exists.
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp.Message, "If an account exists")
}

func TestHandlerConfirmPasswordReset_InvalidToken(t *testing.T) {
	h, mockSvc := newTestHandler(t)

	mockSvc.On("ConsumePasswordReset", mock.Anything, "spent", "newpassword1").
		Return(api.ErrUnauthenticated).Once()

	req := httptest.NewRequest(http.MethodPost, "/reset-password/confirm",
		strings.NewReader(`{"token":"spent","newPassword":"newpassword1"}`))
	rec := httptest.NewRecorder()

	h.ConfirmPasswordReset(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired reset token", decodeError(t, rec))
}

func TestHandlerVerifyToken(t *testing.T) {
	h, _ := newTestHandler(t)

	userID := uuid.New()
	valid, err := h.issuer.Issue(userID, "chef_maria")
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		wantValid bool
	}{
		{"valid token", valid, true},
		{"garbage token", "not.a.jwt", false},
		{"empty token", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(VerifyTokenRequest{Token: tt.token})
			req := httptest.NewRequest(http.MethodPost, "/verify-token", strings.NewReader(string(body)))
			rec := httptest.NewRecorder()

			h.VerifyToken(rec, req)

			// Verification failures are a valid=false payload, never an error status.
			require.Equal(t, http.StatusOK, rec.Code)
			var resp VerifyTokenResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantValid, resp.Valid)
			if tt.wantValid {
				assert.Equal(t, userID.String(), resp.UserID)
				assert.Equal(t, "chef_maria", resp.Username)
			}
		})
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer := testIssuer(t)

	valid, err := issuer.Issue(uuid.New(), "chef_maria")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(Authenticate(logger, issuer))
	r.Get("/profile", func(w http.ResponseWriter, req *http.Request) {
		username, ok := GetUsernameFromContext(req.Context())
		require.True(t, ok)
		w.Write([]byte(username))
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid bearer token", "Bearer " + valid, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "chef_maria", rec.Body.String())
			}
		})
	}
}
