package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kitchenguard/kitchenguard/internal/api"
	"github.com/kitchenguard/kitchenguard/internal/api/token"
)

// AuthHandler handles HTTP requests for authentication operations.
type AuthHandler struct {
	authService AuthService
	issuer      *token.Issuer
	logger      *slog.Logger
}

func NewAuthHandler(authService AuthService, issuer *token.Issuer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		issuer:      issuer,
		logger:      logger,
	}
}

// Register creates a new user and returns a session token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, sessionToken, err := h.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, api.ErrInvalidInput):
			api.ErrorResponse(w, r, http.StatusBadRequest, trimmedMessage(err))
		case errors.Is(err, api.ErrConflict):
			api.ErrorResponse(w, r, http.StatusConflict, "Username or email already exists")
		default:
			h.logger.ErrorContext(r.Context(), "Registration failed", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Registration failed")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusCreated, SessionResponse{
		Message: "User registered successfully",
		Token:   sessionToken,
		User:    *user,
	})
}

// Login authenticates a user and returns a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, sessionToken, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, api.ErrInvalidInput):
			api.ErrorResponse(w, r, http.StatusBadRequest, "Username and password are required")
		case errors.Is(err, api.ErrUnauthenticated):
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid username or password")
		default:
			h.logger.ErrorContext(r.Context(), "Login failed", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, SessionResponse{
		Message: "Login successful",
		Token:   sessionToken,
		User:    *user,
	})
}

// RequestPasswordReset starts the reset flow. The response never reveals
// whether the email exists.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authService.RequestPasswordReset(r.Context(), req.Email); err != nil {
		if errors.Is(err, api.ErrInvalidInput) {
			api.ErrorResponse(w, r, http.StatusBadRequest, "Email is required")
			return
		}
		h.logger.ErrorContext(r.Context(), "Password reset request failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Password reset failed")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, Response{
		Message: "If an account exists with this email, you will receive password reset instructions",
	})
}

// ConfirmPasswordReset consumes a reset token with a new password.
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetConfirmRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authService.ConsumePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, api.ErrInvalidInput):
			api.ErrorResponse(w, r, http.StatusBadRequest, trimmedMessage(err))
		case errors.Is(err, api.ErrUnauthenticated):
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid or expired reset token")
		default:
			h.logger.ErrorContext(r.Context(), "Password reset failed", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Password reset failed")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, Response{Message: "Password updated successfully"})
}

// VerifyToken validates a session token on behalf of another service.
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req VerifyTokenRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	claims, err := h.issuer.Verify(req.Token)
	if err != nil {
		api.WriteJSONResponse(w, r, http.StatusOK, VerifyTokenResponse{Valid: false})
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, VerifyTokenResponse{
		Valid:    true,
		UserID:   claims.UserID,
		Username: claims.Username,
	})
}

// Profile returns the authenticated user's summary.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	username, ok := GetUsernameFromContext(r.Context())
	if !ok || username == "" {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.authService.Profile(r.Context(), username)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "User not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "Profile lookup failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Profile lookup failed")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, user)
}

// trimmedMessage strips the sentinel suffix from a wrapped validation error,
// leaving the human-readable prefix.
func trimmedMessage(err error) string {
	msg := err.Error()
	if idx := len(msg) - len(": "+api.ErrInvalidInput.Error()); idx > 0 && msg[idx:] == ": "+api.ErrInvalidInput.Error() {
		return msg[:idx]
	}
	return msg
}
