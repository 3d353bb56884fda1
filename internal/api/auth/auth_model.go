package auth

import (
	"encoding/json"

	"github.com/kitchenguard/kitchenguard/internal/types"
)

// RegisterRequest represents the register request body. Field names mirror
// the client contract (camelCase).
type RegisterRequest struct {
	Username           string          `json:"username"`
	Email              string          `json:"email"`
	Password           string          `json:"password"`
	FullName           string          `json:"fullName"`
	RestaurantName     string          `json:"restaurantName"`
	RestaurantType     string          `json:"restaurantType"`
	UserPosition       string          `json:"userPosition"`
	KitchenProduceList json.RawMessage `json:"kitchenProduceList,omitempty"`
	BarProduceList     json.RawMessage `json:"barProduceList,omitempty"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionResponse is returned by both register and login: a user summary
// plus a freshly issued session token.
type SessionResponse struct {
	Message string            `json:"message"`
	Token   string            `json:"token"`
	User    types.UserSummary `json:"user"`
}

// ResetRequest asks for a password-reset link to be sent.
type ResetRequest struct {
	Email string `json:"email"`
}

// ResetConfirmRequest consumes a reset token with a replacement password.
type ResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// VerifyTokenRequest carries a session token for explicit validation.
type VerifyTokenRequest struct {
	Token string `json:"token"`
}

// VerifyTokenResponse reports the validation outcome.
type VerifyTokenResponse struct {
	Valid    bool   `json:"valid"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// Response is a generic success/message envelope.
type Response struct {
	Message string `json:"message"`
}
