package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UserAuth represents the core user entity in the domain.
type UserAuth struct {
	ID             uuid.UUID       `json:"id" example:"d290f1ee-6c54-4b01-90e6-d701748f0851"`
	Username       string          `json:"username" example:"johndoe"`
	Email          string          `json:"email" example:"john.doe@example.com"`
	PasswordHash   string          `json:"-"` // Hashed password (never exposed).
	FullName       string          `json:"full_name"`
	RestaurantName string          `json:"restaurant_name"`
	RestaurantType string          `json:"restaurant_type"`
	UserPosition   string          `json:"user_position"`
	KitchenProduce json.RawMessage `json:"-"` // Opaque produce-list attachment.
	BarProduce     json.RawMessage `json:"-"` // Opaque produce-list attachment.
	IsActive       bool            `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	LastLogin      *time.Time      `json:"last_login,omitempty"`
}

// Summary returns the caller-facing projection of a user record.
func (u *UserAuth) Summary() UserSummary {
	return UserSummary{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		FullName:       u.FullName,
		RestaurantName: u.RestaurantName,
		RestaurantType: u.RestaurantType,
		UserPosition:   u.UserPosition,
	}
}

// UserSummary is the profile shape returned by register/login responses.
type UserSummary struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	FullName       string    `json:"fullName"`
	RestaurantName string    `json:"restaurantName"`
	RestaurantType string    `json:"restaurantType"`
	UserPosition   string    `json:"userPosition"`
}

// PasswordResetToken is the persisted single-use reset artifact.
type PasswordResetToken struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}
