package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchenguard/kitchenguard/config"
)

func testConfig() config.JWTConfig {
	return config.JWTConfig{
		SecretKey:       "test-secret",
		SessionTokenTTL: 24 * time.Hour,
		Issuer:          "test-issuer",
		Audience:        "test-audience",
	}
}

func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewIssuer(testConfig())
	require.NoError(t, err)

	userID := uuid.New()
	tokenString, err := issuer.Issue(userID, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	claims, err := issuer.Verify(tokenString)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "test-issuer", claims.Issuer)
}

func TestVerifyRejectsEmptySecret(t *testing.T) {
	_, err := NewIssuer(config.JWTConfig{})
	assert.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	cfg := testConfig()
	issuer, err := NewIssuer(cfg)
	require.NoError(t, err)

	// Hand-craft a token whose expiry already passed, signed with the same secret.
	now := time.Now()
	claims := &Claims{
		UserID:   uuid.NewString(),
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.SecretKey))
	require.NoError(t, err)

	_, err = issuer.Verify(expired)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyJustBeforeExpiry(t *testing.T) {
	cfg := testConfig()
	issuer, err := NewIssuer(cfg)
	require.NoError(t, err)

	now := time.Now()
	claims := &Claims{
		UserID:   uuid.NewString(),
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-24 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Second)),
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
		},
	}
	almostExpired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.SecretKey))
	require.NoError(t, err)

	got, err := issuer.Verify(almostExpired)
	require.NoError(t, err)
	assert.Equal(t, claims.UserID, got.UserID)
}

func TestVerifyBadSignature(t *testing.T) {
	issuer, err := NewIssuer(testConfig())
	require.NoError(t, err)

	otherCfg := testConfig()
	otherCfg.SecretKey = "a-different-secret"
	other, err := NewIssuer(otherCfg)
	require.NoError(t, err)

	tokenString, err := other.Issue(uuid.New(), "mallory")
	require.NoError(t, err)

	_, err = issuer.Verify(tokenString)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMalformed(t *testing.T) {
	issuer, err := NewIssuer(testConfig())
	require.NoError(t, err)

	for _, garbage := range []string{"", "not-a-jwt", "a.b", "a.b.c.d", "eyJh.eyJh.sig"} {
		_, err := issuer.Verify(garbage)
		assert.ErrorIs(t, err, ErrInvalidToken, "input %q", garbage)
	}
}

func TestVerifyWrongIssuer(t *testing.T) {
	cfg := testConfig()
	issuer, err := NewIssuer(cfg)
	require.NoError(t, err)

	foreignCfg := cfg
	foreignCfg.Issuer = "someone-else"
	foreign, err := NewIssuer(foreignCfg)
	require.NoError(t, err)

	tokenString, err := foreign.Issue(uuid.New(), "alice")
	require.NoError(t, err)

	_, err = issuer.Verify(tokenString)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
