package auth

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	manager := NewTokenManager("test-secret", 30)
	identity := domain.Identity{TenantID: "acme", UserID: "a1", Role: domain.RoleAgent}

	tokenStr, expiresAt, err := manager.GenerateToken(identity)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), expiresAt, 5*time.Second)

	claims, err := manager.ParseToken(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, identity, claims.Identity())
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenManager("secret-a", 30)
	verifier := NewTokenManager("secret-b", 30)

	tokenStr, _, err := issuer.GenerateToken(domain.Identity{TenantID: "acme", UserID: "c1", Role: domain.RoleCustomer})
	require.NoError(t, err)

	_, err = verifier.ParseToken(tokenStr)
	assert.Error(t, err)
}

func TestTokenRejectsExpired(t *testing.T) {
	manager := NewTokenManager("test-secret", 30)

	claims := &Claims{
		TenantID: "acme",
		Role:     domain.RoleCustomer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "c1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = manager.ParseToken(tokenStr)
	assert.Error(t, err)
}

func TestTokenRejectsMissingTenant(t *testing.T) {
	manager := NewTokenManager("test-secret", 30)

	claims := &Claims{
		Role: domain.RoleCustomer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "c1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = manager.ParseToken(tokenStr)
	assert.Error(t, err)
}

func TestTokenRejectsWrongSigningMethod(t *testing.T) {
	manager := NewTokenManager("test-secret", 30)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"tenant": "acme",
		"sub":    "c1",
		"role":   "customer",
	})
	tokenStr, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = manager.ParseToken(tokenStr)
	assert.Error(t, err)
}
