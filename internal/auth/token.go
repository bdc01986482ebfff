package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
)

// TokenManager handles issuing and validating JWT tokens. Tokens are normally
// minted by the account platform; the local issuer exists for tests and
// development tooling, with the shared secret keeping both sides in agreement.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute}
}

// Claims describes the JWT payload. Subject carries the user id; tenant and
// role ride in private claims.
type Claims struct {
	TenantID string      `json:"tenant"`
	Role     domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity converts validated claims into the caller identity used across
// services.
func (c *Claims) Identity() domain.Identity {
	return domain.Identity{
		TenantID: c.TenantID,
		UserID:   c.Subject,
		Role:     c.Role,
	}
}

// GenerateToken builds and signs a JWT for the given identity.
func (tm *TokenManager) GenerateToken(identity domain.Identity) (string, time.Time, error) {
	expiresAt := time.Now().Add(tm.ttl)
	claims := &Claims{
		TenantID: identity.TenantID,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.TenantID == "" || claims.Subject == "" {
		return nil, errors.New("token missing tenant or subject")
	}
	return claims, nil
}
