package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
	apperrors "github.com/kzinvogon/apoyar-chat/pkg/util"
)

// IdentityKey is the Locals key holding the authenticated identity. Fiber
// copies locals onto upgraded websocket connections, so the websocket handler
// reads the same key.
const IdentityKey = "auth_identity"

// AuthMiddleware validates bearer tokens and stores the caller identity in
// request locals. Identities are self-contained in the token claims; the
// account platform owning the users is a separate service.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes. Browser websocket
// clients cannot set headers on the upgrade request, so a token query
// parameter is accepted as a fallback.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	tokenStr := bearerToken(c)
	if tokenStr == "" {
		tokenStr = c.Query("token")
	}
	if tokenStr == "" {
		return apperrors.NewUnauthorized("missing credentials")
	}

	claims, err := m.tokens.ParseToken(tokenStr)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	c.Locals(IdentityKey, claims.Identity())
	return c.Next()
}

func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// IdentityFromContext retrieves the authenticated caller.
func IdentityFromContext(c *fiber.Ctx) (domain.Identity, bool) {
	val := c.Locals(IdentityKey)
	if val == nil {
		return domain.Identity{}, false
	}
	identity, ok := val.(domain.Identity)
	return identity, ok
}
