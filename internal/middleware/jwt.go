package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-exam-api/internal/auth"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// Locals keys populated by JWTProtected.
const (
	LocalUserID   = "user_id"
	LocalUserRole = "user_role"
	LocalUsername = "username"
	LocalToken    = "auth_token"
)

// JWTProtected returns a middleware that validates HMAC signed bearer tokens.
// The token is read from the Authorization header, falling back to the
// access_token query parameter. When registry is non-nil revoked tokens are rejected.
func JWTProtected(secret string, registry auth.TokenRegistry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, err := bearerToken(c)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token claims")
		}

		identity := tokenFromClaims(claims)
		if identity.Username == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "token has no username")
		}

		if registry != nil {
			if err := registry.Check(c.UserContext(), identity); err != nil {
				if errors.Is(err, auth.ErrTokenRevoked) {
					return utils.SendError(c, fiber.StatusUnauthorized, "token revoked")
				}
				return utils.SendError(c, fiber.StatusServiceUnavailable, "token registry unavailable")
			}
		}

		if userID := extractUserIDFromClaims(claims); userID != nil {
			c.Locals(LocalUserID, *userID)
		}
		if role := extractUserRoleFromClaims(claims); role != "" {
			c.Locals(LocalUserRole, role)
		}
		c.Locals(LocalUsername, identity.Username)
		c.Locals(LocalToken, identity)

		return c.Next()
	}
}

// Logout revokes the token that authenticated the current request.
func Logout(registry auth.TokenRegistry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := c.Locals(LocalToken).(auth.Token)
		if !ok || registry == nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if identity.ID == "" {
			return utils.SendError(c, fiber.StatusBadRequest, "token has no id and cannot be revoked")
		}
		if err := registry.Revoke(c.UserContext(), identity); err != nil {
			return utils.SendError(c, fiber.StatusServiceUnavailable, "token registry unavailable")
		}
		return utils.SendSuccess(c, "token revoked", nil)
	}
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if authorization == "" {
		if query := strings.TrimSpace(c.Query("access_token")); query != "" {
			return query, nil
		}
		return "", errors.New("authorization header missing")
	}

	const bearer = "Bearer "
	if len(authorization) < len(bearer) || !strings.EqualFold(authorization[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization header")
	}

	tokenString := strings.TrimSpace(authorization[len(bearer):])
	if tokenString == "" {
		return "", errors.New("invalid token")
	}
	return tokenString, nil
}

func tokenFromClaims(claims jwt.MapClaims) auth.Token {
	identity := auth.Token{
		ID:       claimString(claims, "jti"),
		Username: extractUsernameFromClaims(claims),
	}
	if issued, err := claims.GetIssuedAt(); err == nil && issued != nil {
		identity.IssuedAt = issued.Time
	}
	if expires, err := claims.GetExpirationTime(); err == nil && expires != nil {
		identity.ExpiresAt = expires.Time
	}
	return identity
}

func extractUsernameFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"username", "preferred_username", "sub"} {
		if value := claimString(claims, key); value != "" {
			return value
		}
	}
	return ""
}

func claimString(claims jwt.MapClaims, key string) string {
	value, ok := claims[key]
	if !ok {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func extractUserIDFromClaims(claims jwt.MapClaims) *uint {
	keys := []string{"user_id", "id", "sub"}
	for _, key := range keys {
		if value, ok := claims[key]; ok {
			if normalized, err := normalizeUserID(value); err == nil {
				return &normalized
			}
		}
	}

	return nil
}

func normalizeUserID(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("invalid subject")
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, err
		}
		return uint(parsed), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("invalid subject")
		}
		return uint(v), nil
	default:
		return 0, fmt.Errorf("unsupported subject type")
	}
}

func extractUserRoleFromClaims(claims jwt.MapClaims) string {
	candidates := []string{"role", "roles"}
	for _, key := range candidates {
		if value, ok := claims[key]; ok {
			if role := normalizeRole(value); role != "" {
				return role
			}
		}
	}
	return ""
}

func normalizeRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				role := strings.ToLower(strings.TrimSpace(str))
				if role != "" {
					return role
				}
			}
		}
	default:
		return ""
	}
	return ""
}
