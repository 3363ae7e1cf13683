package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const identityKey = "auth.identity"

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Role    string
}

type MiddlewareConfig struct {
	// Secret verifies HS256 bearer tokens. Empty disables bearer auth.
	Secret string
	// TrustGatewayHeaders accepts X-User-Id/X-Role set by the API gateway.
	TrustGatewayHeaders bool
	// Skip reports routes that authenticate differently (webhooks, health).
	Skip func(echo.Context) bool
}

// Middleware resolves the caller identity. Requests without credentials pass
// through anonymously; handlers decide whether an identity is required.
func Middleware(cfg MiddlewareConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skip != nil && cfg.Skip(c) {
				return next(c)
			}
			req := c.Request()

			if authz := req.Header.Get("Authorization"); authz != "" && cfg.Secret != "" {
				token, ok := strings.CutPrefix(authz, "Bearer ")
				if !ok {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
				}
				claims, err := ParseAndVerifyHS256(token, cfg.Secret)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
				c.Set(identityKey, Identity{Subject: claims.Subject, Role: claims.Role})
				return next(c)
			}

			if cfg.TrustGatewayHeaders {
				userID := strings.TrimSpace(req.Header.Get("X-User-Id"))
				role := strings.TrimSpace(req.Header.Get("X-Role"))
				if userID != "" && role != "" {
					c.Set(identityKey, Identity{Subject: userID, Role: role})
				}
			}
			return next(c)
		}
	}
}

func IdentityFrom(c echo.Context) (Identity, bool) {
	id, ok := c.Get(identityKey).(Identity)
	return id, ok
}
