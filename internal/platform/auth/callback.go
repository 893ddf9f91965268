package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	// CertsPath is the gateway endpoint serving the JWKS used to sign
	// callback tokens.
	CertsPath = "/gateway/v3/certs"

	// callbackAudience is the audience the gateway stamps on callback tokens.
	callbackAudience = "account"

	jwksCacheTTL = 5 * time.Minute
)

// CallbackConfig configures verification of inbound gateway callbacks.
type CallbackConfig struct {
	// GatewayURL is the gateway base URL; the JWKS endpoint is derived
	// from it.
	GatewayURL string
	// SkipVerify disables token verification. Only sensible against a
	// local mock gateway that does not sign its callbacks.
	SkipVerify bool
}

// CallbackAuth returns middleware that verifies the bearer token the gateway
// attaches to callback requests. Tokens are RS256-signed and verified against
// the gateway's published JWKS.
func CallbackAuth(cfg CallbackConfig) echo.MiddlewareFunc {
	cache := NewJWKSCache(strings.TrimRight(cfg.GatewayURL, "/")+CertsPath, jwksCacheTTL)

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return cache.GetKey(kid)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.SkipVerify {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			token, err := jwt.Parse(parts[1], keyFunc,
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithAudience(callbackAudience),
			)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid callback token")
			}

			return next(c)
		}
	}
}
