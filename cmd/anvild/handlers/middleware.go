package handlers

import (
	"github.com/labstack/echo/v4"

	apierr "github.com/anvilworks/anvil/pkg/api/types/errors"
	"github.com/anvilworks/anvil/pkg/domain/ratelimit"
)

// header carrying the caller's API key.
const HeaderAPIKey = "X-Anvil-API-Key"

// RateLimit rejects requests whose identity has no token left.
// Rejection happens before the handler; no state mutates on 429.
func RateLimit(limiter ratelimit.Limiter, identify func(echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.TryConsume(identify(c)) {
				return apierr.TooManyRequests("slow down and retry later")
			}
			return next(c)
		}
	}
}

// APIKeyIdentity keys the limiter by API key, falling back to the
// remote address for anonymous callers.
func APIKeyIdentity(c echo.Context) string {
	if key := c.Request().Header.Get(HeaderAPIKey); key != "" {
		return key
	}
	return c.RealIP()
}

// NodeIdentity keys the limiter by the compact node id in the path.
func NodeIdentity(paramKey string) func(echo.Context) string {
	return func(c echo.Context) string {
		if id := c.Param(paramKey); id != "" {
			return id
		}
		return c.RealIP()
	}
}
