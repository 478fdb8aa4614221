package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/parceltrace/parceltrace/pkg/models"
)

const (
	principalKey     = "principal"
	correlationIDKey = "correlation_id"
)

// securityHeaders sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// correlation attaches a correlation id to every request; it travels in
// the response envelope and the error logs.
func correlation() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get("X-Correlation-Id")
			if id == "" {
				id = uuid.New().String()
			}
			c.Set(correlationIDKey, id)
			c.Response().Header().Set("X-Correlation-Id", id)
			return next(c)
		}
	}
}

// correlationID reads the request's correlation id.
func correlationID(c *echo.Context) string {
	if id, ok := c.Get(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// requireAuth authenticates the request with the configured strategy
// and stores the Principal.
func requireAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			p, err := auth.Authenticate(c.Request())
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					return c.JSON(http.StatusUnauthorized, &Envelope{
						Success:       false,
						Code:          "UNAUTHENTICATED",
						Message:       "missing or invalid credentials",
						CorrelationID: correlationID(c),
					})
				}
				return mapError(c, err)
			}
			c.Set(principalKey, p)
			return next(c)
		}
	}
}

// requireRole rejects callers whose role is not in the allowed set.
// This is the coarse filter only — the delivery contract remains the
// source of truth for on-ledger operations.
func requireRole(roles ...models.Role) echo.MiddlewareFunc {
	allowed := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			p := principal(c)
			if p == nil || !allowed[p.Role] {
				return c.JSON(http.StatusForbidden, &Envelope{
					Success:       false,
					Code:          "NOT_AUTHORIZED",
					Message:       "role not permitted for this operation",
					CorrelationID: correlationID(c),
				})
			}
			return next(c)
		}
	}
}

// principal reads the authenticated caller from the request context.
func principal(c *echo.Context) *Principal {
	p, _ := c.Get(principalKey).(*Principal)
	return p
}
