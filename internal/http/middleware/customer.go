package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/repository"
	echo "github.com/labstack/echo/v4"
)

const (
	HeaderCustomerID = "X-Customer-ID"
	ctxCustomerID    = "customer_id"
)

// CustomerIDFromCtx extracts the caller set by CustomerMiddleware.
func CustomerIDFromCtx(c echo.Context) (uuid.UUID, bool) {
	id, ok := c.Get(ctxCustomerID).(uuid.UUID)
	return id, ok
}

// CustomerMiddleware identifies the caller by the X-Customer-ID header. The
// customer must be known to the local replica.
func CustomerMiddleware(customers repository.CustomersRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := strings.TrimSpace(c.Request().Header.Get(HeaderCustomerID))
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing customer id"})
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid customer id"})
			}
			ok, err := customers.Exists(c.Request().Context(), nil, id)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unknown customer"})
			}
			c.Set(ctxCustomerID, id)
			return next(c)
		}
	}
}
