package api

import (
	"TradeDesk/internal/service/ratelimit"
	xhttp "TradeDesk/pkg/http"

	"github.com/labstack/echo/v4"
)

// RateLimit rejects requests once the client IP runs out of tokens. A nil
// limiter lets everything through.
func RateLimit(l *ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if l != nil && !l.Allow(c.RealIP()) {
				return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many analysis requests, slow down"))
			}
			return next(c)
		}
	}
}
