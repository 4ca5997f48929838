package httpapi

import (
	"github.com/labstack/echo/v4"

	"github.com/slalomtime/racesync/internal/server/auth"
)

const decisionContextKey = "racesync.auth.decision"

// authMiddleware runs the three-tier auth decision on every request and
// stashes the outcome for handlers that need role checks.
func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		decision, err := s.gate.Authorize(c.Request().Context(), c.Request().Header.Get("Authorization"))
		if err != nil {
			return writeError(c, err)
		}
		c.Set(decisionContextKey, decision)
		return next(c)
	}
}

func decisionFrom(c echo.Context) *auth.Decision {
	if d, ok := c.Get(decisionContextKey).(*auth.Decision); ok {
		return d
	}
	return &auth.Decision{Method: auth.MethodNone}
}
