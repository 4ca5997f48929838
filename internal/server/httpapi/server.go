// Package httpapi exposes the synchronization engine over HTTP. Handlers
// translate between wire payloads and the domain services; every status code
// is derived from the shared sentinel errors.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/logging"
	"github.com/slalomtime/racesync/internal/server/auth"
	"github.com/slalomtime/racesync/internal/server/devices"
	"github.com/slalomtime/racesync/internal/server/entries"
	"github.com/slalomtime/racesync/internal/server/faults"
	"github.com/slalomtime/racesync/internal/server/races"
)

type Server struct {
	echo     *echo.Echo
	addr     string
	gate     *auth.Gate
	registry *devices.Registry
	races    *races.Service
	faults   *faults.Service
	entries  *entries.Service
	log      logging.Logger
}

func NewServer(
	addr string,
	slogger *slog.Logger,
	log logging.Logger,
	gate *auth.Gate,
	registry *devices.Registry,
	raceSvc *races.Service,
	faultSvc *faults.Service,
	entrySvc *entries.Service,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(slogger))
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		addr:     addr,
		gate:     gate,
		registry: registry,
		races:    raceSvc,
		faults:   faultSvc,
		entries:  entrySvc,
		log:      log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo

	e.POST("/api/auth/pin", s.handleSubmitPin)

	api := e.Group("/api", s.authMiddleware)
	api.GET("/races", s.handleListRaces)
	api.DELETE("/races/:id", s.handleDeleteRace)
	api.POST("/races/:id/heartbeat", s.handleHeartbeat)
	api.POST("/races/:id/entries", s.handleAddEntry)
	api.GET("/races/:id/highestBib", s.handleHighestBib)
	api.GET("/races/:id/faults", s.handlePullFaults)
	api.POST("/races/:id/faults", s.handlePushFault)
	api.DELETE("/races/:id/faults/:faultID", s.handleDeleteFault)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.echo.Shutdown(context.Background())
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// writeError maps a domain error onto an HTTP status.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrTokenExpired):
		return c.JSON(http.StatusUnauthorized, map[string]any{"error": "token expired", "expired": true})
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case errors.Is(err, common.ErrForbidden):
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, common.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, common.ErrRaceDeleted):
		return c.JSON(http.StatusGone, map[string]string{"error": err.Error()})
	case errors.Is(err, common.ErrConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, common.ErrValidation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
