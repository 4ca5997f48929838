package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/race"
	"github.com/slalomtime/racesync/internal/server/faults"
)

type pinRequest struct {
	Pin      string `json:"pin"`
	DeviceID string `json:"deviceId"`
	Role     string `json:"role"`
}

type pinResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleSubmitPin(c echo.Context) error {
	var req pinRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, common.ErrValidation)
	}

	token, err := s.gate.SubmitPin(c.Request().Context(), req.Pin, req.DeviceID, req.Role)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pinResponse{Token: token})
}

func (s *Server) handleListRaces(c echo.Context) error {
	list, err := s.races.List(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"races": list})
}

func (s *Server) handleDeleteRace(c echo.Context) error {
	if err := s.races.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type heartbeatRequest struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

func (s *Server) handleHeartbeat(c echo.Context) error {
	var req heartbeatRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, common.ErrValidation)
	}

	ctx := c.Request().Context()
	raceID := c.Param("id")
	if err := s.registry.Heartbeat(ctx, raceID, req.DeviceID, req.DeviceName); err != nil {
		return writeError(c, err)
	}

	active, err := s.registry.CountActive(ctx, raceID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"activeDevices": active})
}

type addEntryResponse struct {
	Duplicate bool          `json:"duplicate"`
	Document  race.Document `json:"document"`
}

func (s *Server) handleAddEntry(c echo.Context) error {
	var entry race.Entry
	if err := c.Bind(&entry); err != nil {
		return writeError(c, common.ErrValidation)
	}

	doc, duplicate, err := s.entries.Add(c.Request().Context(), c.Param("id"), entry)
	if err != nil {
		return writeError(c, err)
	}
	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
	}
	return c.JSON(status, addEntryResponse{Duplicate: duplicate, Document: doc})
}

func (s *Server) handleHighestBib(c echo.Context) error {
	highest, err := s.entries.HighestBib(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"highestBib": highest})
}

func (s *Server) handlePullFaults(c echo.Context) error {
	q := faults.PullQuery{
		DeviceID:  c.QueryParam("deviceId"),
		Role:      c.QueryParam("role"),
		GateStart: faults.ParseGateParam(c.QueryParam("gateStart")),
		GateEnd:   faults.ParseGateParam(c.QueryParam("gateEnd")),
		GateColor: c.QueryParam("gateColor"),
		Ready:     c.QueryParam("ready") == "true",
	}

	res, err := s.faults.Pull(c.Request().Context(), c.Param("id"), q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handlePushFault(c echo.Context) error {
	var fault race.Fault
	if err := c.Bind(&fault); err != nil {
		return writeError(c, common.ErrValidation)
	}

	stored, err := s.faults.Push(c.Request().Context(), c.Param("id"), fault)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, stored)
}

// Fault deletion is the one destructive operation gated on a role: only a
// chief judge's token passes.
func (s *Server) handleDeleteFault(c echo.Context) error {
	decision := decisionFrom(c)
	if err := decision.RequireRole(race.RoleChiefJudge); err != nil {
		return writeError(c, err)
	}

	err := s.faults.Delete(c.Request().Context(),
		c.Param("id"),
		c.Param("faultID"),
		c.QueryParam("deviceId"),
		c.QueryParam("deviceName"),
	)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
}
