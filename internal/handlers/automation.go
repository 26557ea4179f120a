package handlers

import (
	"errors"
	"net/http"
	"time"

	"controlling_reservoir/internal/models"
	"controlling_reservoir/internal/service"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK      = "ok"
	statusStarted = "started"
	statusStopped = "stopped"

	errStartAutomation = "failed to start automation"
	errStopAutomation  = "automation did not stop cleanly"
	errOverride        = "manual override failed"
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// errorStatus maps service errors to HTTP codes. ok is false for unexpected errors.
func errorStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, service.ErrAlreadyRunning), errors.Is(err, service.ErrNotRunning),
		errors.Is(err, service.ErrNothingPending), errors.Is(err, service.ErrStillStopping):
		return http.StatusConflict, true
	case errors.Is(err, service.ErrUnknownReservoir):
		return http.StatusNotFound, true
	case errors.Is(err, service.ErrUnknownActuator):
		return http.StatusBadRequest, true
	}
	return http.StatusInternalServerError, false
}

// Respond with a status and include the automation status.
func (h *Handler) respondWithStatus(c *gin.Context, status string) {
	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"automation": h.services.Automation.Status(c.Request.Context()),
	})
}

// SafetyModeRequest is the body of the safety mode switch.
type SafetyModeRequest struct {
	Enabled *bool `json:"enabled" binding:"required" example:"true"`
}

// OverrideRequest is the body of a manual actuator command.
type OverrideRequest struct {
	ReservoirID string `json:"reservoir_id" binding:"required" example:"gagok"`
	ActuatorID  string `json:"actuator_id" binding:"required" example:"pump1"`
	On          *bool  `json:"on" binding:"required" example:"true"`
	// Run time in seconds; 0 leaves the pump running until switched off.
	DurationSec int `json:"duration_sec,omitempty" binding:"gte=0" example:"600"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Start automation
// @Tags         automation
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, automation"
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/automation/start [post]
// @Security     BearerAuth
func (h *Handler) startAutomation(c *gin.Context) {
	if err := h.services.Automation.Start(c.Request.Context()); err != nil {
		if code, known := errorStatus(err); known {
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errStartAutomation, "automation_start_failed", err)
		return
	}
	h.respondWithStatus(c, statusStarted)
}

// @Summary      Stop automation
// @Tags         automation
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/automation/stop [post]
// @Security     BearerAuth
func (h *Handler) stopAutomation(c *gin.Context) {
	if err := h.services.Automation.Stop(c.Request.Context()); err != nil {
		if code, known := errorStatus(err); known {
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errStopAutomation, "automation_stop_failed", err)
		return
	}
	h.respondWithStatus(c, statusStopped)
}

// @Summary      Automation status
// @Tags         automation
// @Produce      json
// @Success      200  {object}  models.AutomationStatus
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/automation/status [get]
// @Security     BearerAuth
func (h *Handler) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Automation.Status(c.Request.Context()))
}

// @Summary      Switch safety mode
// @Description  In safety mode only critical decisions run without approval
// @Tags         automation
// @Accept       json
// @Produce      json
// @Param        body  body   SafetyModeRequest  true  "Safety mode"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/automation/safety-mode [post]
// @Security     BearerAuth
func (h *Handler) setSafetyMode(c *gin.Context) {
	var req SafetyModeRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	h.services.Automation.SetSafetyMode(c.Request.Context(), *req.Enabled)
	c.JSON(http.StatusOK, gin.H{"safety_mode": *req.Enabled})
}

// @Summary      Manual override
// @Description  Switches one pump regardless of the current decision. Gateway failures return 502 with the result.
// @Tags         automation
// @Accept       json
// @Produce      json
// @Param        body  body   OverrideRequest  true  "Override"
// @Success      200   {object}  models.OverrideResult
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      502   {object}  models.OverrideResult
// @Router       /api/v1/automation/override [post]
// @Security     BearerAuth
func (h *Handler) manualOverride(c *gin.Context) {
	var req OverrideRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	res, err := h.services.Automation.ManualOverride(c.Request.Context(), models.OverrideRequest{
		ReservoirID: req.ReservoirID,
		ActuatorID:  req.ActuatorID,
		On:          *req.On,
		Duration:    time.Duration(req.DurationSec) * time.Second,
		Operator:    operator(c),
	})
	if err != nil {
		if code, known := errorStatus(err); known {
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errOverride, "manual_override_failed", err)
		return
	}
	if !res.Success {
		c.JSON(http.StatusBadGateway, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary      Approve held decision
// @Tags         automation
// @Produce      json
// @Param        id   path  string  true  "Reservoir id"
// @Success      200  {object}  models.Decision
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/automation/approve/{id} [post]
// @Security     BearerAuth
func (h *Handler) approvePending(c *gin.Context) {
	d, err := h.services.Automation.Approve(c.Request.Context(), c.Param("id"), operator(c))
	if err != nil {
		code, known := errorStatus(err)
		if !known {
			code = http.StatusBadGateway
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d)
}
