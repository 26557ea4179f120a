package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryWindow = time.Hour
	maxHistoryWindow     = 24 * time.Hour

	errInvalidWindow = "invalid 'window'; use a duration like 30m or 2h, at most 24h"
	errReading       = "failed to read telemetry"
)

// @Summary      List reservoirs
// @Tags         reservoirs
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, reservoirs"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/reservoirs [get]
// @Security     BearerAuth
func (h *Handler) listReservoirs(c *gin.Context) {
	list := h.services.Monitoring.Reservoirs()
	c.JSON(http.StatusOK, gin.H{
		"count":      len(list),
		"reservoirs": list,
	})
}

// @Summary      Latest reading
// @Tags         reservoirs
// @Produce      json
// @Param        id   path  string  true  "Reservoir id"
// @Success      200  {object}  models.Reading
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/reservoirs/{id}/reading [get]
// @Security     BearerAuth
func (h *Handler) getReading(c *gin.Context) {
	id := c.Param("id")
	r, err := h.services.Monitoring.Reading(c.Request.Context(), id)
	if err != nil {
		if code, known := errorStatus(err); known {
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusServiceUnavailable, errReading, "reading_failed", err, "reservoir", id)
		return
	}
	c.JSON(http.StatusOK, r)
}

// @Summary      Reading history
// @Tags         reservoirs
// @Produce      json
// @Param        id      path   string  true   "Reservoir id"
// @Param        window  query  string  false  "Look-back window"  example(30m)
// @Success      200  {object}  map[string]interface{}  "count, readings"
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/reservoirs/{id}/history [get]
// @Security     BearerAuth
func (h *Handler) getHistory(c *gin.Context) {
	id := c.Param("id")
	window := defaultHistoryWindow
	if s := c.Query("window"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 || d > maxHistoryWindow {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidWindow})
			return
		}
		window = d
	}
	readings, err := h.services.Monitoring.History(c.Request.Context(), id, window)
	if err != nil {
		if code, known := errorStatus(err); known {
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusServiceUnavailable, errReading, "history_failed", err, "reservoir", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(readings),
		"readings": readings,
	})
}

// @Summary      Decision outcomes
// @Tags         reservoirs
// @Produce      json
// @Param        id   path  string  true  "Reservoir id"
// @Success      200  {object}  service.LearningReport
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/reservoirs/{id}/learning [get]
// @Security     BearerAuth
func (h *Handler) getLearning(c *gin.Context) {
	report, err := h.services.Monitoring.Learning(c.Param("id"))
	if err != nil {
		code, _ := errorStatus(err)
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
