package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"controlling_reservoir/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	errFromInvalid  = "invalid 'from' time; use RFC3339 or YYYY-MM-DD"
	errToInvalid    = "invalid 'to' time; use RFC3339 or YYYY-MM-DD"
	errLimitInvalid = "invalid 'limit'; use a positive integer"

	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"

	defaultRecentLimit = 50
)

// isDateOnly reports whether the query string represents a date without time component.
func isDateOnly(s string) bool {
	return !strings.ContainsAny(s, "T ")
}

// @Summary      List events
// @Description  Filter events by date (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD'). If 'to' is date-only, it is treated as end-of-day inclusive (23:59:59.999999999Z).
// @Tags         events
// @Produce      json
// @Param        from          query   string  false  "Start of range"  example(2025-08-01)
// @Param        to            query   string  false  "End of range. Date-only treated as end of day."  example(2025-08-31)
// @Param        category      query   string  false  "Event category"  Enums(system,decision,action,alert,error,manual,evaluation,config)
// @Param        subject       query   string  false  "Reservoir or actuator id"
// @Param        min_severity  query   string  false  "Lowest severity"  Enums(debug,info,warning,error,critical)
// @Param        limit         query   int     false  "Newest N events"
// @Param        source        query   string  false  "store or memory"  Enums(store,memory)
// @Success      200   {object}  map[string]interface{}  "count, events"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/events [get]
// @Security     BearerAuth
func (h *Handler) getEvents(c *gin.Context) {
	var (
		from time.Time
		to   time.Time
		err  error
	)
	if qs := c.Query("from"); qs != "" {
		from, err = parseQueryTime(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errFromInvalid})
			return
		}
	}
	// If the user didn't include a time component, treat "to" as the end of that day.
	if qs := c.Query("to"); qs != "" {
		to, err = parseQueryTime(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errToInvalid})
			return
		}
		if isDateOnly(qs) {
			to = to.Add(24*time.Hour - time.Nanosecond).UTC()
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'from' must be <= 'to'"})
		return
	}
	limit, ok := parseLimit(c, 0)
	if !ok {
		return
	}

	h.listEvents(c, service.LogFilter{
		From:        from,
		To:          to,
		Category:    c.Query("category"),
		Subject:     c.Query("subject"),
		MinSeverity: c.Query("min_severity"),
		Limit:       limit,
		Source:      c.Query("source"),
	})
}

// @Summary      Recent events
// @Description  Newest events held in memory by the running process.
// @Tags         events
// @Produce      json
// @Param        limit         query   int     false  "Newest N events"  default(50)
// @Param        min_severity  query   string  false  "Lowest severity"  Enums(debug,info,warning,error,critical)
// @Success      200   {object}  map[string]interface{}  "count, events"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/events/recent [get]
// @Security     BearerAuth
func (h *Handler) getRecentEvents(c *gin.Context) {
	limit, ok := parseLimit(c, defaultRecentLimit)
	if !ok {
		return
	}
	h.listEvents(c, service.LogFilter{
		MinSeverity: c.DefaultQuery("min_severity", "info"),
		Limit:       limit,
		Source:      service.SourceMemory,
	})
}

func (h *Handler) listEvents(c *gin.Context, f service.LogFilter) {
	events, err := h.services.EventLog.List(c.Request.Context(), f)
	if err != nil {
		if isFilterError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load events", "events_list_failed", err,
			"from", f.From, "to", f.To, "category", f.Category)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

// isFilterError reports whether err comes from validating the query rather than the store.
func isFilterError(err error) bool {
	var fe *service.FilterError
	return errors.As(err, &fe)
}

func parseLimit(c *gin.Context, def int) (int, bool) {
	s := c.Query("limit")
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errLimitInvalid})
		return 0, false
	}
	return n, true
}

func parseQueryTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, layoutDateTime, layoutDate} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf(
		"invalid time format %q, expected one of: "+
			"RFC3339 (e.g. 2025-08-27T15:04:05Z), "+
			"'YYYY-MM-DD HH:MM:SS', "+
			"'YYYY-MM-DD'",
		s,
	)
}
