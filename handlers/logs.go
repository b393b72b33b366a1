package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"homerobot/services"
)

const defaultRoom = "home"

// LogHandlers serves the drive journal. Store is nil when no database is
// configured, and every endpoint then answers 503.
type LogHandlers struct {
	Store services.JournalStore
}

func (h LogHandlers) available(c *fiber.Ctx) error {
	if h.Store == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "journal is disabled",
		})
	}
	return c.Next()
}

func queryLimit(c *fiber.Ctx) int {
	limit, err := strconv.Atoi(c.Query("limit", "100"))
	if err != nil || limit <= 0 {
		return 100
	}
	return limit
}

// HandleGetRecentLogs - newest journal rows of a room
func (h LogHandlers) HandleGetRecentLogs(c *fiber.Ctx) error {
	room := c.Query("room", defaultRoom)

	logs, err := h.Store.RecentLogs(room, queryLimit(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch logs",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"count":   len(logs),
		"logs":    logs,
	})
}

// HandleGetLogsByTimeRange - journal rows between start and end (RFC3339),
// the last 24 hours by default
func (h LogHandlers) HandleGetLogsByTimeRange(c *fiber.Ctx) error {
	room := c.Query("room", defaultRoom)

	end := time.Now()
	start := end.Add(-24 * time.Hour)
	if s := c.Query("start"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid start time format (use RFC3339)",
			})
		}
		start = parsed
	}
	if s := c.Query("end"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid end time format (use RFC3339)",
			})
		}
		end = parsed
	}

	logs, err := h.Store.LogsByTimeRange(room, start, end, queryLimit(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch logs",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"count":   len(logs),
		"time_range": fiber.Map{
			"start": start.Format(time.RFC3339),
			"end":   end.Format(time.RFC3339),
		},
		"logs": logs,
	})
}

// HandleGetLogsByEventType - journal rows with one event type
func (h LogHandlers) HandleGetLogsByEventType(c *fiber.Ctx) error {
	room := c.Query("room", defaultRoom)
	eventType := c.Query("event_type")
	if eventType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "event_type parameter is required",
		})
	}

	logs, err := h.Store.LogsByEventType(room, eventType, queryLimit(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch logs",
		})
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"count":      len(logs),
		"event_type": eventType,
		"logs":       logs,
	})
}

// HandleGetLogStats - per-event counts over the last `hours` hours
func (h LogHandlers) HandleGetLogStats(c *fiber.Ctx) error {
	room := c.Query("room", defaultRoom)
	hours, err := strconv.Atoi(c.Query("hours", "24"))
	if err != nil || hours <= 0 {
		hours = 24
	}

	stats, err := h.Store.LogStats(room, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch stats",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"stats":   stats,
	})
}
