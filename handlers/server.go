package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
)

// AppConfig - everything the relay's HTTP surface is built from
type AppConfig struct {
	Hub          *RelayHub
	Registry     *PeerRegistry
	Signals      *SignalBox
	Logs         LogHandlers
	AllowOrigins string
	AccessLog    bool // fiber request logging
}

// NewApp builds the relay server:
//
//	GET  /api/health
//	GET  /api/peers
//	GET  /api/logs/{recent,range,type,stats}
//	PUT  /api/rooms/:room/:kind, GET same, DELETE /api/rooms/:room
//	GET  /ws/:room?peer=<id>  (websocket upgrade)
func NewApp(cfg AppConfig) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	if cfg.AccessLog {
		app.Use(logger.New())
	}
	origins := cfg.AllowOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, PUT, DELETE, OPTIONS",
	}))

	api := app.Group("/api")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "OK",
			"clients": cfg.Hub.GetClientCount(),
			"peers":   cfg.Registry.Count(),
			"journal": cfg.Logs.Store != nil,
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	api.Get("/peers", func(c *fiber.Ctx) error {
		peers := cfg.Registry.All()
		return c.JSON(fiber.Map{
			"count": len(peers),
			"peers": peers,
		})
	})

	logsAPI := api.Group("/logs", cfg.Logs.available)
	logsAPI.Get("/recent", cfg.Logs.HandleGetRecentLogs)
	logsAPI.Get("/range", cfg.Logs.HandleGetLogsByTimeRange)
	logsAPI.Get("/type", cfg.Logs.HandleGetLogsByEventType)
	logsAPI.Get("/stats", cfg.Logs.HandleGetLogStats)

	rooms := api.Group("/rooms")
	rooms.Put("/:room/:kind", cfg.Signals.HandlePut)
	rooms.Get("/:room/:kind", cfg.Signals.HandleGet)
	rooms.Delete("/:room", cfg.Signals.HandleDelete)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/:room", websocket.New(cfg.Hub.HandleWebSocket))

	return app
}
