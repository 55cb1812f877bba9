package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/nelson-gpt/backend/internal/api/handlers"
	"github.com/nelson-gpt/backend/internal/metrics"
)

type Handlers struct {
	Query     *handlers.QueryHandler
	Context   *handlers.ContextHandler
	Records   *handlers.RecordsHandler
	Knowledge *handlers.KnowledgeHandler
	Documents *handlers.DocumentHandler
	WebSocket *handlers.WebSocketHandler
	Health    *handlers.HealthHandler
}

// Register mounts every route. Nil handlers leave their routes unmounted.
func Register(app *fiber.App, h Handlers) {
	api := app.Group("/api/v1")

	if h.Health != nil {
		api.Get("/health", h.Health.Health)
		api.Get("/ready", h.Health.Ready)
	}

	if h.Query != nil {
		api.Post("/query", h.Query.HandleQuery)
		api.Get("/query/history", h.Query.GetQueryHistory)
	}

	if h.Context != nil {
		api.Post("/context", h.Context.Dispatch)
		api.Get("/sessions/:id/context", h.Context.Get)
		api.Put("/sessions/:id/context", h.Context.Update)
		api.Delete("/sessions/:id/context", h.Context.Clear)
		api.Post("/sessions/:id/context/summarize", h.Context.Summarize)
	}

	if h.Records != nil {
		api.Get("/workflows/:id", h.Records.GetWorkflow)
		api.Get("/sessions/:id/safety-alerts", h.Records.ListSafetyAlerts)
		api.Post("/safety-alerts/:id/acknowledge", h.Records.AcknowledgeSafetyAlert)
	}

	if h.Knowledge != nil {
		api.Post("/knowledge/search", h.Knowledge.Search)
	}

	if h.Documents != nil {
		api.Post("/documents", h.Documents.UploadDocument)
	}

	if h.WebSocket != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/query", websocket.New(h.WebSocket.HandleConnection))
	}

	app.Get("/metrics", metrics.MetricsHandler())
}
