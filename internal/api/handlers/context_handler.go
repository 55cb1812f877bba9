package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nelson-gpt/backend/internal/session"
)

type ContextService interface {
	Get(ctx context.Context, sessionID string) (*session.Context, error)
	Update(ctx context.Context, sessionID string, u session.Update) (*session.Context, error)
	Summarize(ctx context.Context, sessionID string, extra map[string]any) (*session.Summary, error)
	Clear(ctx context.Context, sessionID string) (time.Time, error)
}

type ContextHandler struct {
	manager ContextService
}

func NewContextHandler(manager ContextService) *ContextHandler {
	return &ContextHandler{manager: manager}
}

type contextRequest struct {
	Operation        string          `json:"operation"`
	SessionID        string          `json:"sessionId"`
	NewContext       json.RawMessage `json:"newContext"`
	ConversationData map[string]any  `json:"conversationData"`
}

// Dispatch serves the single-endpoint form: one POST carrying an operation
// name.
func (h *ContextHandler) Dispatch(c *fiber.Ctx) error {
	var req contextRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.SessionID == "" {
		return badRequest(c, "sessionId is required")
	}

	switch req.Operation {
	case "get":
		return h.get(c, req.SessionID)
	case "update":
		var u session.Update
		if len(req.NewContext) > 0 {
			if err := json.Unmarshal(req.NewContext, &u); err != nil {
				return badRequest(c, "newContext must be an object")
			}
		}
		return h.update(c, req.SessionID, u)
	case "summarize":
		return h.summarize(c, req.SessionID, req.ConversationData)
	case "clear":
		return h.clear(c, req.SessionID)
	}
	return badRequest(c, "Invalid operation. Use get, update, summarize or clear")
}

func (h *ContextHandler) Get(c *fiber.Ctx) error {
	return h.get(c, c.Params("id"))
}

func (h *ContextHandler) Update(c *fiber.Ctx) error {
	var u session.Update
	if err := c.BodyParser(&u); err != nil {
		return badRequest(c, "Invalid request body")
	}
	return h.update(c, c.Params("id"), u)
}

func (h *ContextHandler) Summarize(c *fiber.Ctx) error {
	var req struct {
		ConversationData map[string]any `json:"conversationData"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	return h.summarize(c, c.Params("id"), req.ConversationData)
}

func (h *ContextHandler) Clear(c *fiber.Ctx) error {
	return h.clear(c, c.Params("id"))
}

func (h *ContextHandler) get(c *fiber.Ctx, sessionID string) error {
	ctx, err := h.manager.Get(c.UserContext(), sessionID)
	if err != nil {
		return fail(c, err, "Session")
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"context":    ctx,
		"session_id": sessionID,
	})
}

func (h *ContextHandler) update(c *fiber.Ctx, sessionID string, u session.Update) error {
	ctx, err := h.manager.Update(c.UserContext(), sessionID, u)
	if err != nil {
		return fail(c, err, "Session")
	}
	return c.JSON(fiber.Map{
		"success":         true,
		"updated_context": ctx,
		"session_id":      sessionID,
	})
}

func (h *ContextHandler) summarize(c *fiber.Ctx, sessionID string, extra map[string]any) error {
	summary, err := h.manager.Summarize(c.UserContext(), sessionID, extra)
	if err != nil {
		return fail(c, err, "Session")
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"summary":    summary,
		"session_id": sessionID,
	})
}

func (h *ContextHandler) clear(c *fiber.Ctx, sessionID string) error {
	clearedAt, err := h.manager.Clear(c.UserContext(), sessionID)
	if err != nil {
		return fail(c, err, "Session")
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"message":    "Medical context cleared successfully",
		"session_id": sessionID,
		"cleared_at": clearedAt,
	})
}
