package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/middleware/validation"
	"github.com/nelson-gpt/backend/internal/query"
	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/pkg/logger"
)

type QueryService interface {
	ProcessQuery(ctx context.Context, req query.Request) (*query.Response, error)
	History(ctx context.Context, sessionID string, limit int) ([]models.Query, error)
}

type QueryHandler struct {
	queryEngine QueryService
}

func NewQueryHandler(queryEngine QueryService) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
	}
}

type queryRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type queryResponse struct {
	Success bool `json:"success"`
	*query.Response
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}
	if sanitized, ok := c.Locals(validation.MessageKey).(string); ok {
		req.Message = sanitized
	}

	response, err := h.queryEngine.ProcessQuery(c.UserContext(), query.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	})
	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		body := fiber.Map{
			"success": false,
			"error":   query.ErrorAnswer,
			"answer":  query.ErrorAnswer,
		}
		if response != nil {
			body["queryId"] = response.QueryID
		}
		return c.Status(fiber.StatusInternalServerError).JSON(body)
	}

	return c.JSON(queryResponse{Success: true, Response: response})
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return badRequest(c, "session_id is required")
	}

	history, err := h.queryEngine.History(c.UserContext(), sessionID, c.QueryInt("limit", 0))
	if err != nil {
		return fail(c, err, "Session")
	}

	views := make([]queryView, 0, len(history))
	for _, q := range history {
		views = append(views, newQueryView(q))
	}
	return c.JSON(fiber.Map{
		"success": true,
		"history": views,
	})
}
