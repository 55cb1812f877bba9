package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/nelson-gpt/backend/internal/storage/models"
)

type RecordStore interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetWorkflow(ctx context.Context, id string) (*models.DiagnosticWorkflow, error)
	ListSafetyAlerts(ctx context.Context, sessionID string) ([]models.SafetyAlert, error)
	AcknowledgeSafetyAlert(ctx context.Context, id, by string) (*models.SafetyAlert, error)
}

// RecordsHandler exposes stored workflows and safety alerts.
type RecordsHandler struct {
	store RecordStore
}

func NewRecordsHandler(store RecordStore) *RecordsHandler {
	return &RecordsHandler{store: store}
}

func (h *RecordsHandler) GetWorkflow(c *fiber.Ctx) error {
	w, err := h.store.GetWorkflow(c.UserContext(), c.Params("id"))
	if err != nil {
		return fail(c, err, "Workflow")
	}
	return c.JSON(fiber.Map{"success": true, "workflow": newWorkflowView(w)})
}

func (h *RecordsHandler) ListSafetyAlerts(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if _, err := h.store.GetSession(c.UserContext(), sessionID); err != nil {
		return fail(c, err, "Session")
	}

	alerts, err := h.store.ListSafetyAlerts(c.UserContext(), sessionID)
	if err != nil {
		return fail(c, err, "Session")
	}

	views := make([]alertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, newAlertView(a))
	}
	return c.JSON(fiber.Map{"success": true, "alerts": views})
}

func (h *RecordsHandler) AcknowledgeSafetyAlert(c *fiber.Ctx) error {
	var req struct {
		AcknowledgedBy string `json:"acknowledged_by"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	if req.AcknowledgedBy == "" {
		return badRequest(c, "acknowledged_by is required")
	}

	a, err := h.store.AcknowledgeSafetyAlert(c.UserContext(), c.Params("id"), req.AcknowledgedBy)
	if err != nil {
		return fail(c, err, "Safety alert")
	}
	return c.JSON(fiber.Map{"success": true, "alert": newAlertView(*a)})
}
