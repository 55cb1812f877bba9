package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/ingestion"
	"github.com/nelson-gpt/backend/pkg/logger"
)

type PageIngester interface {
	ProcessPage(ctx context.Context, page ingestion.Page) (*ingestion.Report, error)
}

type DocumentHandler struct {
	processor   PageIngester
	defaultBook string
}

func NewDocumentHandler(processor PageIngester, defaultBook string) *DocumentHandler {
	return &DocumentHandler{
		processor:   processor,
		defaultBook: defaultBook,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var page ingestion.Page
	if err := c.BodyParser(&page); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}
	if page.HTML == "" && page.Text == "" {
		return badRequest(c, "html_content or text is required")
	}
	if page.BookTitle == "" {
		page.BookTitle = h.defaultBook
	}

	report, err := h.processor.ProcessPage(c.UserContext(), page)
	switch {
	case errors.Is(err, ingestion.ErrEmptyPage):
		return badRequest(c, err.Error())
	case errors.Is(err, ingestion.ErrNoVectors):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"error":   "Knowledge base is unavailable",
		})
	case err != nil:
		return fail(c, err, "Document")
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"message":     "Document processed successfully",
		"chunks":      report.Chunks,
		"specialties": report.Specialties,
	})
}
