package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/session"
	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/pkg/logger"
)

const internalErrorMessage = "Something went wrong on our side. Please try again, and contact your " +
	"healthcare provider directly if you need medical advice now."

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

// fail maps err onto a status code. what names the missing resource in 404
// responses.
func fail(c *fiber.Ctx, err error, what string) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   what + " not found",
		})
	case errors.Is(err, session.ErrInvalidContext):
		return badRequest(c, err.Error())
	case errors.Is(err, models.ErrQueryCompleted):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	logger.Error("Request failed",
		zap.String("path", c.Path()),
		zap.String("method", c.Method()),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error":   internalErrorMessage,
	})
}
