package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pingOK(context.Context) error { return nil }
func pingDown(context.Context) error { return errors.New("connection refused") }

func readiness(t *testing.T, checks ...Check) (int, map[string]any) {
	t.Helper()
	h := NewHealthHandler(time.Second, checks...)
	app := fiber.New()
	app.Get("/ready", h.Ready)
	app.Get("/health", h.Health)
	return doJSON(t, app, "GET", "/ready", "")
}

func TestReadiness(t *testing.T) {
	status, body := readiness(t,
		Check{Name: "sqlite", Required: true, Ping: pingOK},
		Check{Name: "redis"},
	)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "disabled", body["checks"].(map[string]any)["redis"])

	status, body = readiness(t,
		Check{Name: "sqlite", Required: true, Ping: pingOK},
		Check{Name: "milvus", Ping: pingDown},
	)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unavailable", body["checks"].(map[string]any)["milvus"])

	status, body = readiness(t,
		Check{Name: "sqlite", Required: true, Ping: pingDown},
		Check{Name: "milvus", Ping: pingDown},
	)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "not_ready", body["status"])
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	app.Get("/health", NewHealthHandler(0).Health)

	status, body := doJSON(t, app, "GET", "/health", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestSplitIntoWords(t *testing.T) {
	text := "## Medical Assessment\n\n**Urgency Level:** routine"
	words := splitIntoWords(text)

	assert.Equal(t, "## ", words[0])
	joined := ""
	for _, w := range words {
		joined += w
	}
	assert.Equal(t, text, joined)
	assert.Empty(t, splitIntoWords(""))
}
