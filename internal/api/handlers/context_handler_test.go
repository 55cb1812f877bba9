package handlers

import (
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelson-gpt/backend/internal/audit"
	"github.com/nelson-gpt/backend/internal/session"
)

func newContextApp(t *testing.T) *fiber.App {
	t.Helper()
	store := newStore(t)
	seedSession(t, store, "s1")

	h := NewContextHandler(session.NewManager(store, nil, audit.NewRecorder(store)))
	app := fiber.New()
	app.Post("/api/v1/context", h.Dispatch)
	app.Get("/api/v1/sessions/:id/context", h.Get)
	app.Put("/api/v1/sessions/:id/context", h.Update)
	app.Delete("/api/v1/sessions/:id/context", h.Clear)
	app.Post("/api/v1/sessions/:id/context/summarize", h.Summarize)
	return app
}

func TestContextDispatch(t *testing.T) {
	app := newContextApp(t)

	status, body := doJSON(t, app, "POST", "/api/v1/context", `{"operation": "get", "sessionId": "s1"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "s1", body["session_id"])
	ctx := body["context"].(map[string]any)
	assert.Equal(t, "routine", ctx["risk_level"])
	assert.Equal(t, "unknown", ctx["context_age"])

	status, body = doJSON(t, app, "POST", "/api/v1/context",
		`{"operation": "update", "sessionId": "s1", "newContext": {"medical_context": {"allergies": "penicillin"}, "risk_level": "urgent"}}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "s1", body["session_id"])
	assert.NotContains(t, body, "context")
	ctx = body["updated_context"].(map[string]any)
	assert.Equal(t, "penicillin", ctx["medical_context"].(map[string]any)["allergies"])
	assert.Equal(t, "urgent", ctx["risk_level"])

	status, body = doJSON(t, app, "POST", "/api/v1/context", `{"operation": "summarize", "sessionId": "s1"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body, "summary")
	assert.Nil(t, body["summary"])
	assert.Equal(t, "s1", body["session_id"])

	status, body = doJSON(t, app, "POST", "/api/v1/context", `{"operation": "clear", "sessionId": "s1"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.NotEmpty(t, body["cleared_at"])
	assert.Equal(t, "s1", body["session_id"])

	_, body = doJSON(t, app, "POST", "/api/v1/context", `{"operation": "get", "sessionId": "s1"}`)
	ctx = body["context"].(map[string]any)
	assert.Empty(t, ctx["medical_context"])
	assert.Equal(t, "routine", ctx["risk_level"])
}

func TestContextDispatchErrors(t *testing.T) {
	app := newContextApp(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"unknown session", `{"operation": "get", "sessionId": "ghost"}`, fiber.StatusNotFound},
		{"unknown session clear", `{"operation": "clear", "sessionId": "ghost"}`, fiber.StatusNotFound},
		{"missing session id", `{"operation": "get"}`, fiber.StatusBadRequest},
		{"unknown operation", `{"operation": "merge", "sessionId": "s1"}`, fiber.StatusBadRequest},
		{"bad risk level", `{"operation": "update", "sessionId": "s1", "newContext": {"risk_level": "dire"}}`, fiber.StatusBadRequest},
		{"bad new context", `{"operation": "update", "sessionId": "s1", "newContext": [1]}`, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, app, "POST", "/api/v1/context", tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestContextRESTRoutes(t *testing.T) {
	app := newContextApp(t)

	status, body := doJSON(t, app, "PUT", "/api/v1/sessions/s1/context", `{"patient_context": {"age_months": 30}}`)
	require.Equal(t, fiber.StatusOK, status)
	ctx := body["updated_context"].(map[string]any)
	assert.Equal(t, float64(30), ctx["patient_context"].(map[string]any)["age_months"])

	status, _ = doJSON(t, app, "GET", "/api/v1/sessions/s1/context", "")
	assert.Equal(t, fiber.StatusOK, status)

	status, body = doJSON(t, app, "POST", "/api/v1/sessions/s1/context/summarize", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Nil(t, body["summary"])

	status, _ = doJSON(t, app, "DELETE", "/api/v1/sessions/s1/context", "")
	assert.Equal(t, fiber.StatusOK, status)

	status, body = doJSON(t, app, "GET", "/api/v1/sessions/ghost/context", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "Session not found", body["error"])
}
