package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelson-gpt/backend/internal/classifier"
	"github.com/nelson-gpt/backend/internal/query"
	"github.com/nelson-gpt/backend/internal/storage/models"
)

type fakeQueryService struct {
	last     query.Request
	response *query.Response
	err      error
	history  []models.Query
}

func (f *fakeQueryService) ProcessQuery(_ context.Context, req query.Request) (*query.Response, error) {
	f.last = req
	return f.response, f.err
}

func (f *fakeQueryService) History(_ context.Context, sessionID string, _ int) ([]models.Query, error) {
	if sessionID != "s1" {
		return nil, models.ErrNotFound
	}
	return f.history, nil
}

func newQueryApp(svc QueryService) *fiber.App {
	app := fiber.New()
	h := NewQueryHandler(svc)
	app.Post("/api/v1/query", h.HandleQuery)
	app.Get("/api/v1/query/history", h.GetQueryHistory)
	return app
}

func TestHandleQuery(t *testing.T) {
	svc := &fakeQueryService{response: &query.Response{
		Answer:           "Rest and fluids.",
		Confidence:       0.7,
		Citations:        []models.Citation{},
		SessionID:        "s1",
		QueryID:          "q1",
		UrgencyLevel:     models.UrgencyRoutine,
		MedicalSpecialty: "respiratory",
		SafetyAlerts:     []classifier.Alert{},
		ReasoningSteps:   []models.ReasoningStep{},
	}}
	app := newQueryApp(svc)

	status, body := doJSON(t, app, "POST", "/api/v1/query", `{"message": "mild cough", "sessionId": "s1", "userId": "u1"}`)
	require.Equal(t, fiber.StatusOK, status)

	assert.Equal(t, query.Request{Message: "mild cough", SessionID: "s1", UserID: "u1"}, svc.last)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Rest and fluids.", body["answer"])
	assert.Equal(t, "s1", body["sessionId"])
	assert.Equal(t, "q1", body["queryId"])
	assert.Equal(t, "routine", body["urgency_level"])
	assert.Equal(t, "respiratory", body["medical_specialty"])
	assert.Equal(t, []any{}, body["safety_alerts"])
	assert.Equal(t, []any{}, body["reasoning_steps"])
	assert.Equal(t, []any{}, body["citations"])
}

func TestHandleQueryFailure(t *testing.T) {
	svc := &fakeQueryService{
		response: &query.Response{Answer: query.ErrorAnswer, QueryID: "q9"},
		err:      errors.New("classification failed"),
	}

	status, body := doJSON(t, newQueryApp(svc), "POST", "/api/v1/query", `{"message": "cough"}`)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, query.ErrorAnswer, body["error"])
	assert.Equal(t, "q9", body["queryId"])
	assert.NotContains(t, body["error"], "classification")
}

func TestHandleQueryBadBody(t *testing.T) {
	status, body := doJSON(t, newQueryApp(&fakeQueryService{}), "POST", "/api/v1/query", `{"message": `)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
}

func TestQueryHistory(t *testing.T) {
	answer := "Rest."
	svc := &fakeQueryService{history: []models.Query{{
		ID:              "q1",
		UserQuestion:    "cough",
		Answer:          &answer,
		DiagnosticStage: models.StageCompleted,
	}}}
	app := newQueryApp(svc)

	status, body := doJSON(t, app, "GET", "/api/v1/query/history?session_id=s1", "")
	require.Equal(t, fiber.StatusOK, status)
	history := body["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "cough", history[0].(map[string]any)["user_question"])
	assert.Equal(t, "completed", history[0].(map[string]any)["diagnostic_stage"])

	status, _ = doJSON(t, app, "GET", "/api/v1/query/history", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = doJSON(t, app, "GET", "/api/v1/query/history?session_id=ghost", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "Session not found", body["error"])
}
