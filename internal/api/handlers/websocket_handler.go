package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/query"
	"github.com/nelson-gpt/backend/pkg/logger"
)

type WebSocketHandler struct {
	queryEngine QueryService
	timeout     time.Duration
}

func NewWebSocketHandler(queryEngine QueryService, timeout time.Duration) *WebSocketHandler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &WebSocketHandler{
		queryEngine: queryEngine,
		timeout:     timeout,
	}
}

type socketMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg socketMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if msg.Type != "query" {
			continue
		}

		if err := h.streamResponse(c, msg); err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, query.ErrorAnswer)
		}
	}
}

// streamResponse runs the query to completion, then replays the answer word
// by word so clients can render it progressively.
func (h *WebSocketHandler) streamResponse(c *websocket.Conn, msg socketMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.send(c, map[string]any{"type": "status", "content": "Analyzing your question..."}); err != nil {
		return err
	}

	response, err := h.queryEngine.ProcessQuery(ctx, query.Request{
		Message:   msg.Message,
		SessionID: msg.SessionID,
		UserID:    msg.UserID,
	})
	if err != nil {
		return err
	}

	for _, word := range splitIntoWords(response.Answer) {
		if err := h.send(c, map[string]any{"type": "chunk", "content": word}); err != nil {
			return err
		}
	}

	return h.send(c, map[string]any{
		"type":              "complete",
		"queryId":           response.QueryID,
		"sessionId":         response.SessionID,
		"confidence":        response.Confidence,
		"citations":         response.Citations,
		"urgency_level":     response.UrgencyLevel,
		"medical_specialty": response.MedicalSpecialty,
		"safety_alerts":     response.SafetyAlerts,
		"latency_ms":        response.LatencyMS,
	})
}

func (h *WebSocketHandler) send(c *websocket.Conn, msg map[string]any) error {
	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	if err := c.WriteJSON(map[string]any{"type": "error", "error": errorMsg}); err != nil {
		logger.Debug("Failed to send WebSocket error", zap.Error(err))
	}
}

// splitIntoWords keeps separators attached so joining the pieces restores
// the original text.
func splitIntoWords(text string) []string {
	var (
		words []string
		b     strings.Builder
	)
	for _, r := range text {
		b.WriteRune(r)
		if r == ' ' || r == '\n' {
			words = append(words, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		words = append(words, b.String())
	}
	return words
}
