package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/internal/storage/sqlite"
)

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	store, err := sqlite.NewClient(":memory:", 0, 0)
	require.NoError(t, err)
	require.NoError(t, store.InitSchema(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSession(t *testing.T, store *sqlite.Client, id string) {
	t.Helper()
	require.NoError(t, store.CreateSession(context.Background(), &models.Session{
		ID:        id,
		UserSub:   "parent-1",
		StartedAt: time.Now(),
	}))
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}
