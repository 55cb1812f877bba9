package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(rl *RateLimiter) *fiber.App {
	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
	return app
}

func get(t *testing.T, app *fiber.App, session string) int {
	t.Helper()
	req := httptest.NewRequest("GET", "/ping", nil)
	if session != "" {
		req.Header.Set("X-Session-ID", session)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestLimitPerSession(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2})
	defer rl.Stop()
	app := newApp(rl)

	assert.Equal(t, fiber.StatusOK, get(t, app, "a"))
	assert.Equal(t, fiber.StatusOK, get(t, app, "a"))
	assert.Equal(t, fiber.StatusTooManyRequests, get(t, app, "a"))
	assert.Equal(t, fiber.StatusOK, get(t, app, "b"))
}

func TestTokensRefill(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2})
	defer rl.Stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("k"))
	assert.True(t, rl.allow("k"))
	assert.False(t, rl.allow("k"))

	now = now.Add(31 * time.Second)
	assert.True(t, rl.allow("k"))
	assert.False(t, rl.allow("k"))
}

func TestEvictIdle(t *testing.T) {
	rl := New(Config{})
	defer rl.Stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.allow("old")

	now = now.Add(11 * time.Minute)
	rl.evictIdle(10 * time.Minute)

	assert.Empty(t, rl.buckets)
}
