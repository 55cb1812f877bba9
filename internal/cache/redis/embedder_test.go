package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelson-gpt/backend/pkg/utils"
)

type countingEmbedder struct {
	calls  int
	vector []float32
}

func (e *countingEmbedder) Embed(context.Context, string) []float32 {
	e.calls++
	return e.vector
}

func (e *countingEmbedder) Model() string { return "mistral-embed" }

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	c, err := NewClient(mr.Host(), port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCachedEmbedderHitsCacheOnSecondCall(t *testing.T) {
	client, mr := newTestClient(t)
	inner := &countingEmbedder{vector: []float32{0.6, 0.8}}
	e := NewCachedEmbedder(inner, client, time.Hour)

	first := e.Embed(context.Background(), "fever in toddler")
	second := e.Embed(context.Background(), "fever in toddler")

	assert.Equal(t, []float32{0.6, 0.8}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	key := "embedding:" + utils.HashString("mistral-embed", "fever in toddler")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))
}

func TestCachedEmbedderDoesNotCacheEmptyVectors(t *testing.T) {
	client, mr := newTestClient(t)
	inner := &countingEmbedder{}
	e := NewCachedEmbedder(inner, client, time.Hour)

	assert.Empty(t, e.Embed(context.Background(), "rash"))
	assert.Empty(t, e.Embed(context.Background(), "rash"))
	assert.Equal(t, 2, inner.calls)
	assert.Empty(t, mr.Keys())
}

func TestCachedEmbedderBypassesUnavailableCache(t *testing.T) {
	client, mr := newTestClient(t)
	inner := &countingEmbedder{vector: []float32{1}}
	e := NewCachedEmbedder(inner, client, time.Hour)

	mr.Close()

	assert.Equal(t, []float32{1}, e.Embed(context.Background(), "cough"))
	assert.Equal(t, 1, inner.calls)
}

func TestGetEmbeddingMiss(t *testing.T) {
	client, _ := newTestClient(t)

	v, ok, err := client.GetEmbedding(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}
