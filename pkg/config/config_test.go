package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mistral-large-latest", cfg.LLM.Primary.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Secondary.Model)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout())
	assert.Equal(t, 10, cfg.Workflow.EvidenceTopK)
	assert.Equal(t, 5, cfg.Retrieval.DefaultTopK)
	assert.Equal(t, 0.0, cfg.Classifier.SpecialtyThreshold)
	assert.Equal(t, cfg.Embedding.Dim, cfg.Milvus.VectorDim)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := chdirTemp(t)

	yaml := []byte("classifier:\n  specialtyThreshold: 0.5\nserver:\n  port: 9090\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))
	t.Setenv("NELSON_GPT_LLM_PRIMARY_APIKEY", "mistral-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.5, cfg.Classifier.SpecialtyThreshold)
	assert.Equal(t, "mistral-key", cfg.LLM.Primary.APIKey)
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	dir := chdirTemp(t)

	yaml := []byte("classifier:\n  specialtyThreshold: 1.5\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	_, err := Load()
	assert.Error(t, err)
}
