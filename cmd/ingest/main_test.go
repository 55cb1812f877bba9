package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPage(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "p12.HTML")
	textPath := filepath.Join(dir, "p13.txt")
	require.NoError(t, os.WriteFile(htmlPath, []byte("<p>Croup.</p>"), 0o644))
	require.NoError(t, os.WriteFile(textPath, []byte("Bronchiolitis."), 0o644))

	flags := pageFlags{book: "Nelson", chapter: "Airway", sourceURL: "https://example.org"}

	page, err := readPage(htmlPath, flags, 12)
	require.NoError(t, err)
	assert.Equal(t, "<p>Croup.</p>", page.HTML)
	assert.Empty(t, page.Text)
	assert.Equal(t, 12, page.PageNumber)
	assert.Equal(t, "Airway", page.ChapterTitle)

	page, err = readPage(textPath, flags, 13)
	require.NoError(t, err)
	assert.Equal(t, "Bronchiolitis.", page.Text)
	assert.Empty(t, page.HTML)

	_, err = readPage(filepath.Join(dir, "missing.txt"), flags, 1)
	assert.Error(t, err)
}

func TestPagesRequiresFiles(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"pages"})

	err := cmd.Execute()
	assert.Error(t, err)
	assert.Contains(t, out.String(), "requires at least 1 arg")
}
