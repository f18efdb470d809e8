package analyzer

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"unideploy/internal/builder"
	"unideploy/internal/clients"
	"unideploy/internal/config"
	"unideploy/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractZip(t *testing.T) {
	dest := t.TempDir()
	data := zipBytes(t, map[string]string{
		"package.json":  `{"dependencies": {"express": "4"}}`,
		"src/server.js": "require('express')",
	})

	require.NoError(t, ExtractZip(data, dest))

	content, err := os.ReadFile(filepath.Join(dest, "src", "server.js"))
	require.NoError(t, err)
	assert.Equal(t, "require('express')", string(content))
}

func TestExtractZipRejectsEscapingEntries(t *testing.T) {
	dest := t.TempDir()
	data := zipBytes(t, map[string]string{"../evil.txt": "pwned"})

	err := ExtractZip(data, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")
	_, statErr := os.Stat(filepath.Join(filepath.Dir(dest), "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractZipRejectsGarbage(t *testing.T) {
	assert.Error(t, ExtractZip([]byte("definitely not a zip"), t.TempDir()))
}

type stubAI struct {
	reply string
	err   error
}

func (s *stubAI) ChatCompletion(_ context.Context, _ []clients.ChatMessage) (string, error) {
	return s.reply, s.err
}

func TestAnalyzeZipHeuristicFallback(t *testing.T) {
	svc := New(&config.Config{WorkDir: t.TempDir()}, nil, nil)
	data := zipBytes(t, map[string]string{
		"package.json": `{"dependencies": {"express": "4"}}`,
		"index.js":     "console.log('hi')",
	})

	analysis, err := svc.AnalyzeZip(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, builder.TypeNode, analysis.Type)
	assert.Equal(t, "heuristic", analysis.SuggestionEngine)
	assert.Equal(t, models.TierSeed, analysis.RecommendedTier)
	assert.Contains(t, analysis.Files, "package.json")
}

func TestAnalyzeZipPrefersModelConfig(t *testing.T) {
	ai := &stubAI{reply: "Here you go:\n" +
		`{"type": "nextjs", "build_command": "npm run build", "start_command": "npm start", "port": 3000}`}
	svc := New(&config.Config{WorkDir: t.TempDir()}, ai, nil)
	data := zipBytes(t, map[string]string{
		"package.json": `{"dependencies": {"next": "14"}}`,
	})

	analysis, err := svc.AnalyzeZip(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "ai", analysis.SuggestionEngine)
	assert.Equal(t, "nextjs", analysis.Type)
	assert.Equal(t, 3000, analysis.Port)
	assert.Equal(t, models.TierLaunch, analysis.RecommendedTier)
}

func TestAnalyzeZipModelGarbageFallsBack(t *testing.T) {
	ai := &stubAI{reply: "I cannot help with that."}
	svc := New(&config.Config{WorkDir: t.TempDir()}, ai, nil)
	data := zipBytes(t, map[string]string{
		"requirements.txt": "flask\n",
	})

	analysis, err := svc.AnalyzeZip(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "heuristic", analysis.SuggestionEngine)
	assert.Equal(t, builder.TypePython, analysis.Type)
}

func TestAnalyzeRepoRequiresURL(t *testing.T) {
	svc := New(&config.Config{WorkDir: t.TempDir()}, nil, nil)
	_, err := svc.AnalyzeRepo(context.Background(), "  ")
	assert.Error(t, err)
}
