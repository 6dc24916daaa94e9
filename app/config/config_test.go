package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
avito:
  client_id: id
  client_secret: secret
  user_id: 123456789
agent:
  mcp_url: http://localhost:8765/sse
  openai:
    base_url: https://openrouter.ai/api/v1
    token: sk-or-test
    model: openai/gpt-4
`

func writeConfig(t *testing.T, content string) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))
	t.Chdir(dir)
}

func TestLoadAppliesDefaults(t *testing.T) {
	writeConfig(t, minimalConfig)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "https://api.avito.ru", cfg.Avito.BaseURL)
	assert.Equal(t, "search_products", cfg.Agent.RAGToolName)
	assert.Equal(t, 1000, cfg.Agent.MaxTokens)
	assert.Equal(t, 30*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 5, cfg.Worker.MessageFetchLimit)
	assert.Equal(t, "inline", cfg.Worker.Dispatch)
	assert.Equal(t, ":8080", cfg.Monitor.Addr)
}

func TestLoadRejectsMissingUserID(t *testing.T) {
	writeConfig(t, `
avito:
  client_id: id
  client_secret: secret
agent:
  mcp_url: http://localhost:8765/sse
  openai:
    base_url: https://openrouter.ai/api/v1
    token: sk-or-test
    model: openai/gpt-4
`)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UserID")
}

func TestLoadRejectsUnknownDispatch(t *testing.T) {
	writeConfig(t, minimalConfig+`
worker:
  dispatch: parallel
`)

	_, err := Load()
	require.Error(t, err)
}

func TestLoadFailsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load()
	require.Error(t, err)
}
