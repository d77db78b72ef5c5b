package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SESSION_SECRET_KEY", "secret")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("LLM_BASE_URL", "http://llm.local/v1")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "./activity_log.db", cfg.DBPath)
	assert.Equal(t, BackendNone, cfg.Retrieval.Backend)
	assert.Equal(t, 4, cfg.Retrieval.Workers)
	assert.Equal(t, 30*time.Second, cfg.Retrieval.Timeout)
	assert.Equal(t, DefaultModels, cfg.Models)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SESSION_SECRET_KEY", "")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("LLM_BASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_API_KEY")
	assert.Contains(t, err.Error(), "LLM_BASE_URL")
	assert.Contains(t, err.Error(), "SESSION_SECRET_KEY")
}

func TestLoad_FileThenEnv(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: "9001"
api_key: from-file
api_base_url: http://file.local/v1
log_db_path: /tmp/file.db
retrieval:
  backend: weaviate
  weaviate_url: http://weaviate:8080
  weaviate_class: Paper
  top_k: 8
  timeout: 2s
models:
  - name: local/model
    description: only one
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	os.Unsetenv("LLM_API_KEY")
	t.Setenv("RETRIEVAL_TOP_K", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9001", cfg.Port)
	assert.Equal(t, "from-file", cfg.LLM.APIKey)
	assert.Equal(t, "http://llm.local/v1", cfg.LLM.BaseURL, "env wins over file")
	assert.Equal(t, BackendWeaviate, cfg.Retrieval.Backend)
	assert.Equal(t, "Paper", cfg.Retrieval.WeaviateClass)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, 2*time.Second, cfg.Retrieval.Timeout)
	assert.Equal(t, []ModelInfo{{Name: "local/model", Description: "only one"}}, cfg.Models)
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.SessionSecret = "s"
	cfg.LLM = LLMConfig{APIKey: "k", BaseURL: "u"}
	cfg.Retrieval.Backend = "elastic"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elastic")
}

func TestAllowedOrigins(t *testing.T) {
	cfg := Default()
	cfg.FrontendURL = "https://app.example.org"
	assert.Equal(t, []string{"https://app.example.org"}, cfg.AllowedOrigins())
}
