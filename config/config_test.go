package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
  "llm": {
    "providers": {
      "openai": {
        "type": "openai",
        "api_key": "sk-test",
        "models": {"gpt-4o-mini": {"name": "gpt-4o-mini", "max_tokens": 2000, "temperature": 0.2}}
      }
    },
    "routing": {"planning": "gpt-4o-mini", "fallback": "gpt-4o-mini"}
  },
  "prospecting": {"worker_timeout": "90s", "run_budget": "10m"},
  "workers": {"apify": {"token": "apify-token"}}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Prospecting.WorkerTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Prospecting.RunBudget)
	assert.Equal(t, 2, cfg.Prospecting.MinSearchTerms)
	assert.Equal(t, 12, cfg.Prospecting.MinQueryLength)
	assert.Equal(t, 200, cfg.Prospecting.MaxTargetLeads)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "https://api.apify.com", cfg.Workers.Apify.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Routing.Model("compensation"))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PILOT_WORKERS_APIFY_TOKEN", "from-env")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Workers.Apify.Token)
}

func TestLoadRejectsInvalidSections(t *testing.T) {
	_, err := Load(writeConfig(t, `{"prospecting": {"worker_timeout": "1m", "run_budget": "10m"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.providers")
}

func TestProspectingValidate(t *testing.T) {
	p := ProspectingConfig{WorkerTimeout: time.Minute, RunBudget: 30 * time.Second, MinSearchTerms: 2, MaxTargetLeads: 10}
	require.Error(t, p.Validate())

	p.RunBudget = 5 * time.Minute
	require.NoError(t, p.Validate())

	p.MaxCostUSD = -1
	require.Error(t, p.Validate())

	p.MaxCostUSD = 0
	p.MinSearchTerms = 1
	assert.ErrorContains(t, p.Validate(), "min_search_terms")
}

func TestStorageValidate(t *testing.T) {
	assert.NoError(t, StorageConfig{Backend: "memory"}.Validate())
	assert.Error(t, StorageConfig{Backend: "redis"}.Validate())
	assert.NoError(t, StorageConfig{Backend: "redis", Redis: RedisConfig{Host: "localhost", Port: "6379"}}.Validate())
	assert.Error(t, StorageConfig{Backend: "dynamo"}.Validate())
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "pilot"}
	assert.Equal(t, "postgres://u:p@db:5432/pilot?sslmode=disable", p.DSN())

	p.URL = "postgres://override"
	assert.Equal(t, "postgres://override", p.DSN())
}
