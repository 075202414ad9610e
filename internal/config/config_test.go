package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "test")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Env)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, time.Hour, cfg.Scheduler.RefreshInterval)
	assert.Equal(t, 6*time.Hour, cfg.Scheduler.SweepInterval)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.ReportInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Scheduler.RetentionInterval)
	assert.Equal(t, 30, cfg.Usage.RetentionDays)
	assert.Equal(t, 10, cfg.Health.MinSamples)
	assert.Equal(t, 10*time.Minute, cfg.Health.SampleTTL)
	assert.Equal(t, "redis", cfg.Reports.Backend)
}

func TestLoadConfig_FileAndAPIKeyResolution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-12345")

	configContent := `
server:
  env: production
auth:
  keys:
    - key: "sk-client"
      caller: "alice"
    - key: "sk-admin"
      caller: "ops"
      scopes: ["admin"]
providers:
  - id: "openai"
    type: "openai"
    api_key: "ENV:TEST_API_KEY"
    enabled: true
    models:
      - id: "gpt-4o-mini"
        context_length: 128000
        pricing:
          prompt: 0.15
          completion: 0.6
`
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Server.Env)
	assert.False(t, cfg.Server.IsDevelopment())
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "sk-test-12345", cfg.Providers[0].APIKey)
	require.Len(t, cfg.Providers[0].Models, 1)
	assert.Equal(t, 128000, cfg.Providers[0].Models[0].ContextLength)
	assert.InDelta(t, 0.6, cfg.Providers[0].Models[0].Pricing.Completion, 1e-9)
	require.Len(t, cfg.Auth.Keys, 2)
	assert.Equal(t, []string{"admin"}, cfg.Auth.Keys[1].Scopes)
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown report backend", "reports:\n  backend: postgres\n"},
		{"window smaller than min samples", "health:\n  window: 5\n  min_samples: 10\n"},
		{"caller id with separator", "auth:\n  keys:\n    - key: sk-bot\n      caller: \"alice:bot\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "gateway.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			t.Setenv("CONFIG_FILE", path)

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
