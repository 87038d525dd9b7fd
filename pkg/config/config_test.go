package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntelliVis_Config_LoadFromEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_API_BASE", "https://llm.example.com/v1")
	t.Setenv("EXEC_TIMEOUT", "15s")
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example ,")

	var cfg Config
	require.NoError(t, cfg.LoadFromEnv())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, "https://llm.example.com/v1", cfg.OpenAIBaseURL)
	assert.Equal(t, defaultOpenAIModel, cfg.OpenAIModel)
	assert.Equal(t, 15*time.Second, cfg.ExecTimeout)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORSAllowedOrigins)
}

func TestIntelliVis_Config_FlagsWinOverEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("ANTHROPIC_API_KEY", "key")
	t.Setenv("HTTP_LISTEN_ADDR", ":9999")

	cfg := Config{HTTPListenAddr: ":7000"}
	require.NoError(t, cfg.LoadFromEnv())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":7000", cfg.HTTPListenAddr)
	assert.Equal(t, ProviderAnthropic, cfg.LLMProvider)
	assert.Equal(t, defaultMaxAttempts, cfg.MaxAttempts)
}

func TestIntelliVis_Config_InvalidValues(t *testing.T) {
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("EXEC_TIMEOUT", "soon")
		var cfg Config
		require.Error(t, cfg.LoadFromEnv())
	})

	t.Run("no provider", func(t *testing.T) {
		t.Setenv("LLM_PROVIDER", "")
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("OPENAI_API_KEY", "")
		var cfg Config
		require.NoError(t, cfg.LoadFromEnv())
		require.Error(t, cfg.Validate())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := Config{LLMProvider: "bard", OpenAIAPIKey: "k"}
		require.Error(t, cfg.Validate())
	})

	t.Run("provider without key", func(t *testing.T) {
		cfg := Config{LLMProvider: ProviderOpenAI, AnthropicAPIKey: "k"}
		require.Error(t, cfg.Validate())
	})
}

func TestIntelliVis_Config_LoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("INTELLI_VIS_DOTENV_CHECK=loaded\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("INTELLI_VIS_DOTENV_CHECK") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("INTELLI_VIS_DOTENV_CHECK"))
}

func TestIntelliVis_Config_LoadFromEnv_AnthropicPreferred(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("ANTHROPIC_API_KEY", "ak")
	t.Setenv("OPENAI_API_KEY", "ok")

	var cfg Config
	require.NoError(t, cfg.LoadFromEnv())
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ProviderAnthropic, cfg.LLMProvider)
}
