package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsToMockAndMemory(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, "memory", cfg.Database.Provider)
	assert.Equal(t, "memory", cfg.Stream.StoreProvider)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
}

func TestLoad_ReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "azure")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")
	t.Setenv("AZURE_OPENAI_API_KEY", "secret")
	t.Setenv("APP_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "azure", cfg.LLM.Provider)
	assert.Equal(t, "https://example.openai.azure.com", cfg.LLM.AzureEndpoint)
	assert.Equal(t, "secret", cfg.LLM.AzureAPIKey)
	assert.Equal(t, "9090", cfg.App.Port)
}

func TestLoad_UnknownLLMProviderRejected(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "bogus")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_UnknownDatabaseProviderRejected(t *testing.T) {
	t.Setenv("DATABASE_PROVIDER", "bogus")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RedisStreamStoreRequiresRedisURL(t *testing.T) {
	t.Setenv("SSE_STREAM_STORE_PROVIDER", "redis")
	_, err := Load()
	assert.ErrorContains(t, err, "REDIS_URL")
}

func TestLoad_RedisStreamStoreAcceptedWithURL(t *testing.T) {
	t.Setenv("SSE_STREAM_STORE_PROVIDER", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Stream.StoreProvider)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Stream.RedisURL)
}
