// Package config loads the process's environment-driven settings
// (spec §6 "Configuration (environment)") via viper, the way the
// teacher loads features.yaml — here bound to env vars instead of a
// config file, since this service has no on-disk config surface.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LLM holds C4 provider selection and credentials.
type LLM struct {
	Provider        string // "azure" | "ollama" | "mock"
	MockMode        bool
	MockDelayMs     int
	AzureEndpoint   string
	AzureAPIKey     string
	AzureDeployment string
	AzureAPIVersion string
	OllamaURL       string
	OllamaModel     string
}

// Database holds C8 repository backend selection.
type Database struct {
	Provider   string // "memory" | "sqlite" | "cosmosdb"
	SQLitePath string

	CosmosEndpoint         string
	CosmosKey              string
	CosmosDatabase         string
	CosmosContainer        string
	CosmosConsistencyLevel string
}

// Stream holds C6 abort-fabric transport selection.
type Stream struct {
	StoreProvider string // "memory" | "redis"
	RedisURL      string
}

// App holds HTTP listener binding.
type App struct {
	Port     string
	Host     string
	BasePath string
}

// Config is the fully resolved process configuration.
type Config struct {
	LLM      LLM
	Database Database
	Stream   Stream
	App      App
}

// Load reads all recognized keys from the process environment, applying
// the defaults a developer running the service locally would expect.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("LLM_PROVIDER", "mock")
	v.SetDefault("LLM_MOCK_MODE", false)
	v.SetDefault("LLM_MOCK_DELAY_MS", 20)
	v.SetDefault("AZURE_OPENAI_API_VERSION", "2024-02-15-preview")
	v.SetDefault("OLLAMA_URL", "http://localhost:11434")
	v.SetDefault("OLLAMA_MODEL", "llama3")

	v.SetDefault("DATABASE_PROVIDER", "memory")
	v.SetDefault("DATABASE_SQLITE_PATH", "chatcore.db")
	v.SetDefault("AZURE_COSMOSDB_CONSISTENCY_LEVEL", "Session")

	v.SetDefault("SSE_STREAM_STORE_PROVIDER", "memory")

	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_HOST", "0.0.0.0")
	v.SetDefault("APP_BASE_PATH", "")

	cfg := &Config{
		LLM: LLM{
			Provider:        v.GetString("LLM_PROVIDER"),
			MockMode:        v.GetBool("LLM_MOCK_MODE"),
			MockDelayMs:     v.GetInt("LLM_MOCK_DELAY_MS"),
			AzureEndpoint:   v.GetString("AZURE_OPENAI_ENDPOINT"),
			AzureAPIKey:     v.GetString("AZURE_OPENAI_API_KEY"),
			AzureDeployment: v.GetString("AZURE_OPENAI_DEPLOYMENT_NAME"),
			AzureAPIVersion: v.GetString("AZURE_OPENAI_API_VERSION"),
			OllamaURL:       v.GetString("OLLAMA_URL"),
			OllamaModel:     v.GetString("OLLAMA_MODEL"),
		},
		Database: Database{
			Provider:               v.GetString("DATABASE_PROVIDER"),
			SQLitePath:             v.GetString("DATABASE_SQLITE_PATH"),
			CosmosEndpoint:         v.GetString("AZURE_COSMOSDB_ENDPOINT"),
			CosmosKey:              v.GetString("AZURE_COSMOSDB_KEY"),
			CosmosDatabase:         v.GetString("AZURE_COSMOSDB_DATABASE"),
			CosmosContainer:        v.GetString("AZURE_COSMOSDB_CONTAINER"),
			CosmosConsistencyLevel: v.GetString("AZURE_COSMOSDB_CONSISTENCY_LEVEL"),
		},
		Stream: Stream{
			StoreProvider: v.GetString("SSE_STREAM_STORE_PROVIDER"),
			RedisURL:      v.GetString("REDIS_URL"),
		},
		App: App{
			Port:     v.GetString("APP_PORT"),
			Host:     v.GetString("APP_HOST"),
			BasePath: v.GetString("APP_BASE_PATH"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "azure", "ollama", "mock":
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	switch c.Database.Provider {
	case "memory", "sqlite", "cosmosdb":
	default:
		return fmt.Errorf("config: unknown DATABASE_PROVIDER %q", c.Database.Provider)
	}
	switch c.Stream.StoreProvider {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown SSE_STREAM_STORE_PROVIDER %q", c.Stream.StoreProvider)
	}
	if c.Stream.StoreProvider == "redis" && c.Stream.RedisURL == "" {
		return fmt.Errorf("config: SSE_STREAM_STORE_PROVIDER=redis requires REDIS_URL")
	}
	return nil
}

// Addr is the host:port the HTTP server should bind.
func (a App) Addr() string {
	return a.Host + ":" + a.Port
}
