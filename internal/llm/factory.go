package llm

import (
	"time"

	"go.uber.org/zap"

	"github.com/turnforge/chatcore/internal/config"
)

// New selects and constructs a Client per spec §6: LLM_MOCK_MODE takes
// priority over LLM_PROVIDER, the choice is resolved once at process
// startup from config.Load, and there is no hot reload.
func New(cfg config.LLM, logger *zap.Logger) Client {
	if cfg.MockMode {
		return NewMockClient(mockDelay(cfg.MockDelayMs))
	}

	switch cfg.Provider {
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
		}, logger)
	case "azure":
		return NewAzureClient(AzureConfig{
			Endpoint:       cfg.AzureEndpoint,
			APIKey:         cfg.AzureAPIKey,
			DeploymentName: cfg.AzureDeployment,
			APIVersion:     cfg.AzureAPIVersion,
		}, logger)
	default:
		return NewMockClient(mockDelay(cfg.MockDelayMs))
	}
}

func mockDelay(ms int) time.Duration {
	if ms < 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}
