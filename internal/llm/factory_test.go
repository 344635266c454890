package llm

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/turnforge/chatcore/internal/config"
)

func TestNew_MockModeOverridesProvider(t *testing.T) {
	cfg := config.LLM{Provider: "azure", MockMode: true, MockDelayMs: 1}
	client := New(cfg, zaptest.NewLogger(t))
	if _, ok := client.(*MockClient); !ok {
		t.Fatalf("expected *MockClient, got %T", client)
	}
}

func TestNew_SelectsOllama(t *testing.T) {
	cfg := config.LLM{Provider: "ollama", OllamaURL: "http://localhost:11434", OllamaModel: "llama3"}
	client := New(cfg, zaptest.NewLogger(t))
	if _, ok := client.(*OllamaClient); !ok {
		t.Fatalf("expected *OllamaClient, got %T", client)
	}
}

func TestNew_SelectsAzure(t *testing.T) {
	cfg := config.LLM{Provider: "azure", AzureEndpoint: "https://example.openai.azure.com", AzureAPIKey: "key", AzureDeployment: "gpt-4o", AzureAPIVersion: "2024-06-01"}
	client := New(cfg, zaptest.NewLogger(t))
	if _, ok := client.(*AzureClient); !ok {
		t.Fatalf("expected *AzureClient, got %T", client)
	}
}

func TestNew_DefaultsToMock(t *testing.T) {
	cfg := config.LLM{Provider: "unrecognized", MockDelayMs: 1}
	client := New(cfg, zaptest.NewLogger(t))
	if _, ok := client.(*MockClient); !ok {
		t.Fatalf("expected *MockClient, got %T", client)
	}
}
