package llm

import (
	"fmt"
	"strings"

	"github.com/ogirardi/vigil/internal/core/ports"
)

// NewRunner selects the agent-invocation backend. It hides provider
// selection from callers.
func NewRunner(provider, baseURL, apiKey, model string) (ports.AgentRunner, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "openai":
		return NewOpenAIRunner(strings.TrimSpace(baseURL), strings.TrimSpace(apiKey), strings.TrimSpace(model)), nil
	case "ollama":
		return NewOllamaRunner(strings.TrimSpace(baseURL), strings.TrimSpace(model)), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}

func normalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return strings.TrimSuffix(trimmed, "/v1")
	}
	return trimmed
}
