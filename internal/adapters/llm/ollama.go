package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ogirardi/vigil/internal/core/domain"
)

// OllamaRunner invokes the agent through a local Ollama instance using its
// native chat API.
type OllamaRunner struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaRunner(baseURL, model string) *OllamaRunner {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:latest"
	}
	return &OllamaRunner{
		baseURL: normalizeOllamaBaseURL(baseURL),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

func (r *OllamaRunner) Run(ctx context.Context, req domain.AgentRunRequest) (domain.AgentOutput, error) {
	model := req.Model
	if model == "" {
		model = r.model
	}

	chatReq := ollamaChatRequest{
		Model:  model,
		Stream: false,
	}
	if taskCtx := describeTasks(req.ScheduledTasks); taskCtx != "" {
		chatReq.Messages = append(chatReq.Messages, ollamaChatMessage{Role: "system", Content: taskCtx})
	}
	for _, m := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, ollamaChatMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	jsonData, err := json.Marshal(chatReq)
	if err != nil {
		return domain.AgentOutput{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return domain.AgentOutput{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return domain.AgentOutput{}, fmt.Errorf("ollama connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.AgentOutput{}, fmt.Errorf("ollama returned status: %d", resp.StatusCode)
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return domain.AgentOutput{}, fmt.Errorf("failed to decode response: %w", err)
	}

	text, effects := extractSideEffects(chatResp.Message.Content)
	return domain.AgentOutput{
		Status:      domain.AgentStatusSuccess,
		Result:      text,
		SideEffects: effects,
	}, nil
}
