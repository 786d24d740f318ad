package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ogirardi/vigil/internal/core/domain"
)

// sideEffectsMarker prefixes an optional trailing line carrying structured
// schedule intents, e.g. `SIDE_EFFECTS: {"schedules":[...]}`.
const sideEffectsMarker = "SIDE_EFFECTS:"

// OpenAIRunner invokes the agent through an OpenAI-compatible chat
// completions API. Works with OpenAI, Azure OpenAI, Together AI, local
// Ollama /v1, etc.
type OpenAIRunner struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewOpenAIRunner(baseURL, apiKey, model string) *OpenAIRunner {
	if model == "" {
		model = "gpt-4"
	}

	return &OpenAIRunner{
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

// Run sends the assembled conversation to the model and interprets the
// reply. Invocation failures (transport, non-200, empty choices) surface as
// errors; a successful call always yields a success-status output.
func (r *OpenAIRunner) Run(ctx context.Context, req domain.AgentRunRequest) (domain.AgentOutput, error) {
	url := r.baseURL + "/chat/completions"

	model := req.Model
	if model == "" {
		model = r.model
	}

	messages := make([]map[string]string, 0, len(req.Messages)+1)
	if taskCtx := describeTasks(req.ScheduledTasks); taskCtx != "" {
		messages = append(messages, map[string]string{"role": "system", "content": taskCtx})
	}
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}

	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return domain.AgentOutput{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payloadBytes))
	if err != nil {
		return domain.AgentOutput{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return domain.AgentOutput{}, fmt.Errorf("failed to call API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return domain.AgentOutput{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.AgentOutput{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Choices) == 0 {
		return domain.AgentOutput{}, fmt.Errorf("no choices in response")
	}

	text, effects := extractSideEffects(result.Choices[0].Message.Content)
	return domain.AgentOutput{
		Status:      domain.AgentStatusSuccess,
		Result:      text,
		SideEffects: effects,
	}, nil
}

// describeTasks renders the session's current schedule so the model knows
// what already exists before declaring changes.
func describeTasks(tasks []domain.ScheduledTask) string {
	if len(tasks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Currently scheduled tasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %q next run %s", t.ID, t.Prompt, t.NextRun.Format(time.RFC3339))
		if t.CronExpr != "" {
			fmt.Fprintf(&b, " (cron %s)", t.CronExpr)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// extractSideEffects splits an optional SIDE_EFFECTS trailer off the reply
// text. A malformed trailer is left in place so nothing silently vanishes.
func extractSideEffects(content string) (string, *domain.SideEffects) {
	trimmed := strings.TrimSpace(content)
	idx := strings.LastIndex(trimmed, sideEffectsMarker)
	if idx < 0 {
		return trimmed, nil
	}

	trailer := strings.TrimSpace(trimmed[idx+len(sideEffectsMarker):])
	var effects domain.SideEffects
	if err := json.Unmarshal([]byte(trailer), &effects); err != nil {
		return trimmed, nil
	}

	return strings.TrimSpace(trimmed[:idx]), &effects
}
