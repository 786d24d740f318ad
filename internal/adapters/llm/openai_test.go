package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ogirardi/vigil/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatCompletionsServer(t *testing.T, reply string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		})
	}))
}

func TestOpenAIRunner_Run(t *testing.T) {
	var captured map[string]any
	srv := chatCompletionsServer(t, "HEARTBEAT_OK", &captured)
	defer srv.Close()

	runner := NewOpenAIRunner(srv.URL, "test-key", "gpt-4")
	out, err := runner.Run(context.Background(), domain.AgentRunRequest{
		SessionID: "sess-1",
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "context"},
			{Role: domain.RoleUser, Content: "check in"},
		},
		Model: "gpt-4o-mini",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusSuccess, out.Status)
	assert.Equal(t, "HEARTBEAT_OK", out.Result)
	assert.Nil(t, out.SideEffects)

	assert.Equal(t, "gpt-4o-mini", captured["model"], "request model wins over the default")
	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 2)
}

func TestOpenAIRunner_ScheduledTasksInjectedAsSystemContext(t *testing.T) {
	var captured map[string]any
	srv := chatCompletionsServer(t, "ok", &captured)
	defer srv.Close()

	runner := NewOpenAIRunner(srv.URL, "", "")
	_, err := runner.Run(context.Background(), domain.AgentRunRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "check in"}},
		ScheduledTasks: []domain.ScheduledTask{
			{ID: "t1", Prompt: "morning brief", CronExpr: "0 9 * * *", NextRun: time.Now().Add(time.Hour)},
		},
	})
	require.NoError(t, err)

	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Contains(t, first["content"], "morning brief")
	assert.Contains(t, first["content"], "0 9 * * *")
}

func TestOpenAIRunner_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	runner := NewOpenAIRunner(srv.URL, "", "")
	_, err := runner.Run(context.Background(), domain.AgentRunRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestExtractSideEffects(t *testing.T) {
	t.Run("no trailer", func(t *testing.T) {
		text, effects := extractSideEffects("Your build finished.")
		assert.Equal(t, "Your build finished.", text)
		assert.Nil(t, effects)
	})

	t.Run("valid trailer", func(t *testing.T) {
		text, effects := extractSideEffects(
			"I scheduled a reminder.\nSIDE_EFFECTS: {\"schedules\":[{\"kind\":\"add\",\"prompt\":\"remind me\",\"every_ms\":60000}]}")
		assert.Equal(t, "I scheduled a reminder.", text)
		require.NotNil(t, effects)
		require.Len(t, effects.Schedules, 1)
		assert.Equal(t, domain.ScheduleEffectAdd, effects.Schedules[0].Kind)
		assert.Equal(t, int64(60000), effects.Schedules[0].EveryMS)
	})

	t.Run("malformed trailer left in place", func(t *testing.T) {
		text, effects := extractSideEffects("reply\nSIDE_EFFECTS: not json")
		assert.Contains(t, text, "SIDE_EFFECTS")
		assert.Nil(t, effects)
	})
}

func TestNewRunner(t *testing.T) {
	r, err := NewRunner("openai", "http://localhost:1234/v1", "k", "m")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIRunner{}, r)

	r, err = NewRunner("ollama", "http://localhost:11434/v1", "", "")
	require.NoError(t, err)
	assert.IsType(t, &OllamaRunner{}, r)

	_, err = NewRunner("bedrock", "", "", "")
	assert.Error(t, err)
}
