package summarize_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commit365/chatzipper/internal/summarize"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// newStub returns an OpenAI-compatible chat completions endpoint that
// captures the last request and replies with the given content.
func newStub(t *testing.T, content string, status int) (*httptest.Server, *chatRequest) {
	t.Helper()
	captured := &chatRequest{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), "unexpected path %s", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(captured))

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestSummarize_Success(t *testing.T) {
	srv, captured := newStub(t, "  Everyone argued about tabs vs spaces.  ", http.StatusOK)

	c := summarize.New("test-key", summarize.Options{
		Model:   "gpt-3.5-turbo",
		BaseURL: srv.URL + "/v1",
		RPS:     100,
		Burst:   10,
	})

	lines := []string{
		"[2026-08-23T10:00:00Z] Alice: tabs",
		"[2026-08-23T10:00:05Z] Bob: spaces",
	}
	summary, err := c.Summarize(context.Background(), lines)
	require.NoError(t, err)

	// leading/trailing whitespace from the model is stripped
	assert.Equal(t, "Everyone argued about tabs vs spaces.", summary)

	assert.Equal(t, "gpt-3.5-turbo", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[0].Content, "Summarize these chat messages")
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.Equal(t, strings.Join(lines, "\n"), captured.Messages[1].Content)
}

func TestSummarize_EmptyTranscript(t *testing.T) {
	srv, _ := newStub(t, "unused", http.StatusOK)

	c := summarize.New("test-key", summarize.Options{BaseURL: srv.URL + "/v1", RPS: 100, Burst: 10})

	_, err := c.Summarize(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty transcript")
}

func TestSummarize_UpstreamError(t *testing.T) {
	srv, _ := newStub(t, "", http.StatusInternalServerError)

	c := summarize.New("test-key", summarize.Options{BaseURL: srv.URL + "/v1", RPS: 100, Burst: 10})

	_, err := c.Summarize(context.Background(), []string{"line"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion")
}

func TestSummarize_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	t.Cleanup(srv.Close)

	c := summarize.New("test-key", summarize.Options{BaseURL: srv.URL + "/v1", RPS: 100, Burst: 10})

	_, err := c.Summarize(context.Background(), []string{"line"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestSummarize_Throttled(t *testing.T) {
	srv, _ := newStub(t, "ok", http.StatusOK)

	// one token, refilled slowly: the second call has to wait
	c := summarize.New("test-key", summarize.Options{BaseURL: srv.URL + "/v1", RPS: 0.001, Burst: 1})

	_, err := c.Summarize(context.Background(), []string{"line"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Summarize(ctx, []string{"line"})
	require.ErrorIs(t, err, summarize.ErrThrottled)
}
