package aiprovider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notecompanion/server/internal/shared/config"
	"github.com/notecompanion/server/internal/shared/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(&config.AIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, nil, logger.NewNop())
}

func TestComplete(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "meeting-notes"}}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 4, "total_tokens": 124}
		}`))
	})

	result, err := client.Complete(context.Background(), "classify", "You classify documents.", "some note text")
	require.NoError(t, err)
	assert.Equal(t, "meeting-notes", result.Text)
	assert.Equal(t, 120, result.InputTokens)
	assert.Equal(t, 4, result.OutputTokens)
	assert.Equal(t, int64(124), result.TotalTokens())
}

func TestComplete_EmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [], "usage": {}}`))
	})

	_, err := client.Complete(context.Background(), "classify", "sys", "user")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestComplete_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusServiceUnavailable)
	})

	_, err := client.Complete(context.Background(), "tags", "sys", "user")
	assert.Error(t, err)
}

func TestTranscribe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "hello world", "duration": 83.4}`))
	})

	result, err := client.Transcribe(context.Background(), strings.NewReader("fake audio"), "memo.mp3")
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
	assert.InDelta(t, 83.4, result.DurationSeconds, 0.01)
	assert.Equal(t, int64(2), result.Minutes())
}

func TestTranscription_Minutes(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    int64
	}{
		{"zero floors to one", 0, 1},
		{"under a minute", 30, 1},
		{"exactly one minute", 60, 1},
		{"just over a minute", 60.5, 2},
		{"two minutes", 120, 2},
		{"long recording", 3601, 61},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &Transcription{DurationSeconds: tt.seconds}
			assert.Equal(t, tt.want, tr.Minutes())
		})
	}
}
