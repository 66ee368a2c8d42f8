package aiprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/notecompanion/server/internal/shared/config"
	"github.com/notecompanion/server/internal/shared/metrics"
)

// ErrEmptyResponse is returned when the provider answers without any
// usable content.
var ErrEmptyResponse = errors.New("empty provider response")

// Completion is one chat completion answer with its token accounting.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// TotalTokens returns the metered token cost of the completion.
func (c *Completion) TotalTokens() int64 {
	return int64(c.InputTokens + c.OutputTokens)
}

// Transcription is one audio transcription result.
type Transcription struct {
	Text            string
	DurationSeconds float64
}

// Minutes returns the metered audio cost, rounded up to whole minutes.
func (t *Transcription) Minutes() int64 {
	if t.DurationSeconds <= 0 {
		return 1
	}
	minutes := int64(t.DurationSeconds) / 60
	if int64(t.DurationSeconds)%60 > 0 || t.DurationSeconds > float64(int64(t.DurationSeconds)) {
		minutes++
	}
	return minutes
}

// Provider is the outbound AI collaborator used by the notes module.
type Provider interface {
	Complete(ctx context.Context, operation, systemPrompt, userPrompt string) (*Completion, error)
	Transcribe(ctx context.Context, audio io.Reader, filename string) (*Transcription, error)
}

// Client is an OpenAI-compatible provider client.
type Client struct {
	client             *openai.Client
	model              string
	transcriptionModel string
	metrics            *metrics.Metrics
	logger             *zap.Logger
}

// NewClient creates a new AI provider client. BaseURL may point at any
// OpenAI-compatible endpoint.
func NewClient(cfg *config.AIConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	transcriptionModel := cfg.TranscriptionModel
	if transcriptionModel == "" {
		transcriptionModel = openai.Whisper1
	}

	return &Client{
		client:             openai.NewClientWithConfig(clientCfg),
		model:              model,
		transcriptionModel: transcriptionModel,
		metrics:            m,
		logger:             logger,
	}
}

// Complete runs one chat completion for the given operation.
func (c *Client) Complete(ctx context.Context, operation, systemPrompt, userPrompt string) (*Completion, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	duration := time.Since(start)

	if err != nil {
		c.record(operation, "error", duration)
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		c.record(operation, "error", duration)
		return nil, ErrEmptyResponse
	}

	c.record(operation, "success", duration)
	if c.metrics != nil {
		c.metrics.RecordAITokens(operation, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	return &Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Transcribe runs one Whisper transcription. The verbose format is
// requested so the response carries the audio duration for metering.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (*Transcription, error) {
	start := time.Now()

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		Reader:   audio,
		FilePath: filename,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	duration := time.Since(start)

	if err != nil {
		c.record("transcribe", "error", duration)
		return nil, fmt.Errorf("transcription: %w", err)
	}

	c.record("transcribe", "success", duration)
	return &Transcription{
		Text:            resp.Text,
		DurationSeconds: resp.Duration,
	}, nil
}

func (c *Client) record(operation, status string, duration time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordAIRequest(operation, status, duration)
	}
}
