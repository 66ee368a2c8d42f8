package notes

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/notecompanion/server/internal/adapter/outbound/aiprovider"
	"github.com/notecompanion/server/internal/adapter/outbound/storage"
	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/module/ledger"
	"github.com/notecompanion/server/internal/shared/logger"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Complete(ctx context.Context, operation, systemPrompt, userPrompt string) (*aiprovider.Completion, error) {
	args := m.Called(ctx, operation, systemPrompt, userPrompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*aiprovider.Completion), args.Error(1)
}

func (m *mockProvider) Transcribe(ctx context.Context, audio io.Reader, filename string) (*aiprovider.Transcription, error) {
	args := m.Called(ctx, audio, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*aiprovider.Transcription), args.Error(1)
}

type mockMeterer struct {
	mock.Mock
}

func (m *mockMeterer) Meter(ctx context.Context, userID string, resource model.Resource, amount int64) {
	m.Called(ctx, userID, resource, amount)
}

func (m *mockMeterer) Get(ctx context.Context, userID string) (*model.UserUsage, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserUsage), args.Error(1)
}

func newTestService(provider *mockProvider, meterer *mockMeterer) *Service {
	return NewService(provider, nil, meterer, logger.NewNop())
}

func TestClassify_MetersTokens(t *testing.T) {
	provider := new(mockProvider)
	meterer := new(mockMeterer)
	svc := newTestService(provider, meterer)

	provider.On("Complete", mock.Anything, "classify", mock.Anything, mock.Anything).
		Return(&aiprovider.Completion{Text: " meeting-notes\n", InputTokens: 100, OutputTokens: 5}, nil)
	meterer.On("Meter", mock.Anything, "user-1", model.ResourceToken, int64(105)).Return()

	resp, err := svc.Classify(context.Background(), "user-1", &ClassifyRequest{Content: "standup notes"})
	require.NoError(t, err)
	assert.Equal(t, "meeting-notes", resp.DocumentType)
	assert.Equal(t, int64(105), resp.TokensUsed)
	meterer.AssertExpectations(t)
}

func TestClassify_ProviderErrorNotMetered(t *testing.T) {
	provider := new(mockProvider)
	meterer := new(mockMeterer)
	svc := newTestService(provider, meterer)

	provider.On("Complete", mock.Anything, "classify", mock.Anything, mock.Anything).
		Return(nil, assert.AnError)

	_, err := svc.Classify(context.Background(), "user-1", &ClassifyRequest{Content: "text"})
	assert.Error(t, err)
	meterer.AssertNotCalled(t, "Meter", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSuggestTags_ParsesAndDeduplicates(t *testing.T) {
	provider := new(mockProvider)
	meterer := new(mockMeterer)
	svc := newTestService(provider, meterer)

	provider.On("Complete", mock.Anything, "tags", mock.Anything, mock.Anything).
		Return(&aiprovider.Completion{Text: "#Work, meetings\nwork, , planning", InputTokens: 80, OutputTokens: 10}, nil)
	meterer.On("Meter", mock.Anything, "user-1", model.ResourceToken, int64(90)).Return()

	resp, err := svc.SuggestTags(context.Background(), "user-1", &TagsRequest{Content: "agenda"})
	require.NoError(t, err)
	assert.Equal(t, []string{"work", "meetings", "planning"}, resp.Tags)
}

func TestSuggestTags_HonorsMaxTags(t *testing.T) {
	provider := new(mockProvider)
	meterer := new(mockMeterer)
	svc := newTestService(provider, meterer)

	provider.On("Complete", mock.Anything, "tags", mock.Anything, mock.Anything).
		Return(&aiprovider.Completion{Text: "a, b, c, d, e"}, nil)
	meterer.On("Meter", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	resp, err := svc.SuggestTags(context.Background(), "user-1", &TagsRequest{Content: "x", MaxTags: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, resp.Tags)
}

func TestFormat(t *testing.T) {
	provider := new(mockProvider)
	meterer := new(mockMeterer)
	svc := newTestService(provider, meterer)

	provider.On("Complete", mock.Anything, "format", mock.Anything, mock.Anything).
		Return(&aiprovider.Completion{Text: "# Cleaned\n\nbody", InputTokens: 200, OutputTokens: 50}, nil)
	meterer.On("Meter", mock.Anything, "user-1", model.ResourceToken, int64(250)).Return()

	resp, err := svc.Format(context.Background(), "user-1", &FormatRequest{
		Content:     "messy",
		Instruction: "use headings",
	})
	require.NoError(t, err)
	assert.Equal(t, "# Cleaned\n\nbody", resp.Content)
	assert.Equal(t, int64(250), resp.TokensUsed)
}

func TestTranscribe_MetersMinutesAndSurcharge(t *testing.T) {
	provider := new(mockProvider)
	meterer := new(mockMeterer)
	svc := newTestService(provider, meterer)

	provider.On("Transcribe", mock.Anything, mock.Anything, "memo.mp3").
		Return(&aiprovider.Transcription{Text: "hello", DurationSeconds: 150}, nil)
	meterer.On("Meter", mock.Anything, "user-1", model.ResourceAudioMinute, int64(3)).Return()
	meterer.On("Meter", mock.Anything, "user-1", model.ResourceToken, transcribeTokenSurcharge).Return()

	resp, err := svc.Transcribe(context.Background(), "user-1", strings.NewReader("audio"), "memo.mp3")
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, int64(3), resp.MinutesUsed)
	assert.Equal(t, transcribeTokenSurcharge, resp.TokensUsed)
	meterer.AssertExpectations(t)
}

func TestUsage(t *testing.T) {
	meterer := new(mockMeterer)
	svc := newTestService(new(mockProvider), meterer)

	meterer.On("Get", mock.Anything, "user-1").Return(&model.UserUsage{
		UserID:             "user-1",
		TokenUsage:         1_000_000,
		MaxTokenUsage:      model.DefaultMaxTokenUsage,
		AudioMinutesUsed:   10,
		MaxAudioMinutes:    model.DefaultMaxAudioMinutes,
		SubscriptionStatus: model.AccountStatusActive,
		PaymentStatus:      model.PaymentStatusPaid,
		BillingCycle:       model.BillingCycleMonthly,
		CurrentPlan:        "monthly",
	}, nil)

	resp, err := svc.Usage(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4_000_000), resp.Token.Remaining)
	assert.Equal(t, int64(50), resp.AudioMinute.Remaining)
	assert.Equal(t, "active", resp.SubscriptionStatus)
}

func TestUsage_MissingRecordUsesDefaults(t *testing.T) {
	meterer := new(mockMeterer)
	svc := newTestService(new(mockProvider), meterer)

	meterer.On("Get", mock.Anything, "user-2").Return(nil, ledger.ErrRecordNotFound)

	resp, err := svc.Usage(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultMaxTokenUsage, resp.Token.Remaining)
	assert.Equal(t, model.DefaultMaxAudioMinutes, resp.AudioMinute.Remaining)
}

type mockPresigner struct {
	mock.Mock
}

func (m *mockPresigner) PresignUpload(ctx context.Context, userID, filename, contentType string) (*storage.PresignedURL, error) {
	args := m.Called(ctx, userID, filename, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.PresignedURL), args.Error(1)
}

func (m *mockPresigner) PresignDownload(ctx context.Context, key string) (*storage.PresignedURL, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.PresignedURL), args.Error(1)
}

func TestAudioURL_PresignsOwnedKey(t *testing.T) {
	presigner := new(mockPresigner)
	svc := NewService(new(mockProvider), presigner, new(mockMeterer), logger.NewNop())

	key := "audio/user-1/abc-recording.m4a"
	presigner.On("PresignDownload", mock.Anything, key).
		Return(&storage.PresignedURL{URL: "https://r2.example/" + key, Method: "GET", Key: key}, nil)

	url, err := svc.AudioURL(context.Background(), "user-1", key)
	require.NoError(t, err)
	assert.Equal(t, key, url.Key)
	presigner.AssertExpectations(t)
}

func TestAudioURL_RejectsForeignKey(t *testing.T) {
	presigner := new(mockPresigner)
	svc := NewService(new(mockProvider), presigner, new(mockMeterer), logger.NewNop())

	_, err := svc.AudioURL(context.Background(), "user-1", "audio/user-2/abc-recording.m4a")
	assert.ErrorIs(t, err, ErrAudioKeyNotOwned)
	presigner.AssertNotCalled(t, "PresignDownload", mock.Anything, mock.Anything)
}

func TestAudioURL_NoStorageConfigured(t *testing.T) {
	svc := newTestService(new(mockProvider), new(mockMeterer))

	_, err := svc.AudioURL(context.Background(), "user-1", "audio/user-1/abc.m4a")
	assert.Error(t, err)
}
