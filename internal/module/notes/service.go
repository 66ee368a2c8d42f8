package notes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/notecompanion/server/internal/adapter/outbound/aiprovider"
	"github.com/notecompanion/server/internal/adapter/outbound/storage"
	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/module/ledger"
	"github.com/notecompanion/server/internal/module/quota"
)

// transcribeTokenSurcharge is the flat token cost billed for the
// post-transcription summary pass, on top of the audio minutes.
const transcribeTokenSurcharge int64 = 1000

const (
	classifySystemPrompt = "You classify notes into exactly one document type. Answer with the type name only, nothing else."
	tagsSystemPrompt     = "You suggest short lowercase tags for notes. Answer with a comma-separated list of tags only."
	formatSystemPrompt   = "You reformat notes. Answer with the reformatted note only, no commentary."
)

var defaultDocumentTypes = []string{
	"meeting-notes", "journal", "reference", "todo", "idea", "receipt", "other",
}

// Meterer records consumption after a metered action completed.
type Meterer interface {
	Meter(ctx context.Context, userID string, resource model.Resource, amount int64)
	Get(ctx context.Context, userID string) (*model.UserUsage, error)
}

// Service runs the metered note operations. Consumption is recorded
// after the fact and never fails the request.
type Service struct {
	provider aiprovider.Provider
	storage  storage.Presigner
	ledger   Meterer
	logger   *zap.Logger
}

// NewService creates a new notes service. storage may be nil when no
// object storage is configured.
func NewService(provider aiprovider.Provider, presigner storage.Presigner, meterer Meterer, logger *zap.Logger) *Service {
	return &Service{
		provider: provider,
		storage:  presigner,
		ledger:   meterer,
		logger:   logger,
	}
}

// Classify determines the document type of a note.
func (s *Service) Classify(ctx context.Context, userID string, req *ClassifyRequest) (*ClassifyResponse, error) {
	types := req.Types
	if len(types) == 0 {
		types = defaultDocumentTypes
	}

	prompt := fmt.Sprintf("Types: %s\n\nNote:\n%s", strings.Join(types, ", "), req.Content)
	completion, err := s.provider.Complete(ctx, "classify", classifySystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	tokens := completion.TotalTokens()
	s.ledger.Meter(ctx, userID, model.ResourceToken, tokens)

	return &ClassifyResponse{
		DocumentType: strings.TrimSpace(completion.Text),
		TokensUsed:   tokens,
	}, nil
}

// SuggestTags proposes tags for a note.
func (s *Service) SuggestTags(ctx context.Context, userID string, req *TagsRequest) (*TagsResponse, error) {
	maxTags := req.MaxTags
	if maxTags <= 0 {
		maxTags = 5
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Suggest at most %d tags.\n", maxTags)
	if len(req.ExistingTags) > 0 {
		fmt.Fprintf(&sb, "Prefer these existing vault tags where they fit: %s\n", strings.Join(req.ExistingTags, ", "))
	}
	fmt.Fprintf(&sb, "\nNote:\n%s", req.Content)

	completion, err := s.provider.Complete(ctx, "tags", tagsSystemPrompt, sb.String())
	if err != nil {
		return nil, err
	}

	tokens := completion.TotalTokens()
	s.ledger.Meter(ctx, userID, model.ResourceToken, tokens)

	return &TagsResponse{
		Tags:       parseTags(completion.Text, maxTags),
		TokensUsed: tokens,
	}, nil
}

// Format rewrites a note per the given instruction.
func (s *Service) Format(ctx context.Context, userID string, req *FormatRequest) (*FormatResponse, error) {
	prompt := fmt.Sprintf("Instruction: %s\n\nNote:\n%s", req.Instruction, req.Content)
	completion, err := s.provider.Complete(ctx, "format", formatSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	tokens := completion.TotalTokens()
	s.ledger.Meter(ctx, userID, model.ResourceToken, tokens)

	return &FormatResponse{
		Content:    completion.Text,
		TokensUsed: tokens,
	}, nil
}

// Transcribe converts audio to text. Audio minutes are metered from the
// reported duration; the summary pass is billed as a flat token amount.
func (s *Service) Transcribe(ctx context.Context, userID string, audio io.Reader, filename string) (*TranscribeResponse, error) {
	transcription, err := s.provider.Transcribe(ctx, audio, filename)
	if err != nil {
		return nil, err
	}

	minutes := transcription.Minutes()
	s.ledger.Meter(ctx, userID, model.ResourceAudioMinute, minutes)
	s.ledger.Meter(ctx, userID, model.ResourceToken, transcribeTokenSurcharge)

	return &TranscribeResponse{
		Text:        transcription.Text,
		MinutesUsed: minutes,
		TokensUsed:  transcribeTokenSurcharge,
	}, nil
}

// UploadURL presigns an audio upload slot for the user.
func (s *Service) UploadURL(ctx context.Context, userID string, req *UploadURLRequest) (*storage.PresignedURL, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("object storage not configured")
	}
	return s.storage.PresignUpload(ctx, userID, req.Filename, req.ContentType)
}

// ErrAudioKeyNotOwned is returned when a user asks for a download URL
// on an object outside their own audio prefix.
var ErrAudioKeyNotOwned = errors.New("audio object does not belong to user")

// AudioURL presigns a download for one of the user's uploaded audio
// objects. Upload keys are namespaced per user, so ownership is a
// prefix check on the key.
func (s *Service) AudioURL(ctx context.Context, userID, key string) (*storage.PresignedURL, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("object storage not configured")
	}
	if !strings.HasPrefix(key, "audio/"+userID+"/") {
		return nil, ErrAudioKeyNotOwned
	}
	return s.storage.PresignDownload(ctx, key)
}

// Usage returns the user's ledger snapshot with remaining quota per
// resource.
func (s *Service) Usage(ctx context.Context, userID string) (*UsageResponse, error) {
	rec, err := s.ledger.Get(ctx, userID)
	if errors.Is(err, ledger.ErrRecordNotFound) {
		// User seen before their first metered request: report the
		// default allotment the evaluator would apply.
		return &UsageResponse{
			UserID:      userID,
			Token:       quota.Evaluate(nil, model.ResourceToken),
			AudioMinute: quota.Evaluate(nil, model.ResourceAudioMinute),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return &UsageResponse{
		UserID:             rec.UserID,
		SubscriptionStatus: rec.SubscriptionStatus.String(),
		PaymentStatus:      rec.PaymentStatus.String(),
		BillingCycle:       rec.BillingCycle.String(),
		CurrentPlan:        rec.CurrentPlan,
		Token:              quota.Evaluate(rec, model.ResourceToken),
		AudioMinute:        quota.Evaluate(rec, model.ResourceAudioMinute),
	}, nil
}

// parseTags splits the model's comma or newline separated answer into
// clean tags.
func parseTags(raw string, limit int) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n'
	})

	tags := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tag := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(f), "#")))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
		if len(tags) == limit {
			break
		}
	}
	return tags
}
