package notes

import (
	"github.com/notecompanion/server/internal/module/quota"
)

// ClassifyRequest asks for the document type of a note.
type ClassifyRequest struct {
	Content string   `json:"content" binding:"required"`
	Types   []string `json:"types,omitempty"`
}

// ClassifyResponse is the classification answer.
type ClassifyResponse struct {
	DocumentType string `json:"document_type"`
	TokensUsed   int64  `json:"tokens_used"`
}

// TagsRequest asks for tag suggestions for a note.
type TagsRequest struct {
	Content      string   `json:"content" binding:"required"`
	ExistingTags []string `json:"existing_tags,omitempty"`
	MaxTags      int      `json:"max_tags,omitempty"`
}

// TagsResponse is the tag suggestion answer.
type TagsResponse struct {
	Tags       []string `json:"tags"`
	TokensUsed int64    `json:"tokens_used"`
}

// FormatRequest asks for a note to be rewritten per an instruction.
type FormatRequest struct {
	Content     string `json:"content" binding:"required"`
	Instruction string `json:"instruction" binding:"required"`
}

// FormatResponse is the reformatted note.
type FormatResponse struct {
	Content    string `json:"content"`
	TokensUsed int64  `json:"tokens_used"`
}

// TranscribeResponse is the transcription answer.
type TranscribeResponse struct {
	Text        string `json:"text"`
	MinutesUsed int64  `json:"minutes_used"`
	TokensUsed  int64  `json:"tokens_used"`
}

// UploadURLRequest asks for a presigned audio upload slot.
type UploadURLRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type,omitempty"`
}

// UsageResponse is the dashboard snapshot of the user's ledger.
type UsageResponse struct {
	UserID             string       `json:"user_id"`
	SubscriptionStatus string       `json:"subscription_status"`
	PaymentStatus      string       `json:"payment_status"`
	BillingCycle       string       `json:"billing_cycle"`
	CurrentPlan        string       `json:"current_plan"`
	Token              quota.Status `json:"token"`
	AudioMinute        quota.Status `json:"audio_minute"`
}
