package quota

import (
	"fmt"

	"github.com/notecompanion/server/internal/model"
)

// Status is the quota position of one resource dimension.
type Status struct {
	Resource  model.Resource `json:"resource"`
	Used      int64          `json:"used"`
	Limit     int64          `json:"limit"`
	Remaining int64          `json:"remaining"`
	Exhausted bool           `json:"exhausted"`
}

// Message returns the client-facing description of an exhausted quota.
func (s Status) Message() string {
	return fmt.Sprintf("%s quota exceeded: %d of %d used", s.Resource, s.Used, s.Limit)
}

// Evaluate computes the quota status for one resource. It performs no
// I/O: callers load the record, Evaluate only does arithmetic. A nil
// record evaluates against the default allotment, matching how a user
// looks before their row is created.
func Evaluate(rec *model.UserUsage, resource model.Resource) Status {
	var used, limit int64
	switch resource {
	case model.ResourceAudioMinute:
		if rec == nil {
			limit = model.DefaultMaxAudioMinutes
		} else {
			used, limit = rec.AudioMinutesUsed, rec.MaxAudioMinutes
		}
	default:
		if rec == nil {
			limit = model.DefaultMaxTokenUsage
		} else {
			used, limit = rec.TokenUsage, rec.MaxTokenUsage
		}
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return Status{
		Resource:  resource,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		Exhausted: remaining <= 0,
	}
}
