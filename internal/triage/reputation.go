package triage

import (
	"context"

	"github.com/linnemanlabs/warden/internal/ioc"
)

// Reputation is one indicator's reputation-service result. A "not found"
// indicator comes back as a zero-detection Reputation, which still counts as
// checked-and-clean; only transport/rate-limit errors leave an indicator
// unchecked.
type Reputation struct {
	Detected  bool   `json:"detected"`
	Positives int    `json:"positives"`
	Total     int    `json:"total"`
	Permalink string `json:"permalink,omitempty"`
}

// ReputationClient looks up a single indicator. Implementations must be safe
// for concurrent use; the ti_matching stage fans out lookups.
type ReputationClient interface {
	Lookup(ctx context.Context, kind ioc.Kind, value string) (*Reputation, error)
}
