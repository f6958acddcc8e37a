package stage

import (
	"context"
	"encoding/json"

	"cardmint/internal/queue"
)

// Classification is what a classifier returns for one scan.
type Classification struct {
	Extracted     json.RawMessage
	Top3          []queue.Candidate
	InferencePath string
}

// Extraction converts the classification into the store's representation.
func (c Classification) Extraction() queue.Extraction {
	return queue.Extraction{
		Extracted:     c.Extracted,
		Top3:          c.Top3,
		InferencePath: c.InferencePath,
	}
}

// Classifier identifies the card on a job's front image.
type Classifier interface {
	Classify(ctx context.Context, job *queue.ScanJob) (Classification, error)
	HealthCheck(ctx context.Context) Health
}

// PriceQuote is a market price for one candidate, in minor currency units.
type PriceQuote struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Source      string `json:"source,omitempty"`
}

// PriceLookup fetches market prices for classified candidates.
type PriceLookup interface {
	Lookup(ctx context.Context, candidate queue.Candidate) (PriceQuote, error)
	HealthCheck(ctx context.Context) Health
}

// IntakeSource owns the captured-image inbox feeding the pipeline.
type IntakeSource interface {
	// Pending lists image files waiting to be turned into jobs.
	Pending(ctx context.Context) ([]string, error)
	// Purge removes every file in the inbox and reports how many were removed.
	Purge(ctx context.Context) (int, error)
}
