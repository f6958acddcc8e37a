package workflow

import (
	"cardmint/internal/stage"
)

// StageSet bundles the collaborators the workers call.
type StageSet struct {
	Classifier stage.Classifier
	Pricing    stage.PriceLookup
}

// Error codes persisted on jobs by the worker pool.
const (
	ErrorCodeClassifier    = "CLASSIFIER_FAILED"
	ErrorCodeInvalidResult = "INVALID_CLASSIFICATION"
	ErrorCodePricing       = "PPT_UNAVAILABLE"
	ErrorCodePricingSkip   = "PPT_SKIPPED"
)

// Timing keys merged into a job's timings.
const (
	timingClassify = "classify_ms"
	timingPricing  = "pricing_ms"
	timingWorker   = "worker_ms"
)
