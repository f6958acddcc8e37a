package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a scan job.
type Status string

const (
	StatusQueued          Status = "QUEUED"
	StatusCapturing       Status = "CAPTURING"
	StatusCaptured        Status = "CAPTURED"
	StatusBackImage       Status = "BACK_IMAGE"
	StatusPreprocessing   Status = "PREPROCESSING"
	StatusInferencing     Status = "INFERENCING"
	StatusCandidatesReady Status = "CANDIDATES_READY"
	StatusOperatorPending Status = "OPERATOR_PENDING"
	StatusUnmatched       Status = "UNMATCHED_NO_REASONABLE_CANDIDATE"
	StatusNeedsReview     Status = "NEEDS_REVIEW"
	StatusAccepted        Status = "ACCEPTED"
	// StatusFailed is terminal: the worker pool exhausted the retry cap.
	StatusFailed Status = "FAILED"
)

var allStatuses = []Status{
	StatusQueued,
	StatusCapturing,
	StatusCaptured,
	StatusBackImage,
	StatusPreprocessing,
	StatusInferencing,
	StatusCandidatesReady,
	StatusOperatorPending,
	StatusUnmatched,
	StatusNeedsReview,
	StatusAccepted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	m := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		m[status] = struct{}{}
	}
	return m
}()

// activeStatuses are still in flight through the machine part of the pipeline.
// They drive queue depth, ClearQueue, and destructive recovery.
var activeStatuses = []Status{
	StatusQueued,
	StatusCapturing,
	StatusCaptured,
	StatusBackImage,
	StatusPreprocessing,
	StatusInferencing,
}

// claimableStatuses may be claimed when their lease is absent or expired.
// INFERENCING is included so a timed-out lease can be reclaimed.
var claimableStatuses = []Status{StatusQueued, StatusCaptured, StatusInferencing}

// operatorStatuses allow the front image to be locked.
var operatorStatuses = []Status{
	StatusOperatorPending,
	StatusCandidatesReady,
	StatusUnmatched,
	StatusNeedsReview,
}

var initialStatuses = map[Status]struct{}{
	StatusQueued:    {},
	StatusCapturing: {},
	StatusCaptured:  {},
}

// AllStatuses returns a copy of every known status in pipeline order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ActiveStatuses returns the statuses counted by QueueDepth.
func ActiveStatuses() []Status {
	out := make([]Status, len(activeStatuses))
	copy(out, activeStatuses)
	return out
}

// ParseStatus converts a user supplied string to a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	normalized = Status(strings.ReplaceAll(string(normalized), "-", "_"))
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsActiveStatus reports whether status counts toward queue depth.
func IsActiveStatus(status Status) bool {
	for _, s := range activeStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further pipeline work happens for status.
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusFailed
}

// Reconciliation markers set by LockCanonical and the accept transitions.
const (
	ReconciliationPending  = "pending"
	ReconciliationResolved = "resolved"
)

// Timings maps a stage name to a duration or timestamp in milliseconds.
type Timings map[string]int64

// Candidate is one ranked classification match.
type Candidate struct {
	Name        string  `json:"name"`
	SetName     string  `json:"set_name,omitempty"`
	CollectorNo string  `json:"collector_no,omitempty"`
	CMCardID    string  `json:"cm_card_id,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// CameraControl records one control the capture rig applied for a job.
type CameraControl struct {
	Control   string    `json:"control"`
	Value     string    `json:"value"`
	Source    string    `json:"source,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// TruthCore holds the operator-confirmed identity of an accepted card.
type TruthCore struct {
	Name        string   `json:"name"`
	HP          int      `json:"hp,omitempty"`
	CollectorNo string   `json:"collector_no,omitempty"`
	SetName     string   `json:"set_name,omitempty"`
	SetSize     int      `json:"set_size,omitempty"`
	VariantTags []string `json:"variant_tags,omitempty"`
}

// InventoryResult references an inventory record created before accept.
type InventoryResult struct {
	ItemUID  string `json:"item_uid"`
	CMCardID string `json:"cm_card_id,omitempty"`
}

// ScanJob is one physical scan attempt.
type ScanJob struct {
	ID         string
	Seq        int64
	CaptureUID string
	SessionID  string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time

	ProcessorID string
	LockedAt    *time.Time

	RawImagePath       string
	ProcessedImagePath string
	CorrectedImagePath string
	MasterImagePath    string
	BackImagePath      string

	Extracted      json.RawMessage
	Top3           []Candidate
	InferencePath  string
	CameraControls []CameraControl

	RetryCount      int
	PptFailureCount int
	RetryAfter      *time.Time
	ErrorCode       string
	ErrorMessage    string

	FrontLocked          bool
	BackReady            bool
	CanonicalLocked      bool
	ReconciliationStatus string

	Accepted TruthCore
	ItemUID  string
	CMCardID string

	Timings Timings
}

// FrontImagePath returns the best available front image.
func (j *ScanJob) FrontImagePath() string {
	for _, candidate := range []string{j.CorrectedImagePath, j.ProcessedImagePath, j.RawImagePath} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

// HasLease reports whether a worker currently owns the job.
func (j *ScanJob) HasLease() bool {
	return j.ProcessorID != "" && j.LockedAt != nil
}

// NewJob describes a job to create.
type NewJob struct {
	ID           string
	CaptureUID   string
	SessionID    string
	Status       Status
	RawImagePath string
	Timings      Timings
}

// ImagePaths carries a partial update of image paths; empty fields are left unchanged.
type ImagePaths struct {
	Raw       string
	Processed string
	Corrected string
	Master    string
	Back      string
}

func (p ImagePaths) empty() bool {
	return p.Raw == "" && p.Processed == "" && p.Corrected == "" && p.Master == "" && p.Back == ""
}

// Extraction is the classification output persisted on a job.
type Extraction struct {
	Extracted     json.RawMessage
	Top3          []Candidate
	InferencePath string
}

// JobEvent is one entry of a job's status history.
type JobEvent struct {
	ID         int64
	JobID      string
	Status     Status
	Actor      string
	Detail     string
	RecordedAt time.Time
}

// Session is an operator capture session.
type Session struct {
	ID        string
	Operator  string
	Status    string
	StartedAt time.Time
	EndedAt   *time.Time
}

const (
	SessionActive  = "ACTIVE"
	SessionEnded   = "ENDED"
	SessionAborted = "ABORTED"
)

// HealthSummary aggregates queue state for diagnostic output.
type HealthSummary struct {
	Total           int `json:"total"`
	Active          int `json:"active"`
	Leased          int `json:"leased"`
	OperatorPending int `json:"operator_pending"`
	Accepted        int `json:"accepted"`
	Failed          int `json:"failed"`
}

// DatabaseHealth describes the store's physical state.
type DatabaseHealth struct {
	Driver         string   `json:"driver"`
	Location       string   `json:"location"`
	SchemaVersion  int      `json:"schema_version"`
	Readable       bool     `json:"readable"`
	TableExists    bool     `json:"table_exists"`
	ColumnsPresent []string `json:"columns_present,omitempty"`
	MissingColumns []string `json:"missing_columns,omitempty"`
	TotalJobs      int      `json:"total_jobs"`
	IntegrityCheck bool     `json:"integrity_check"`
	Error          string   `json:"error,omitempty"`
}

func (s Status) String() string { return string(s) }

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}

func describeJob(id string) string {
	return fmt.Sprintf("job %q", id)
}
