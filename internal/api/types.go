package api

import (
	"encoding/json"
	"time"

	"cardmint/internal/queue"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Candidate is one ranked classification match.
type Candidate struct {
	Name        string  `json:"name"`
	SetName     string  `json:"setName,omitempty"`
	CollectorNo string  `json:"collectorNo,omitempty"`
	CMCardID    string  `json:"cmCardId,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// TruthCore is the operator-confirmed identity of a card.
type TruthCore struct {
	Name        string   `json:"name"`
	HP          int      `json:"hp,omitempty"`
	CollectorNo string   `json:"collectorNo,omitempty"`
	SetName     string   `json:"setName,omitempty"`
	SetSize     int      `json:"setSize,omitempty"`
	VariantTags []string `json:"variantTags,omitempty"`
}

// Job describes a scan job in a transport-friendly format.
type Job struct {
	ID                   string           `json:"id"`
	Seq                  int64            `json:"seq"`
	CaptureUID           string           `json:"captureUid,omitempty"`
	SessionID            string           `json:"sessionId,omitempty"`
	Status               string           `json:"status"`
	CreatedAt            string           `json:"createdAt"`
	UpdatedAt            string           `json:"updatedAt"`
	ProcessorID          string           `json:"processorId,omitempty"`
	LockedAt             string           `json:"lockedAt,omitempty"`
	Images               JobImages        `json:"images"`
	Extracted            json.RawMessage  `json:"extracted,omitempty"`
	Top3                 []Candidate      `json:"top3,omitempty"`
	InferencePath        string           `json:"inferencePath,omitempty"`
	RetryCount           int              `json:"retryCount"`
	PptFailureCount      int              `json:"pptFailureCount"`
	RetryAfter           string           `json:"retryAfter,omitempty"`
	ErrorCode            string           `json:"errorCode,omitempty"`
	ErrorMessage         string           `json:"errorMessage,omitempty"`
	FrontLocked          bool             `json:"frontLocked"`
	BackReady            bool             `json:"backReady"`
	CanonicalLocked      bool             `json:"canonicalLocked"`
	ReconciliationStatus string           `json:"reconciliationStatus,omitempty"`
	Accepted             *TruthCore       `json:"accepted,omitempty"`
	ItemUID              string           `json:"itemUid,omitempty"`
	CMCardID             string           `json:"cmCardId,omitempty"`
	Timings              map[string]int64 `json:"timings,omitempty"`
}

// JobImages groups the image artifacts of a job.
type JobImages struct {
	Raw       string `json:"raw,omitempty"`
	Processed string `json:"processed,omitempty"`
	Corrected string `json:"corrected,omitempty"`
	Master    string `json:"master,omitempty"`
	Back      string `json:"back,omitempty"`
}

// JobEvent is one status history entry.
type JobEvent struct {
	Status     string `json:"status"`
	Actor      string `json:"actor"`
	Detail     string `json:"detail,omitempty"`
	RecordedAt string `json:"recordedAt"`
}

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	ID           string           `json:"id"`
	CaptureUID   string           `json:"captureUid"`
	SessionID    string           `json:"sessionId"`
	Status       string           `json:"status"`
	RawImagePath string           `json:"rawImagePath"`
	Timings      map[string]int64 `json:"timings"`
}

// AcceptRequest is the body of the accept endpoints.
type AcceptRequest struct {
	TruthCore TruthCore        `json:"truthCore"`
	ItemUID   string           `json:"itemUid"`
	CMCardID  string           `json:"cmCardId"`
	Timings   map[string]int64 `json:"timings"`
}

// DepthResponse reports queue depth against the admission limit.
type DepthResponse struct {
	Depth     int  `json:"depth"`
	MaxDepth  int  `json:"maxDepth"`
	Accepting bool `json:"accepting"`
}

// StatsResponse provides queue counts keyed by status and a health summary.
type StatsResponse struct {
	Counts map[string]int      `json:"counts"`
	Health queue.HealthSummary `json:"health"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// HistoryResponse wraps a job's status history.
type HistoryResponse struct {
	Events []JobEvent `json:"events"`
}

// FromScanJob converts a store record to its transport form.
func FromScanJob(job *queue.ScanJob) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:         job.ID,
		Seq:        job.Seq,
		CaptureUID: job.CaptureUID,
		SessionID:  job.SessionID,
		Status:     string(job.Status),
		CreatedAt:  formatTime(job.CreatedAt),
		UpdatedAt:  formatTime(job.UpdatedAt),
		Images: JobImages{
			Raw:       job.RawImagePath,
			Processed: job.ProcessedImagePath,
			Corrected: job.CorrectedImagePath,
			Master:    job.MasterImagePath,
			Back:      job.BackImagePath,
		},
		Extracted:            job.Extracted,
		InferencePath:        job.InferencePath,
		RetryCount:           job.RetryCount,
		PptFailureCount:      job.PptFailureCount,
		ErrorCode:            job.ErrorCode,
		ErrorMessage:         job.ErrorMessage,
		FrontLocked:          job.FrontLocked,
		BackReady:            job.BackReady,
		CanonicalLocked:      job.CanonicalLocked,
		ReconciliationStatus: job.ReconciliationStatus,
		ItemUID:              job.ItemUID,
		CMCardID:             job.CMCardID,
		Timings:              job.Timings,
	}
	if job.HasLease() {
		dto.ProcessorID = job.ProcessorID
		dto.LockedAt = formatTime(*job.LockedAt)
	}
	if job.RetryAfter != nil {
		dto.RetryAfter = formatTime(*job.RetryAfter)
	}
	for _, c := range job.Top3 {
		dto.Top3 = append(dto.Top3, Candidate{
			Name:        c.Name,
			SetName:     c.SetName,
			CollectorNo: c.CollectorNo,
			CMCardID:    c.CMCardID,
			Confidence:  c.Confidence,
		})
	}
	if job.Accepted.Name != "" {
		truth := fromTruthCore(job.Accepted)
		dto.Accepted = &truth
	}
	return dto
}

// FromScanJobs converts a slice of store records.
func FromScanJobs(jobs []*queue.ScanJob) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		out = append(out, FromScanJob(job))
	}
	return out
}

// FromJobEvents converts history rows.
func FromJobEvents(events []queue.JobEvent) []JobEvent {
	out := make([]JobEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, JobEvent{
			Status:     string(evt.Status),
			Actor:      evt.Actor,
			Detail:     evt.Detail,
			RecordedAt: formatTime(evt.RecordedAt),
		})
	}
	return out
}

// MergeQueueStats converts store counts to string keys, including zeroes for
// every known status.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// ToTruthCore converts the transport form to the store's.
func (t TruthCore) ToTruthCore() queue.TruthCore {
	return queue.TruthCore{
		Name:        t.Name,
		HP:          t.HP,
		CollectorNo: t.CollectorNo,
		SetName:     t.SetName,
		SetSize:     t.SetSize,
		VariantTags: t.VariantTags,
	}
}

func fromTruthCore(t queue.TruthCore) TruthCore {
	return TruthCore{
		Name:        t.Name,
		HP:          t.HP,
		CollectorNo: t.CollectorNo,
		SetName:     t.SetName,
		SetSize:     t.SetSize,
		VariantTags: t.VariantTags,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
