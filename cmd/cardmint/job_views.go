package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cardmint/internal/queue"
	"cardmint/internal/stage"
)

func buildJobRows(jobs []*queue.ScanJob) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		best := "-"
		if candidate, ok := stage.BestCandidate(job.Top3); ok {
			best = fmt.Sprintf("%s (%.0f%%)", candidate.Name, candidate.Confidence*100)
		}
		lease := "-"
		if job.HasLease() {
			lease = job.ProcessorID
		}
		rows = append(rows, []string{
			job.ID,
			string(job.Status),
			formatLocal(job.CreatedAt),
			best,
			strconv.Itoa(job.RetryCount),
			lease,
			errorSummary(job),
		})
	}
	return rows
}

func buildJobDetailRows(job *queue.ScanJob) [][]string {
	rows := [][]string{
		{"ID", job.ID},
		{"Status", string(job.Status)},
		{"Capture UID", dash(job.CaptureUID)},
		{"Session", dash(job.SessionID)},
		{"Created", formatLocal(job.CreatedAt)},
		{"Updated", formatLocal(job.UpdatedAt)},
		{"Front Image", dash(job.FrontImagePath())},
		{"Back Image", dash(job.BackImagePath)},
	}
	if job.HasLease() {
		rows = append(rows, []string{"Lease", fmt.Sprintf("%s since %s", job.ProcessorID, formatLocal(*job.LockedAt))})
	}
	for i, candidate := range job.Top3 {
		rows = append(rows, []string{
			fmt.Sprintf("Candidate %d", i+1),
			fmt.Sprintf("%s %s #%s (%.0f%%)", candidate.Name, candidate.SetName, candidate.CollectorNo, candidate.Confidence*100),
		})
	}
	rows = append(rows,
		[]string{"Gates", fmt.Sprintf("front %s, back %s, canonical %s", yesNo(job.FrontLocked), yesNo(job.BackReady), yesNo(job.CanonicalLocked))},
		[]string{"Retries", fmt.Sprintf("%d (pricing failures %d)", job.RetryCount, job.PptFailureCount)},
		[]string{"Error", dash(errorSummary(job))},
	)
	if job.Accepted.Name != "" {
		rows = append(rows, []string{"Accepted", fmt.Sprintf("%s %s #%s", job.Accepted.Name, job.Accepted.SetName, job.Accepted.CollectorNo)})
	}
	if job.ItemUID != "" {
		rows = append(rows, []string{"Item UID", job.ItemUID})
	}
	if job.CMCardID != "" || job.ReconciliationStatus != "" {
		rows = append(rows, []string{"Canonical", fmt.Sprintf("%s (%s)", dash(job.CMCardID), dash(job.ReconciliationStatus))})
	}
	return rows
}

func errorSummary(job *queue.ScanJob) string {
	if job.ErrorCode == "" && job.ErrorMessage == "" {
		return ""
	}
	msg := strings.TrimSpace(job.ErrorMessage)
	if len(msg) > 60 {
		msg = msg[:57] + "..."
	}
	if job.ErrorCode == "" {
		return msg
	}
	return job.ErrorCode + ": " + msg
}

func formatLocal(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
