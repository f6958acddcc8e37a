package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const jobColumns = "id, seq, capture_uid, session_id, status, created_at, updated_at, processor_id, locked_at, raw_image_path, processed_image_path, corrected_image_path, master_image_path, back_image_path, extracted_json, top3_json, inference_path, camera_controls_json, retry_count, ppt_failure_count, error_code, error_message, front_locked, back_ready, canonical_locked, reconciliation_status, accepted_name, accepted_hp, accepted_collector_no, accepted_set_name, accepted_set_size, accepted_variant_tags, item_uid, cm_card_id, timings_json, retry_after"

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*ScanJob, error) {
	var (
		job            ScanJob
		captureUID     sql.NullString
		sessionID      sql.NullString
		statusStr      string
		createdRaw     string
		updatedRaw     string
		processorID    sql.NullString
		lockedRaw      sql.NullString
		rawImage       sql.NullString
		processedImage sql.NullString
		correctedImage sql.NullString
		masterImage    sql.NullString
		backImage      sql.NullString
		extracted      sql.NullString
		top3           sql.NullString
		inferencePath  sql.NullString
		controls       sql.NullString
		errorCode      sql.NullString
		errorMessage   sql.NullString
		reconciliation sql.NullString
		acceptedName   sql.NullString
		acceptedHP     sql.NullInt64
		collectorNo    sql.NullString
		setName        sql.NullString
		setSize        sql.NullInt64
		variantTags    sql.NullString
		itemUID        sql.NullString
		cmCardID       sql.NullString
		timings        sql.NullString
		retryAfterRaw  sql.NullString
	)

	if err := scanner.Scan(
		&job.ID,
		&job.Seq,
		&captureUID,
		&sessionID,
		&statusStr,
		&createdRaw,
		&updatedRaw,
		&processorID,
		&lockedRaw,
		&rawImage,
		&processedImage,
		&correctedImage,
		&masterImage,
		&backImage,
		&extracted,
		&top3,
		&inferencePath,
		&controls,
		&job.RetryCount,
		&job.PptFailureCount,
		&errorCode,
		&errorMessage,
		&job.FrontLocked,
		&job.BackReady,
		&job.CanonicalLocked,
		&reconciliation,
		&acceptedName,
		&acceptedHP,
		&collectorNo,
		&setName,
		&setSize,
		&variantTags,
		&itemUID,
		&cmCardID,
		&timings,
		&retryAfterRaw,
	); err != nil {
		return nil, err
	}

	job.CaptureUID = captureUID.String
	job.SessionID = sessionID.String
	job.Status = Status(statusStr)
	job.ProcessorID = processorID.String
	job.RawImagePath = rawImage.String
	job.ProcessedImagePath = processedImage.String
	job.CorrectedImagePath = correctedImage.String
	job.MasterImagePath = masterImage.String
	job.BackImagePath = backImage.String
	job.InferencePath = inferencePath.String
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMessage.String
	job.ReconciliationStatus = reconciliation.String
	job.Accepted = TruthCore{
		Name:        acceptedName.String,
		HP:          int(acceptedHP.Int64),
		CollectorNo: collectorNo.String,
		SetName:     setName.String,
		SetSize:     int(setSize.Int64),
	}
	job.ItemUID = itemUID.String
	job.CMCardID = cmCardID.String

	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if lockedRaw.Valid {
		if locked, err := parseTimeString(lockedRaw.String); err == nil {
			job.LockedAt = &locked
		}
	}
	if retryAfterRaw.Valid {
		if retryAfter, err := parseTimeString(retryAfterRaw.String); err == nil {
			job.RetryAfter = &retryAfter
		}
	}
	if extracted.Valid && extracted.String != "" {
		job.Extracted = json.RawMessage(extracted.String)
	}
	if err := decodeJSONColumn("top3_json", top3, &job.Top3); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn("camera_controls_json", controls, &job.CameraControls); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn("accepted_variant_tags", variantTags, &job.Accepted.VariantTags); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn("timings_json", timings, &job.Timings); err != nil {
		return nil, err
	}
	if job.Timings == nil {
		job.Timings = Timings{}
	}
	return &job, nil
}

func decodeJSONColumn(column string, raw sql.NullString, dest any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dest); err != nil {
		return fmt.Errorf("decode %s: %w", column, err)
	}
	return nil
}

func encodeJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
