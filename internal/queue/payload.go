package queue

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed capture_schema.json
var captureSchemaJSON []byte

var (
	captureSchemaOnce sync.Once
	captureSchema     *jsonschema.Schema
	captureSchemaErr  error
)

func compiledCaptureSchema() (*jsonschema.Schema, error) {
	captureSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("capture_schema.json", bytes.NewReader(captureSchemaJSON)); err != nil {
			captureSchemaErr = fmt.Errorf("add capture schema: %w", err)
			return
		}
		captureSchema, captureSchemaErr = compiler.Compile("capture_schema.json")
	})
	return captureSchema, captureSchemaErr
}

// ValidateExtracted checks a classifier payload against the capture schema.
func ValidateExtracted(data json.RawMessage) error {
	schema, err := compiledCaptureSchema()
	if err != nil {
		return fmt.Errorf("compile capture schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return validation("validate extracted", "payload is not valid JSON: "+err.Error())
	}
	if err := schema.Validate(v); err != nil {
		return validation("validate extracted", "payload does not match capture schema: "+err.Error())
	}
	return nil
}

// ExtractedFields is the typed view of a validated extracted payload.
type ExtractedFields struct {
	CardName   string  `json:"card_name"`
	SetNumber  string  `json:"set_number,omitempty"`
	CardNumber string  `json:"card_number,omitempty"`
	HPValue    *int    `json:"hp_value,omitempty"`
	Confidence float64 `json:"confidence"`
}

// DecodeExtracted parses a stored payload. An empty payload yields zero fields.
func DecodeExtracted(data json.RawMessage) (ExtractedFields, error) {
	var fields ExtractedFields
	if len(data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return fields, fmt.Errorf("decode extracted: %w", err)
	}
	return fields, nil
}
