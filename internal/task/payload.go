package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type GenerationMode string

const (
	ModeCreate     GenerationMode = "create"
	ModeApplyFixes GenerationMode = "apply_fixes"
)

// Payload is implemented by the per-category payload schemas.
type Payload interface {
	Category() Category
	Validate() error
}

type GenerationPayload struct {
	Mode     GenerationMode `json:"mode"`
	Prompt   string         `json:"prompt,omitempty"`
	Language string         `json:"language,omitempty"`
	Artifact string         `json:"artifact,omitempty"`
	Fixes    []string       `json:"fixes,omitempty"`
}

type ValidationPayload struct {
	Artifact string `json:"artifact"`
	Language string `json:"language,omitempty"`
	Context  string `json:"context,omitempty"`
}

type IndexingPayload struct {
	Artifact string            `json:"artifact"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (GenerationPayload) Category() Category { return CategoryGeneration }
func (ValidationPayload) Category() Category { return CategoryValidation }
func (IndexingPayload) Category() Category   { return CategoryIndexing }

func (p GenerationPayload) Validate() error {
	switch p.Mode {
	case ModeCreate:
		if strings.TrimSpace(p.Prompt) == "" {
			return errors.New("generation payload requires a prompt")
		}
	case ModeApplyFixes:
		if strings.TrimSpace(p.Artifact) == "" {
			return errors.New("apply_fixes payload requires an artifact")
		}
		if len(p.Fixes) == 0 {
			return errors.New("apply_fixes payload requires at least one fix")
		}
	default:
		return fmt.Errorf("unknown generation mode %q", p.Mode)
	}
	return nil
}

func (p ValidationPayload) Validate() error {
	if strings.TrimSpace(p.Artifact) == "" {
		return errors.New("validation payload requires an artifact")
	}
	return nil
}

func (p IndexingPayload) Validate() error {
	if strings.TrimSpace(p.Artifact) == "" {
		return errors.New("indexing payload requires an artifact")
	}
	return nil
}

// DecodePayload builds the concrete payload for category from its JSON form.
// Unknown fields are rejected so malformed submissions never reach a queue.
func DecodePayload(category Category, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, &SubmissionError{Reason: "payload is required"}
	}

	var (
		payload Payload
		err     error
	)
	switch category {
	case CategoryGeneration:
		var p GenerationPayload
		err = strictUnmarshal(raw, &p)
		payload = p
	case CategoryValidation:
		var p ValidationPayload
		err = strictUnmarshal(raw, &p)
		payload = p
	case CategoryIndexing:
		var p IndexingPayload
		err = strictUnmarshal(raw, &p)
		payload = p
	default:
		return nil, &SubmissionError{Reason: fmt.Sprintf("unknown category %q", category)}
	}
	if err != nil {
		return nil, &SubmissionError{Reason: fmt.Sprintf("malformed %s payload: %v", category, err)}
	}

	return payload, nil
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
