package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Operation is the kind of change a record carries.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeRecord is a single keyed change from a geodiff report.
// Fields holds the new attribute values for inserts and updates.
// PreviousFields holds the pre-change values and only appears on updates.
type ChangeRecord struct {
	Op             Operation      `json:"op"`
	Key            string         `json:"key"`
	Fields         map[string]any `json:"fields,omitempty"`
	PreviousFields map[string]any `json:"previous_fields,omitempty"`
}

// Report is a parsed geodiff report. Changes keep document order.
type Report struct {
	Source      string         `json:"source"`
	GeneratedAt time.Time      `json:"generated_at"`
	Changes     []ChangeRecord `json:"changes"`
}

type ParseErrorKind string

const (
	KindMalformed        ParseErrorKind = "malformed"
	KindMissingField     ParseErrorKind = "missing_field"
	KindInvalidOperation ParseErrorKind = "invalid_operation"
)

// ParseError pinpoints the record that failed validation.
// Position is the zero-based record index, or -1 for document-level errors.
type ParseError struct {
	Kind     ParseErrorKind
	Position int
	Detail   string
}

func (e *ParseError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("parse report: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("parse report: %s at record %d: %s", e.Kind, e.Position, e.Detail)
}

type reportDoc struct {
	GeneratedAt string      `json:"generated_at"`
	Source      string      `json:"source"`
	Changes     []changeDoc `json:"changes"`
}

type changeDoc struct {
	Op             string         `json:"op"`
	Key            string         `json:"key"`
	Fields         map[string]any `json:"fields"`
	PreviousFields map[string]any `json:"previous_fields"`
}

// Parse decodes and validates a geodiff report document.
// It is side-effect free and never issues remote calls.
func Parse(raw []byte) (Report, error) {
	var doc reportDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Report{}, &ParseError{Kind: KindMalformed, Position: -1, Detail: err.Error()}
	}

	rep := Report{
		Source:  doc.Source,
		Changes: make([]ChangeRecord, 0, len(doc.Changes)),
	}

	if doc.GeneratedAt != "" {
		ts, err := time.Parse(time.RFC3339, doc.GeneratedAt)
		if err != nil {
			return Report{}, &ParseError{Kind: KindMalformed, Position: -1, Detail: fmt.Sprintf("generated_at: %v", err)}
		}
		rep.GeneratedAt = ts
	}

	for i, c := range doc.Changes {
		if c.Op == "" {
			return Report{}, &ParseError{Kind: KindMissingField, Position: i, Detail: "op is required"}
		}
		op := Operation(c.Op)
		switch op {
		case OpInsert, OpUpdate, OpDelete:
		default:
			return Report{}, &ParseError{Kind: KindInvalidOperation, Position: i, Detail: fmt.Sprintf("unknown operation %q", c.Op)}
		}
		if c.Key == "" {
			return Report{}, &ParseError{Kind: KindMissingField, Position: i, Detail: "key is required"}
		}

		switch op {
		case OpDelete:
			if c.Fields != nil {
				return Report{}, &ParseError{Kind: KindMalformed, Position: i, Detail: "delete must not carry fields"}
			}
		case OpInsert:
			if c.PreviousFields != nil {
				return Report{}, &ParseError{Kind: KindMalformed, Position: i, Detail: "insert must not carry previous_fields"}
			}
			if len(c.Fields) == 0 {
				return Report{}, &ParseError{Kind: KindMissingField, Position: i, Detail: "insert requires fields"}
			}
		case OpUpdate:
			if len(c.Fields) == 0 {
				return Report{}, &ParseError{Kind: KindMissingField, Position: i, Detail: "update requires fields"}
			}
		}

		rep.Changes = append(rep.Changes, ChangeRecord{
			Op:             op,
			Key:            c.Key,
			Fields:         c.Fields,
			PreviousFields: c.PreviousFields,
		})
	}
	return rep, nil
}

// Load accepts either a path to a report file or inline JSON text.
// If input names an existing file the file is parsed, otherwise the
// input itself is treated as the report document.
func Load(input string) (Report, error) {
	if _, err := os.Stat(input); err == nil {
		raw, err := os.ReadFile(input)
		if err != nil {
			return Report{}, fmt.Errorf("read report file: %w", err)
		}
		return Parse(raw)
	}
	return Parse([]byte(input))
}
