package replay

import (
	"github.com/geodiff-tools/registry-replay/report"
)

// Status is the final disposition of a single change record.
type Status string

const (
	StatusApplied Status = "Applied"
	StatusSkipped Status = "Skipped"
	StatusFailed  Status = "Failed"
)

// Outcome is the result of replaying one change record. Outcomes are
// produced one-to-one with report changes, in report order.
type Outcome struct {
	Key    string           `json:"key"`
	Op     report.Operation `json:"op"`
	Status Status           `json:"status"`
	Detail string           `json:"detail,omitempty"`
}

// Summary aggregates a full replay run. Immutable once returned.
type Summary struct {
	Total    int       `json:"total"`
	Applied  int       `json:"applied"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Outcomes []Outcome `json:"outcomes"`
}
