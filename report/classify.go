package report

import "fmt"

// Buckets groups change records by operation. Relative order within
// each bucket matches the order in the source report.
type Buckets struct {
	Inserts []ChangeRecord
	Updates []ChangeRecord
	Deletes []ChangeRecord
}

// ConflictError signals a report that names the same key more than once.
// Replaying such a report is ambiguous, so this is fatal rather than a
// per-record failure.
type ConflictError struct {
	Key string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting changes for key %q", e.Key)
}

// Classify buckets report changes by operation. A key appearing in more
// than one record, under any combination of operations, yields a
// ConflictError before any remote call is made.
func Classify(rep Report) (Buckets, error) {
	var buckets Buckets
	seen := make(map[string]bool, len(rep.Changes))

	for _, c := range rep.Changes {
		if seen[c.Key] {
			return Buckets{}, &ConflictError{Key: c.Key}
		}
		seen[c.Key] = true

		switch c.Op {
		case OpInsert:
			buckets.Inserts = append(buckets.Inserts, c)
		case OpUpdate:
			buckets.Updates = append(buckets.Updates, c)
		case OpDelete:
			buckets.Deletes = append(buckets.Deletes, c)
		}
	}
	return buckets, nil
}
