package replay

// Summarize aggregates outcomes into a summary. Pure aggregation, no
// external calls. Outcome order is preserved.
func Summarize(outcomes []Outcome) Summary {
	if outcomes == nil {
		outcomes = []Outcome{}
	}
	s := Summary{
		Total:    len(outcomes),
		Outcomes: outcomes,
	}
	for _, o := range outcomes {
		switch o.Status {
		case StatusApplied:
			s.Applied++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
