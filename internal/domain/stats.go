package domain

// BatchStats holds the outcome of one bounded batch pass (queue drain or
// extraction run).
type BatchStats struct {
	Processed int
	Succeeded int
	Failed    int
}

// PipelineStats is the dashboard snapshot of the review pipeline.
type PipelineStats struct {
	Total    int
	ByStatus map[ReviewStatus]int
}
