package model

import (
	"time"
)

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// PhaseStatus represents the state of one pipeline phase.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult holds the outcome of one pipeline phase.
type PhaseResult struct {
	Name     string      `json:"name"`
	Status   PhaseStatus `json:"status"`
	Duration int64       `json:"duration_ms"`
	Error    string      `json:"error,omitempty"`
}

// RunSummary is the persisted record of one pipeline run, including the
// rejection/error tallies the quality checks are computed from.
type RunSummary struct {
	ID               string               `json:"id"`
	StartedAt        time.Time            `json:"started_at"`
	FinishedAt       time.Time            `json:"finished_at"`
	Status           RunStatus            `json:"status"`
	InputFiles       []string             `json:"input_files,omitempty"`
	TotalRaw         int                  `json:"total_raw"`
	Ingested         int                  `json:"ingested"`
	GateRejected     int                  `json:"gate_rejected"`
	NotQualified     int                  `json:"not_qualified"`
	CanonicalCount   int                  `json:"canonical_count"`
	MergeCount       int                  `json:"merge_count"`
	ReviewPairs      int                  `json:"review_pairs"`
	GradeCounts      map[Grade]int        `json:"grade_counts"`
	TierCounts       map[Tier]int         `json:"tier_counts"`
	RejectionReasons map[string]int       `json:"rejection_reasons"`
	ErrorCounts      map[ErrorKind]int    `json:"error_counts"`
	Phases           []PhaseResult        `json:"phases,omitempty"`
}

// GradeShare returns the fraction of graded (non-dropped) leads holding g.
func (r RunSummary) GradeShare(g Grade) float64 {
	if r.Ingested == 0 {
		return 0
	}
	return float64(r.GradeCounts[g]) / float64(r.Ingested)
}
