package quality

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Grade and tier distributions, aggregated over completed runs in
	// the window. Shares use the same ingested-lead denominator as the
	// run report.
	LeadsIngested int     `json:"leads_ingested"`
	GradeAShare   float64 `json:"grade_a_share"`
	GradeBShare   float64 `json:"grade_b_share"`
	RejectShare   float64 `json:"reject_share"`
	TierGolden    int     `json:"tier_golden"`
	TierPromising int     `json:"tier_promising"`
	TierResearch  int     `json:"tier_research"`

	// Queue depths.
	ReviewPending int `json:"review_pending"`
	DLQDepth      int `json:"dlq_depth"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		Since: cutoff,
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "quality: list runs")
	}

	snap.RunsTotal = len(runs)
	var ingested, gradeA, gradeB, rejected int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		// Only completed runs feed the distributions; a run that died
		// mid-phase carries partial counts.
		if r.Status != model.RunStatusComplete {
			continue
		}
		ingested += r.Ingested
		gradeA += r.GradeCounts[model.GradeA]
		gradeB += r.GradeCounts[model.GradeB]
		rejected += r.GradeCounts[model.GradeReject]
		snap.TierGolden += r.TierCounts[model.TierGolden]
		snap.TierPromising += r.TierCounts[model.TierPromising]
		snap.TierResearch += r.TierCounts[model.TierResearch]
	}

	snap.LeadsIngested = ingested
	if ingested > 0 {
		snap.GradeAShare = float64(gradeA) / float64(ingested)
		snap.GradeBShare = float64(gradeB) / float64(ingested)
		snap.RejectShare = float64(rejected) / float64(ingested)
	}
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	pending, err := c.store.ListReviewPairs(ctx, model.ReviewPending)
	if err != nil {
		return nil, eris.Wrap(err, "quality: list review pairs")
	}
	snap.ReviewPending = len(pending)

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "quality: count dlq")
	}
	snap.DLQDepth = dlqCount

	return snap, nil
}

// SnapshotFromRun builds a snapshot from a single run summary. The status
// command uses it to check the latest run against the targets without a
// lookback window.
func SnapshotFromRun(r *model.RunSummary) *MetricsSnapshot {
	snap := &MetricsSnapshot{
		RunsTotal:     1,
		LeadsIngested: r.Ingested,
		GradeAShare:   r.GradeShare(model.GradeA),
		GradeBShare:   r.GradeShare(model.GradeB),
		RejectShare:   r.GradeShare(model.GradeReject),
		TierGolden:    r.TierCounts[model.TierGolden],
		TierPromising: r.TierCounts[model.TierPromising],
		TierResearch:  r.TierCounts[model.TierResearch],
		CollectedAt:   time.Now().UTC(),
	}
	switch r.Status {
	case model.RunStatusComplete:
		snap.RunsComplete = 1
	case model.RunStatusFailed:
		snap.RunsFailed = 1
		snap.RunFailRate = 1
	case model.RunStatusRunning:
		snap.RunsRunning = 1
	}
	return snap
}
