package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/millscout-cli/internal/model"
)

func reportResult() *RunResult {
	started := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return &RunResult{
		Summary: model.RunSummary{
			ID:             "run-7",
			StartedAt:      started,
			FinishedAt:     started.Add(2340 * time.Millisecond),
			Status:         model.RunStatusComplete,
			InputFiles:     []string{"fairs.csv", "imports.json"},
			TotalRaw:       12,
			Ingested:       10,
			GateRejected:   2,
			NotQualified:   1,
			CanonicalCount: 7,
			MergeCount:     1,
			ReviewPairs:    1,
			GradeCounts: map[model.Grade]int{
				model.GradeA:      4,
				model.GradeB:      3,
				model.GradeC:      1,
				model.GradeReject: 2,
			},
			TierCounts: map[model.Tier]int{
				model.TierGolden:    2,
				model.TierPromising: 3,
				model.TierResearch:  2,
			},
			RejectionReasons: map[string]int{
				"single_generic_word": 1,
				"headline_shape":      1,
			},
			ErrorCounts: map[model.ErrorKind]int{model.ErrorKindEmptyName: 2},
			Phases: []model.PhaseResult{
				{Name: "1_gate", Status: model.PhaseStatusComplete, Duration: 12},
				{Name: "6_persist", Status: model.PhaseStatusFailed, Duration: 3, Error: "save leads: disk full"},
			},
		},
		Entities: []model.CanonicalEntity{
			{CanonicalName: "Anatex Tekstil", Country: "Turkey", Tier: model.TierGolden, Score: 0.88, K1Count: 1, K2Count: 1},
			{CanonicalName: "Derya Terbiye", Tier: model.TierGolden, Score: 0.74, K1Count: 1, K2Count: 2},
			{CanonicalName: "Bharat Finishing", Country: "India", Tier: model.TierPromising, Score: 0.6, K1Count: 1},
		},
	}
}

func TestFormatReport(t *testing.T) {
	report := FormatReport(reportResult(), testConfig().Quality)

	assert.Contains(t, report, "# Millscout Run Report")
	assert.Contains(t, report, "Run: run-7")
	assert.Contains(t, report, "Status: complete")
	assert.Contains(t, report, "Duration: 2.34s")
	assert.Contains(t, report, "Input: fairs.csv, imports.json")

	assert.Contains(t, report, "- Raw leads: 12")
	assert.Contains(t, report, "- Canonical entities: 7")
	assert.Contains(t, report, "- Merged mentions: 1")

	// Shares are over ingested leads, checked against the targets.
	assert.Contains(t, report, "- A: 4 (40.0%) - target >30% [ok]")
	assert.Contains(t, report, "- B: 3 (30.0%) - target >40% [below target]")
	assert.Contains(t, report, "- C: 1 (10.0%)")
	assert.Contains(t, report, "- REJECT: 2 (20.0%) - target <20% [above target]")

	assert.Contains(t, report, "- TIER1_GOLDEN: 2")
	assert.Contains(t, report, "- TIER2_PROMISING: 3")
	assert.Contains(t, report, "- TIER3_RESEARCH: 2")

	// Equal counts fall back to key order.
	hs := strings.Index(report, "- headline_shape: 1")
	sg := strings.Index(report, "- single_generic_word: 1")
	require.GreaterOrEqual(t, hs, 0)
	require.GreaterOrEqual(t, sg, 0)
	assert.Less(t, hs, sg)

	assert.Contains(t, report, "- empty_name: 2")

	assert.Contains(t, report, "- **Anatex Tekstil** (Turkey) - score 0.88, K1=1 K2=1")
	assert.Contains(t, report, "- **Derya Terbiye** (unknown) - score 0.74, K1=1 K2=2")
	assert.NotContains(t, report, "**Bharat Finishing**", "promising entities stay out of the golden list")

	assert.Contains(t, report, "- 1_gate: complete (12ms)")
	assert.Contains(t, report, "- 6_persist: failed (3ms)")
	assert.Contains(t, report, "  Error: save leads: disk full")
}

func TestFormatReport_FailedRunWithoutTallies(t *testing.T) {
	res := &RunResult{
		Summary: model.RunSummary{
			ID:     "run-8",
			Status: model.RunStatusFailed,
			Phases: []model.PhaseResult{
				{Name: "1_gate", Status: model.PhaseStatusFailed, Duration: 1, Error: "context canceled"},
			},
		},
	}

	report := FormatReport(res, testConfig().Quality)
	assert.Contains(t, report, "Status: failed")
	assert.NotContains(t, report, "Duration:")
	assert.NotContains(t, report, "## Top Rejection Reasons")
	assert.NotContains(t, report, "## Errors")
	assert.NotContains(t, report, "## Top Golden Leads")
	assert.Contains(t, report, "  Error: context canceled")
}

func TestTopCounts(t *testing.T) {
	got := topCounts(map[string]int{"b": 3, "a": 3, "c": 9, "d": 1}, 3)
	require.Len(t, got, 3)
	assert.Equal(t, keyCount{"c", 9}, got[0])
	assert.Equal(t, keyCount{"a", 3}, got[1])
	assert.Equal(t, keyCount{"b", 3}, got[2])
}

func TestTopGolden(t *testing.T) {
	ents := []model.CanonicalEntity{
		{CanonicalName: "g1", Tier: model.TierGolden},
		{CanonicalName: "p1", Tier: model.TierPromising},
		{CanonicalName: "g2", Tier: model.TierGolden},
	}

	// Ranked input puts all goldens first; the scan never looks past the
	// first non-golden entry.
	got := topGolden(ents, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "g1", got[0].CanonicalName)

	assert.Empty(t, topGolden(nil, 10))
}
