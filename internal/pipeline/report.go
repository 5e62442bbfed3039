package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/millscout-cli/internal/config"
	"github.com/sells-group/millscout-cli/internal/model"
)

// FormatReport renders the human-readable run report: distributions
// against the quality targets, dedup stats, top rejection reasons, and
// phase timings.
func FormatReport(result *RunResult, quality config.QualityConfig) string {
	var b strings.Builder
	s := result.Summary

	fmt.Fprintf(&b, "# Millscout Run Report\n")
	fmt.Fprintf(&b, "Run: %s\n", s.ID)
	fmt.Fprintf(&b, "Status: %s\n", s.Status)
	if !s.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	if len(s.InputFiles) > 0 {
		fmt.Fprintf(&b, "Input: %s\n", strings.Join(s.InputFiles, ", "))
	}
	b.WriteString("\n")

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Raw leads: %d\n", s.TotalRaw)
	fmt.Fprintf(&b, "- Ingested: %d\n", s.Ingested)
	fmt.Fprintf(&b, "- Gate rejected: %d\n", s.GateRejected)
	fmt.Fprintf(&b, "- Not qualified: %d\n", s.NotQualified)
	fmt.Fprintf(&b, "- Canonical entities: %d\n", s.CanonicalCount)
	fmt.Fprintf(&b, "- Merged mentions: %d\n", s.MergeCount)
	fmt.Fprintf(&b, "- Review pairs: %d\n\n", s.ReviewPairs)

	b.WriteString("## Grade Distribution\n")
	fmt.Fprintf(&b, "- A: %d (%.1f%%) - target >%.0f%% %s\n",
		s.GradeCounts[model.GradeA], s.GradeShare(model.GradeA)*100,
		quality.MinGradeAShare*100,
		checkMin(s.GradeShare(model.GradeA), quality.MinGradeAShare))
	fmt.Fprintf(&b, "- B: %d (%.1f%%) - target >%.0f%% %s\n",
		s.GradeCounts[model.GradeB], s.GradeShare(model.GradeB)*100,
		quality.MinGradeBShare*100,
		checkMin(s.GradeShare(model.GradeB), quality.MinGradeBShare))
	fmt.Fprintf(&b, "- C: %d (%.1f%%)\n",
		s.GradeCounts[model.GradeC], s.GradeShare(model.GradeC)*100)
	fmt.Fprintf(&b, "- REJECT: %d (%.1f%%) - target <%.0f%% %s\n\n",
		s.GradeCounts[model.GradeReject], s.GradeShare(model.GradeReject)*100,
		quality.MaxRejectShare*100,
		checkMax(s.GradeShare(model.GradeReject), quality.MaxRejectShare))

	b.WriteString("## Tier Distribution\n")
	for _, t := range []model.Tier{model.TierGolden, model.TierPromising, model.TierResearch, model.TierReject} {
		fmt.Fprintf(&b, "- %s: %d\n", t, s.TierCounts[t])
	}
	b.WriteString("\n")

	if len(s.RejectionReasons) > 0 {
		b.WriteString("## Top Rejection Reasons\n")
		for _, rc := range topCounts(s.RejectionReasons, 10) {
			fmt.Fprintf(&b, "- %s: %d\n", rc.key, rc.count)
		}
		b.WriteString("\n")
	}

	if len(s.ErrorCounts) > 0 {
		b.WriteString("## Errors\n")
		kinds := make([]string, 0, len(s.ErrorCounts))
		for k := range s.ErrorCounts {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(&b, "- %s: %d\n", k, s.ErrorCounts[model.ErrorKind(k)])
		}
		b.WriteString("\n")
	}

	if golden := topGolden(result.Entities, 10); len(golden) > 0 {
		b.WriteString("## Top Golden Leads\n")
		for _, e := range golden {
			loc := e.Country
			if loc == "" {
				loc = "unknown"
			}
			fmt.Fprintf(&b, "- **%s** (%s) - score %.2f, K1=%d K2=%d\n",
				e.CanonicalName, loc, e.Score, e.K1Count, e.K2Count)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Phases\n")
	for _, p := range s.Phases {
		fmt.Fprintf(&b, "- %s: %s (%dms)\n", p.Name, p.Status, p.Duration)
		if p.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", p.Error)
		}
	}

	return b.String()
}

func checkMin(share, target float64) string {
	if share > target {
		return "[ok]"
	}
	return "[below target]"
}

func checkMax(share, target float64) string {
	if share < target {
		return "[ok]"
	}
	return "[above target]"
}

type keyCount struct {
	key   string
	count int
}

// topCounts returns the n largest entries, ties broken by key so the
// report is stable across runs.
func topCounts(m map[string]int, n int) []keyCount {
	out := make([]keyCount, 0, len(m))
	for k, c := range m {
		out = append(out, keyCount{k, c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// topGolden returns the n best golden-tier entities. Entities arrive
// already ranked, so this is a prefix scan.
func topGolden(entities []model.CanonicalEntity, n int) []model.CanonicalEntity {
	var out []model.CanonicalEntity
	for _, e := range entities {
		if e.Tier != model.TierGolden {
			break
		}
		out = append(out, e)
		if len(out) == n {
			break
		}
	}
	return out
}
