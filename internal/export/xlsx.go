package export

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/millscout-cli/internal/model"
)

// tierSheets maps workbook sheet names to the tier they hold. REJECT
// entities appear only in the audit export.
var tierSheets = []struct {
	name string
	tier model.Tier
}{
	{"Golden", model.TierGolden},
	{"Promising", model.TierPromising},
	{"Research", model.TierResearch},
}

var leadSheetHeader = []string{
	"Company", "Country", "Website", "Grade", "Score",
	"K1", "K2", "OEM Ref", "Capacity", "Contact Email",
	"Why Customer", "Evidence URLs",
}

var reviewSheetHeader = []string{
	"Pair ID", "Name A", "Name B", "Country", "Similarity", "Status", "Suggestion",
}

// WriteWorkbook writes the run workbook: one sheet per tier, the
// pending review queue, and a summary sheet with the run's counters.
func WriteWorkbook(path string, run *model.RunSummary, entities []model.CanonicalEntity, pending []model.ReviewPair) error {
	f := xlsx.NewFile()

	for _, ts := range tierSheets {
		sheet, err := f.AddSheet(ts.name)
		if err != nil {
			return eris.Wrapf(err, "export: add sheet %s", ts.name)
		}
		addStringRow(sheet, leadSheetHeader...)
		for _, e := range entities {
			if e.Tier != ts.tier {
				continue
			}
			addEntityRow(sheet, e)
		}
	}

	review, err := f.AddSheet("Review")
	if err != nil {
		return eris.Wrap(err, "export: add review sheet")
	}
	addStringRow(review, reviewSheetHeader...)
	for _, p := range pending {
		row := review.AddRow()
		row.AddCell().SetString(p.ID)
		row.AddCell().SetString(p.NameA)
		row.AddCell().SetString(p.NameB)
		row.AddCell().SetString(p.Country)
		row.AddCell().SetFloat(p.Similarity)
		row.AddCell().SetString(p.Status)
		row.AddCell().SetString(p.Suggestion)
	}

	if err := addSummarySheet(f, run); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save workbook")
	}
	return nil
}

func addEntityRow(sheet *xlsx.Sheet, e model.CanonicalEntity) {
	row := sheet.AddRow()
	row.AddCell().SetString(e.CanonicalName)
	row.AddCell().SetString(e.Country)
	row.AddCell().SetString(e.Website)
	row.AddCell().SetString(string(e.Quality))
	row.AddCell().SetFloat(e.Score)
	row.AddCell().SetInt(e.K1Count)
	row.AddCell().SetInt(e.K2Count)
	row.AddCell().SetBool(e.OEMReference)
	row.AddCell().SetString(string(e.CapacityBand))
	row.AddCell().SetString(e.ContactEmail)
	row.AddCell().SetString(strings.Join(e.MatchedKeywords, ", "))
	row.AddCell().SetString(strings.Join(evidenceURLs(e), "; "))
}

func addSummarySheet(f *xlsx.File, run *model.RunSummary) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	addKV := func(k, v string) {
		addStringRow(sheet, k, v)
	}
	addCount := func(k string, n int) {
		row := sheet.AddRow()
		row.AddCell().SetString(k)
		row.AddCell().SetInt(n)
	}

	addKV("Run ID", run.ID)
	addKV("Status", string(run.Status))
	addKV("Started", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if !run.FinishedAt.IsZero() {
		addKV("Finished", run.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	}
	addKV("Input files", strings.Join(run.InputFiles, "; "))
	addStringRow(sheet)

	addCount("Total raw leads", run.TotalRaw)
	addCount("Ingested", run.Ingested)
	addCount("Gate rejected", run.GateRejected)
	addCount("Not qualified", run.NotQualified)
	addCount("Canonical entities", run.CanonicalCount)
	addCount("Merges", run.MergeCount)
	addCount("Review pairs", run.ReviewPairs)
	addStringRow(sheet)

	addStringRow(sheet, "Grade", "Count")
	for _, g := range []model.Grade{model.GradeA, model.GradeB, model.GradeC, model.GradeReject} {
		addCount(string(g), run.GradeCounts[g])
	}
	addStringRow(sheet)

	addStringRow(sheet, "Tier", "Count")
	for _, t := range []model.Tier{model.TierGolden, model.TierPromising, model.TierResearch, model.TierReject} {
		addCount(string(t), run.TierCounts[t])
	}

	if len(run.RejectionReasons) > 0 {
		addStringRow(sheet)
		addStringRow(sheet, "Rejection reason", "Count")
		for _, rc := range sortedReasons(run.RejectionReasons) {
			addCount(rc.reason, rc.count)
		}
	}
	return nil
}

func addStringRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

type reasonCount struct {
	reason string
	count  int
}

func sortedReasons(m map[string]int) []reasonCount {
	out := make([]reasonCount, 0, len(m))
	for k, c := range m {
		out = append(out, reasonCount{k, c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].reason < out[j].reason
	})
	return out
}
