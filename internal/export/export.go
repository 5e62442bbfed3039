// Package export writes run artifacts for the sales side: the lead
// sheet CSV, the decision audit trail, and a tiered XLSX workbook.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/config"
	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/store"
)

// Exporter builds file artifacts from stored run results.
type Exporter struct {
	store store.Store
	cfg   config.ExportConfig
}

// New creates an Exporter over the given store.
func New(st store.Store, cfg config.ExportConfig) *Exporter {
	return &Exporter{store: st, cfg: cfg}
}

// ResolveRun maps a run reference to its summary. Empty and "latest"
// pick the most recent run.
func (e *Exporter) ResolveRun(ctx context.Context, ref string) (*model.RunSummary, error) {
	if ref == "" || ref == "latest" {
		runs, err := e.store.ListRuns(ctx, store.RunFilter{Limit: 1})
		if err != nil {
			return nil, eris.Wrap(err, "export: list runs")
		}
		if len(runs) == 0 {
			return nil, eris.New("export: no runs recorded")
		}
		return &runs[0], nil
	}

	run, err := e.store.GetRun(ctx, ref)
	if err != nil {
		return nil, eris.Wrapf(err, "export: run %s", ref)
	}
	return run, nil
}

// CSV writes the lead sheet for a run, optionally filtered to one tier.
// Returns the output path and the number of rows written.
func (e *Exporter) CSV(ctx context.Context, runID string, tier model.Tier, outPath string) (string, int, error) {
	entities, err := e.entities(ctx, runID, tier)
	if err != nil {
		return "", 0, err
	}

	outPath, f, err := e.createOutput(outPath, "leads", runID, "csv")
	if err != nil {
		return "", 0, err
	}
	defer f.Close() //nolint:errcheck

	if err := WriteLeadCSV(f, entities, e.cfg.HSCode); err != nil {
		return "", 0, err
	}

	zap.L().Info("export: lead csv written",
		zap.String("path", outPath),
		zap.Int("rows", len(entities)),
	)
	return outPath, len(entities), nil
}

// Audit writes the decision log for a run: every merge with its
// similarity, and every rejection with the stage that dropped it.
func (e *Exporter) Audit(ctx context.Context, runID string, outPath string) (string, int, error) {
	entities, err := e.entities(ctx, runID, "")
	if err != nil {
		return "", 0, err
	}
	rejections, err := e.store.ListRejections(ctx, runID)
	if err != nil {
		return "", 0, eris.Wrap(err, "export: list rejections")
	}

	rows := auditRows(entities, rejections)

	outPath, f, err := e.createOutput(outPath, "audit", runID, "csv")
	if err != nil {
		return "", 0, err
	}
	defer f.Close() //nolint:errcheck

	if err := WriteAuditCSV(f, rows); err != nil {
		return "", 0, err
	}

	zap.L().Info("export: audit csv written",
		zap.String("path", outPath),
		zap.Int("rows", len(rows)),
	)
	return outPath, len(rows), nil
}

// Workbook writes the tiered XLSX workbook for a run: one sheet per
// tier, the pending review queue, and a run summary sheet.
func (e *Exporter) Workbook(ctx context.Context, runID string, outPath string) (string, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return "", eris.Wrapf(err, "export: run %s", runID)
	}
	entities, err := e.entities(ctx, runID, "")
	if err != nil {
		return "", err
	}
	pending, err := e.store.ListReviewPairs(ctx, model.ReviewPending)
	if err != nil {
		return "", eris.Wrap(err, "export: list review pairs")
	}

	if outPath == "" {
		outPath = e.defaultPath("workbook", runID, "xlsx")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", eris.Wrap(err, "export: create output dir")
	}

	if err := WriteWorkbook(outPath, run, entities, pending); err != nil {
		return "", err
	}

	zap.L().Info("export: workbook written",
		zap.String("path", outPath),
		zap.Int("entities", len(entities)),
		zap.Int("review_pairs", len(pending)),
	)
	return outPath, nil
}

// entities lists a run's canonical entities in sales order.
func (e *Exporter) entities(ctx context.Context, runID string, tier model.Tier) ([]model.CanonicalEntity, error) {
	entities, err := e.store.ListEntities(ctx, store.EntityFilter{RunID: runID, Tier: tier})
	if err != nil {
		return nil, eris.Wrap(err, "export: list entities")
	}
	sortForExport(entities)
	return entities, nil
}

// sortForExport orders entities the way sales works the list: best tier
// first, highest score first, then name for a stable file.
func sortForExport(entities []model.CanonicalEntity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if a, b := entities[i].Tier.Rank(), entities[j].Tier.Rank(); a != b {
			return a > b
		}
		if entities[i].Score != entities[j].Score {
			return entities[i].Score > entities[j].Score
		}
		return entities[i].CanonicalName < entities[j].CanonicalName
	})
}

func (e *Exporter) createOutput(outPath, kind, runID, ext string) (string, *os.File, error) {
	if outPath == "" {
		outPath = e.defaultPath(kind, runID, ext)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", nil, eris.Wrap(err, "export: create output dir")
	}
	f, err := os.Create(outPath)
	if err != nil {
		return "", nil, eris.Wrap(err, "export: create output file")
	}
	return outPath, f, nil
}

func (e *Exporter) defaultPath(kind, runID, ext string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	dir := e.cfg.Dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, fmt.Sprintf("millscout_%s_%s.%s", kind, short, ext))
}
