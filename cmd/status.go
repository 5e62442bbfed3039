package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/millscout-cli/internal/config"
	"github.com/sells-group/millscout-cli/internal/export"
	"github.com/sells-group/millscout-cli/internal/quality"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the latest run against the quality targets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := export.New(st, cfg.Export).ResolveRun(ctx, "latest")
		if err != nil {
			return err
		}

		snap := quality.SnapshotFromRun(run)
		alerts := quality.NewAlerter(cfg.Quality).Evaluate(snap)

		formatStatus(os.Stdout, run.ID, snap, alerts, cfg.Quality)
		return nil
	},
}

// formatStatus writes the one-shot health check: the latest run's
// distributions against the configured targets, then any breaches.
func formatStatus(out io.Writer, runID string, snap *quality.MetricsSnapshot, alerts []quality.Alert, q config.QualityConfig) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", truncateID(runID))
	_, _ = fmt.Fprintf(w, "Leads ingested:\t%d\n", snap.LeadsIngested)
	_, _ = fmt.Fprintf(w, "Grade A share:\t%.1f%%\t(target >%.0f%%)\n", snap.GradeAShare*100, q.MinGradeAShare*100)
	_, _ = fmt.Fprintf(w, "Grade B share:\t%.1f%%\t(target >%.0f%%)\n", snap.GradeBShare*100, q.MinGradeBShare*100)
	_, _ = fmt.Fprintf(w, "Reject share:\t%.1f%%\t(target <%.0f%%)\n", snap.RejectShare*100, q.MaxRejectShare*100)
	_, _ = fmt.Fprintf(w, "Golden:\t%d\n", snap.TierGolden)
	_, _ = fmt.Fprintf(w, "Promising:\t%d\n", snap.TierPromising)
	_, _ = fmt.Fprintf(w, "Research:\t%d\n", snap.TierResearch)
	_ = w.Flush()

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "\nAll targets met.")
		return
	}
	_, _ = fmt.Fprintf(out, "\n%d target(s) breached:\n", len(alerts))
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "  [%s] %s\n", a.Severity, a.Message)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
