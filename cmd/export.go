package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/export"
	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/store"
	"github.com/sells-group/millscout-cli/pkg/notion"
	sfpkg "github.com/sells-group/millscout-cli/pkg/salesforce"
)

var (
	exportRun      string
	exportTier     string
	exportOut      string
	exportRetryDLQ bool
	exportDLQLimit int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export run results to files or the CRM",
	Long:  "Writes lead sheets, audit trails, and workbooks, or pushes scored entities to Salesforce and Notion.",
}

// -- export csv --

var exportCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Write the lead sheet CSV for a run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, exp, err := initExporter(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := exp.ResolveRun(ctx, exportRun)
		if err != nil {
			return err
		}
		t, err := tierFromFlag(exportTier)
		if err != nil {
			return err
		}

		path, rows, err := exp.CSV(ctx, run.ID, t, exportOut)
		if err != nil {
			return err
		}
		cmd.Printf("Wrote %d leads to %s\n", rows, path)
		return nil
	},
}

// -- export xlsx --

var exportXLSXCmd = &cobra.Command{
	Use:   "xlsx",
	Short: "Write the tiered XLSX workbook for a run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, exp, err := initExporter(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := exp.ResolveRun(ctx, exportRun)
		if err != nil {
			return err
		}

		path, err := exp.Workbook(ctx, run.ID, exportOut)
		if err != nil {
			return err
		}
		cmd.Printf("Wrote workbook to %s\n", path)
		return nil
	},
}

// -- export audit --

var exportAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Write the merge and rejection audit trail for a run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, exp, err := initExporter(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := exp.ResolveRun(ctx, exportRun)
		if err != nil {
			return err
		}

		path, rows, err := exp.Audit(ctx, run.ID, exportOut)
		if err != nil {
			return err
		}
		cmd.Printf("Wrote %d audit rows to %s\n", rows, path)
		return nil
	},
}

// -- export salesforce --

var exportSalesforceCmd = &cobra.Command{
	Use:   "salesforce",
	Short: "Upsert a run's entities into Salesforce as Leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("export-salesforce"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sfClient, err := initSalesforce()
		if err != nil {
			return err
		}
		pusher := sfpkg.NewPusher(sfClient, st, cfg.Salesforce.ExternalIDField)

		if exportRetryDLQ {
			res, err := pusher.RetryDLQ(ctx, exportDLQLimit)
			if err != nil {
				return err
			}
			return printPushResult(cmd, "salesforce dlq", res)
		}

		entities, err := exportEntities(ctx, st)
		if err != nil {
			return err
		}
		res, err := pusher.PushEntities(ctx, entities)
		if err != nil {
			return err
		}
		return printPushResult(cmd, "salesforce", res)
	},
}

// -- export notion --

var exportNotionCmd = &cobra.Command{
	Use:   "notion",
	Short: "Publish review pairs and golden leads to Notion",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("export-notion"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		client := notion.NewClient(cfg.Notion.Key)
		pusher := notion.NewPusher(client, st, cfg.Notion.ReviewDatabaseID, cfg.Notion.GoldenDatabaseID)

		if exportRetryDLQ {
			res, err := pusher.RetryDLQ(ctx, exportDLQLimit)
			if err != nil {
				return err
			}
			return printPushResult(cmd, "notion dlq", res)
		}

		// Review pairs land in the review database, golden leads in the
		// golden database. Either database may be left unconfigured.
		if cfg.Notion.ReviewDatabaseID != "" {
			pending, err := st.ListReviewPairs(ctx, model.ReviewPending)
			if err != nil {
				return eris.Wrap(err, "list review pairs")
			}
			res, err := pusher.PushReviewPairs(ctx, pending)
			if err != nil {
				return err
			}
			if err := printPushResult(cmd, "notion review", res); err != nil {
				return err
			}
		}

		if cfg.Notion.GoldenDatabaseID != "" {
			run, err := export.New(st, cfg.Export).ResolveRun(ctx, exportRun)
			if err != nil {
				return err
			}
			golden, err := st.ListEntities(ctx, store.EntityFilter{RunID: run.ID, Tier: model.TierGolden})
			if err != nil {
				return eris.Wrap(err, "list golden entities")
			}
			res, err := pusher.PushGolden(ctx, golden)
			if err != nil {
				return err
			}
			if err := printPushResult(cmd, "notion golden", res); err != nil {
				return err
			}
		}
		return nil
	},
}

// initExporter opens the store and wraps it in an Exporter.
func initExporter(ctx context.Context) (store.Store, *export.Exporter, error) {
	if err := cfg.Validate("export"); err != nil {
		return nil, nil, err
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return st, export.New(st, cfg.Export), nil
}

// initSalesforce authenticates with client-credentials OAuth.
func initSalesforce() (sfpkg.Client, error) {
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.Domain,
		ConsumerKey:    cfg.Salesforce.ConsumerKey,
		ConsumerSecret: cfg.Salesforce.ConsumerSecret,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}
	return sfpkg.NewClient(sf), nil
}

// exportEntities lists the entities selected by --run and --tier.
func exportEntities(ctx context.Context, st store.Store) ([]model.CanonicalEntity, error) {
	run, err := export.New(st, cfg.Export).ResolveRun(ctx, exportRun)
	if err != nil {
		return nil, err
	}
	t, err := tierFromFlag(exportTier)
	if err != nil {
		return nil, err
	}
	entities, err := st.ListEntities(ctx, store.EntityFilter{RunID: run.ID, Tier: t})
	if err != nil {
		return nil, eris.Wrap(err, "list entities")
	}
	return entities, nil
}

// tierFromFlag maps the --tier shorthand onto a tier value. Empty means
// all tiers.
func tierFromFlag(flag string) (model.Tier, error) {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "":
		return "", nil
	case "t1", "tier1", "golden":
		return model.TierGolden, nil
	case "t2", "tier2", "promising":
		return model.TierPromising, nil
	case "t3", "tier3", "research":
		return model.TierResearch, nil
	default:
		return "", eris.Errorf("unknown tier %q (use t1, t2, or t3)", flag)
	}
}

// printPushResult emits the push counters as JSON for scripting.
func printPushResult(cmd *cobra.Command, label string, res any) error {
	zap.L().Info("export: push finished", zap.String("target", label))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{label: res})
}

func init() {
	exportCmd.PersistentFlags().StringVar(&exportRun, "run", "latest", "run ID to export, or \"latest\"")
	exportCmd.PersistentFlags().StringVar(&exportTier, "tier", "", "restrict to one tier: t1, t2, or t3")
	exportCmd.PersistentFlags().StringVar(&exportOut, "out", "", "output path (default under export.dir)")
	exportSalesforceCmd.Flags().BoolVar(&exportRetryDLQ, "retry-dlq", false, "replay parked dead-letter records instead of pushing")
	exportSalesforceCmd.Flags().IntVar(&exportDLQLimit, "dlq-limit", 100, "max dead-letter records to replay")
	exportNotionCmd.Flags().BoolVar(&exportRetryDLQ, "retry-dlq", false, "replay parked dead-letter records instead of pushing")
	exportNotionCmd.Flags().IntVar(&exportDLQLimit, "dlq-limit", 100, "max dead-letter records to replay")

	exportCmd.AddCommand(exportCSVCmd)
	exportCmd.AddCommand(exportXLSXCmd)
	exportCmd.AddCommand(exportAuditCmd)
	exportCmd.AddCommand(exportSalesforceCmd)
	exportCmd.AddCommand(exportNotionCmd)
	rootCmd.AddCommand(exportCmd)
}
