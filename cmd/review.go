package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/store"
	"github.com/sells-group/millscout-cli/pkg/advisor"
)

var (
	reviewStatus string
	reviewAction string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the grey-band merge review queue",
	Long:  "Lists pending duplicate candidates, records merge/keep decisions, and drafts advisory verdicts. Decisions apply on the next pipeline run.",
}

// -- review list --

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review pairs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("review"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pairs, err := st.ListReviewPairs(ctx, reviewStatus)
		if err != nil {
			return eris.Wrap(err, "list review pairs")
		}
		if len(pairs) == 0 {
			fmt.Fprintln(os.Stderr, "No review pairs found.")
			return nil
		}

		formatReviewList(os.Stdout, pairs)
		return nil
	},
}

// -- review resolve --

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve <pair-id>",
	Short: "Record a merge or keep decision for a pair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("review"); err != nil {
			return err
		}

		status, err := statusForAction(reviewAction)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ResolveReviewPair(ctx, args[0], status); err != nil {
			return eris.Wrapf(err, "resolve pair %s", args[0])
		}

		zap.L().Info("review pair resolved",
			zap.String("pair_id", args[0]),
			zap.String("status", status),
		)
		cmd.Printf("Pair %s marked %s. The decision applies on the next run.\n", args[0], status)
		return nil
	},
}

// -- review suggest --

var reviewSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Draft MERGE/KEEP suggestions for pending pairs",
	Long:  "Sends each pending pair, with its candidate records and evidence, to the advisor model. Verdicts are stored on the review row; they never resolve a pair by themselves.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("review-suggest"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pending, err := st.ListReviewPairs(ctx, model.ReviewPending)
		if err != nil {
			return eris.Wrap(err, "list review pairs")
		}
		if len(pending) == 0 {
			fmt.Fprintln(os.Stderr, "No pending review pairs.")
			return nil
		}
		if limit := cfg.Advisor.MaxPairs; limit > 0 && len(pending) > limit {
			zap.L().Info("review: capping suggestion batch",
				zap.Int("pending", len(pending)),
				zap.Int("max_pairs", limit),
			)
			pending = pending[:limit]
		}

		dossiers := buildDossiers(ctx, st, pending)

		adv := advisor.NewAdvisor(
			advisor.NewClient(cfg.Advisor.Key),
			cfg.Advisor.Model,
			cfg.Advisor.RequestsPerMinute,
		)
		suggestions, err := adv.SuggestPairs(ctx, dossiers)
		if err != nil {
			return err
		}

		for _, s := range suggestions {
			if err := st.SetReviewSuggestion(ctx, s.PairID, s.String()); err != nil {
				zap.L().Warn("review: store suggestion",
					zap.String("pair_id", s.PairID),
					zap.Error(err),
				)
				continue
			}
			cmd.Printf("%s: %s\n", s.PairID, s.String())
		}
		cmd.Printf("Suggested %d of %d pairs.\n", len(suggestions), len(pending))
		return nil
	},
}

// buildDossiers hydrates each pair with its stored entities. A missing
// side stays nil; the advisor prompts from the pair's names instead.
func buildDossiers(ctx context.Context, st store.Store, pairs []model.ReviewPair) []advisor.PairDossier {
	dossiers := make([]advisor.PairDossier, len(pairs))
	for i, pair := range pairs {
		d := advisor.PairDossier{Pair: pair}
		if ent, err := st.GetEntity(ctx, pair.EntityIDA); err == nil {
			d.A = ent
		}
		if ent, err := st.GetEntity(ctx, pair.EntityIDB); err == nil {
			d.B = ent
		}
		dossiers[i] = d
	}
	return dossiers
}

// statusForAction maps the --action flag onto a review status.
func statusForAction(action string) (string, error) {
	switch action {
	case "merge":
		return model.ReviewMerged, nil
	case "keep":
		return model.ReviewKeptSeparate, nil
	default:
		return "", eris.Errorf("unknown action %q (use merge or keep)", action)
	}
}

// formatReviewList writes a tabular review queue to w.
func formatReviewList(out io.Writer, pairs []model.ReviewPair) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME A\tNAME B\tSIM\tCOUNTRY\tSTATUS\tSUGGESTION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t---\t-------\t------\t----------")

	for _, p := range pairs {
		country := p.Country
		if country == "" {
			country = "-"
		}
		suggestion := p.Suggestion
		if suggestion == "" {
			suggestion = "-"
		} else if len(suggestion) > 40 {
			suggestion = suggestion[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			truncateID(p.ID),
			truncateName(p.NameA),
			truncateName(p.NameB),
			p.Similarity,
			country,
			p.Status,
			suggestion,
		)
	}
	_ = w.Flush()
}

// truncateName shortens long company names for compact display.
func truncateName(name string) string {
	if len(name) > 28 {
		return name[:25] + "..."
	}
	return name
}

// truncateID returns the first 8 characters of an ID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	reviewListCmd.Flags().StringVar(&reviewStatus, "status", model.ReviewPending, "filter by status (pending, merged, kept_separate); empty lists all")
	reviewResolveCmd.Flags().StringVar(&reviewAction, "action", "", "decision: merge or keep (required)")
	_ = reviewResolveCmd.MarkFlagRequired("action")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewResolveCmd)
	reviewCmd.AddCommand(reviewSuggestCmd)
	rootCmd.AddCommand(reviewCmd)
}
