package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/config"
	"github.com/sells-group/millscout-cli/internal/export"
	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/store"
	"github.com/sells-group/millscout-cli/internal/tier"
)

var rescoreRun string

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute tiers and scores for a stored run",
	Long:  "Re-runs classification over a run's stored entities with the current score weights. Evidence is not re-collected and nothing is re-ingested.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("rescore"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := export.New(st, cfg.Export).ResolveRun(ctx, rescoreRun)
		if err != nil {
			return err
		}

		entities, err := st.ListEntities(ctx, store.EntityFilter{RunID: run.ID})
		if err != nil {
			return eris.Wrap(err, "list entities")
		}
		if len(entities) == 0 {
			return eris.Errorf("run %s has no entities", run.ID)
		}

		changed := rescoreEntities(entities, cfg.Score.Weights)

		if err := st.UpsertEntities(ctx, run.ID, entities); err != nil {
			return eris.Wrap(err, "save entities")
		}

		zap.L().Info("rescore complete",
			zap.String("run_id", run.ID),
			zap.Int("entities", len(entities)),
			zap.Int("tier_changes", changed),
		)
		cmd.Println(fmt.Sprintf("Rescored %d entities (%d tier changes) for run %s", len(entities), changed, run.ID))
		return nil
	},
}

// rescoreEntities reclassifies in place and returns how many entities
// moved tier. Classify recounts from the stored evidence, so rows with
// stale counters heal here.
func rescoreEntities(entities []model.CanonicalEntity, weights config.ScoreWeights) int {
	classifier := tier.New(weights)

	changed := 0
	for i := range entities {
		before := entities[i].Tier
		classifier.Classify(&entities[i])
		if entities[i].Tier != before {
			changed++
		}
	}
	tier.Rank(entities)
	return changed
}

func init() {
	rescoreCmd.Flags().StringVar(&rescoreRun, "run", "latest", "run ID to rescore, or \"latest\"")
	rootCmd.AddCommand(rescoreCmd)
}
