// Package pipeline chains the resolution stages over one batch of raw
// leads: gate, qualify, cluster, evidence, tier, persist. Per-record
// failures are counted, never fatal; an empty input batch is the only
// error that aborts a run.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/millscout-cli/internal/config"
	"github.com/sells-group/millscout-cli/internal/dedupe"
	"github.com/sells-group/millscout-cli/internal/evidence"
	"github.com/sells-group/millscout-cli/internal/gate"
	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/normalize"
	"github.com/sells-group/millscout-cli/internal/qualify"
	"github.com/sells-group/millscout-cli/internal/store"
	"github.com/sells-group/millscout-cli/internal/tier"
	"github.com/sells-group/millscout-cli/internal/vocab"
)

// RunResult bundles everything one run produced. Entities are ordered
// by (tier, score desc); Rejected keeps the gate drops for the audit
// trail.
type RunResult struct {
	Summary  model.RunSummary        `json:"summary"`
	Entities []model.CanonicalEntity `json:"entities"`
	Review   []model.ReviewPair      `json:"review,omitempty"`
	Rejected []model.GatedEntity     `json:"rejected,omitempty"`
	Report   string                  `json:"report,omitempty"`
}

// Pipeline wires the resolution stages together.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	gate       *gate.Gate
	qualifier  *qualify.Qualifier
	collector  *evidence.Collector
	engine     *dedupe.Engine
	classifier *tier.Classifier
}

// New builds a pipeline from configuration and vocabulary.
func New(cfg *config.Config, st store.Store, v *vocab.Vocabulary) (*Pipeline, error) {
	engine, err := dedupe.New(cfg.Pipeline)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build dedupe engine")
	}
	norm := normalize.New(v.LegalSuffixes, v.SectorSuffixes)
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		gate:       gate.New(norm, v),
		qualifier:  qualify.New(v),
		collector:  evidence.NewCollector(v),
		engine:     engine,
		classifier: tier.New(cfg.Score.Weights),
	}, nil
}

func (p *Pipeline) workers() int {
	if p.cfg.Pipeline.Workers > 0 {
		return p.cfg.Pipeline.Workers
	}
	return 4
}

// Run executes the full pipeline over one batch of raw leads.
func (p *Pipeline) Run(ctx context.Context, leads []model.RawLead, inputFiles []string) (*RunResult, error) {
	log := zap.L().With(zap.Int("leads", len(leads)))
	log.Info("pipeline: starting run")

	if len(leads) == 0 {
		return nil, eris.New("pipeline: input is empty")
	}

	run, err := p.store.CreateRun(ctx, inputFiles)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	summary := *run
	summary.TotalRaw = len(leads)
	summary.GradeCounts = make(map[model.Grade]int)
	summary.TierCounts = make(map[model.Tier]int)
	summary.RejectionReasons = make(map[string]int)
	summary.ErrorCounts = make(map[model.ErrorKind]int)

	result := &RunResult{}

	trackPhase := func(name string, fn func() error) error {
		start := time.Now()
		fnErr := fn()
		duration := time.Since(start).Milliseconds()

		pr := model.PhaseResult{Name: name, Status: model.PhaseStatusComplete, Duration: duration}
		if fnErr != nil {
			pr.Status = model.PhaseStatusFailed
			pr.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}
		summary.Phases = append(summary.Phases, pr)
		return fnErr
	}

	fail := func(cause error, msg string) (*RunResult, error) {
		summary.Status = model.RunStatusFailed
		summary.FinishedAt = time.Now().UTC()
		result.Summary = summary
		// The run row must record the failure even when ctx is the
		// reason the run is ending.
		if saveErr := p.store.FinishRun(context.WithoutCancel(ctx), &summary); saveErr != nil {
			log.Warn("pipeline: failed to save run", zap.Error(saveErr))
		}
		return result, eris.Wrap(cause, msg)
	}

	// ===== Phase 1: Quality gate =====
	var gated []model.GatedEntity
	_ = trackPhase("1_gate", func() error {
		graded := make([]model.GatedEntity, len(leads))
		errs := make([]error, len(leads))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers())
		for i, lead := range leads {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := lead.Validate(); err != nil {
					errs[i] = eris.Wrapf(err, "ingest: lead %s", lead.ID)
					return nil
				}
				graded[i], errs[i] = p.gate.Grade(lead)
				return nil
			})
		}
		// Workers only fail on cancellation; per-record errors land in
		// errs. Skip the tally so a canceled run reports zero, not junk.
		if waitErr := g.Wait(); waitErr != nil {
			return waitErr
		}

		for i := range graded {
			if errs[i] != nil {
				summary.ErrorCounts[model.ClassifyError(errs[i])]++
				continue
			}
			summary.Ingested++
			summary.GradeCounts[graded[i].Quality]++
			if graded[i].Quality == model.GradeReject {
				summary.GateRejected++
				summary.RejectionReasons[graded[i].RejectionReason]++
				result.Rejected = append(result.Rejected, graded[i])
				continue
			}
			gated = append(gated, graded[i])
		}
		return nil
	})
	if err := ctx.Err(); err != nil {
		return fail(err, "pipeline: canceled during gate")
	}

	// ===== Phase 2: Customer qualifier =====
	// Annotation only. Non-candidates continue into clustering so a
	// negative member can veto its whole cluster at tier time.
	qualified := make([]model.QualifiedEntity, len(gated))
	_ = trackPhase("2_qualify", func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers())
		for i, ge := range gated {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				qualified[i] = p.qualifier.Qualify(ge)
				return nil
			})
		}
		if waitErr := g.Wait(); waitErr != nil {
			return waitErr
		}

		for i := range qualified {
			if !qualified[i].IsCustomerCandidate {
				summary.NotQualified++
			}
		}
		return nil
	})
	if err := ctx.Err(); err != nil {
		return fail(err, "pipeline: canceled during qualify")
	}

	// ===== Phase 3: Cluster =====
	var clustered dedupe.Result
	_ = trackPhase("3_cluster", func() error {
		overrides, ovErr := p.store.Adjudications(ctx)
		if ovErr != nil {
			// Pairs re-surface for review and resolutions re-apply on
			// the next run, so a failed read degrades, not aborts.
			log.Warn("pipeline: review adjudications unavailable", zap.Error(ovErr))
		}
		clustered = p.engine.Cluster(qualified, overrides)
		return nil
	})
	summary.CanonicalCount = len(clustered.Entities)
	summary.MergeCount = len(qualified) - len(clustered.Entities)
	summary.ReviewPairs = len(clustered.Review)

	// ===== Phase 4: Evidence accumulation =====
	_ = trackPhase("4_evidence", func() error {
		byRawID := make(map[string]model.QualifiedEntity, len(qualified))
		for _, q := range qualified {
			byRawID[q.ID] = q
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers())
		for i := range clustered.Entities {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				ent := &clustered.Entities[i]
				for _, rawID := range ent.MemberRawIDs {
					q, ok := byRawID[rawID]
					if !ok {
						continue
					}
					if item, ok := p.collector.FromLead(q); ok {
						evidence.Accumulate(ent, item)
					}
				}
				return nil
			})
		}
		return g.Wait()
	})
	if err := ctx.Err(); err != nil {
		return fail(err, "pipeline: canceled during evidence accumulation")
	}

	// ===== Phase 5: Tier and score =====
	_ = trackPhase("5_tier", func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers())
		for i := range clustered.Entities {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				p.classifier.Classify(&clustered.Entities[i])
				return nil
			})
		}
		if waitErr := g.Wait(); waitErr != nil {
			return waitErr
		}

		tier.Rank(clustered.Entities)
		for i := range clustered.Entities {
			summary.TierCounts[clustered.Entities[i].Tier]++
		}
		return nil
	})
	if err := ctx.Err(); err != nil {
		return fail(err, "pipeline: canceled during tiering")
	}

	result.Entities = clustered.Entities
	result.Review = stampReview(clustered.Review, summary.ID)

	// ===== Phase 6: Persist =====
	persistErr := trackPhase("6_persist", func() error {
		all := make([]model.GatedEntity, 0, len(gated)+len(result.Rejected))
		all = append(all, gated...)
		all = append(all, result.Rejected...)
		if err := p.store.SaveLeads(ctx, summary.ID, all); err != nil {
			return eris.Wrap(err, "save leads")
		}
		if err := p.store.UpsertEntities(ctx, summary.ID, result.Entities); err != nil {
			return eris.Wrap(err, "upsert entities")
		}
		if err := p.store.SaveReviewPairs(ctx, result.Review); err != nil {
			return eris.Wrap(err, "save review pairs")
		}
		return nil
	})
	if persistErr != nil {
		return fail(persistErr, "pipeline: persist")
	}

	summary.Status = model.RunStatusComplete
	summary.FinishedAt = time.Now().UTC()
	result.Summary = summary
	result.Report = FormatReport(result, p.cfg.Quality)

	if saveErr := p.store.FinishRun(ctx, &summary); saveErr != nil {
		log.Warn("pipeline: failed to save run", zap.Error(saveErr))
	}

	log.Info("pipeline: run complete",
		zap.String("run_id", summary.ID),
		zap.Int("ingested", summary.Ingested),
		zap.Int("gate_rejected", summary.GateRejected),
		zap.Int("canonical", summary.CanonicalCount),
		zap.Int("merged", summary.MergeCount),
		zap.Int("review_pairs", summary.ReviewPairs),
	)

	return result, nil
}

// stampReview fills the run-scoped fields the dedupe engine leaves
// blank.
func stampReview(pairs []model.ReviewPair, runID string) []model.ReviewPair {
	now := time.Now().UTC()
	for i := range pairs {
		pairs[i].RunID = runID
		pairs[i].CreatedAt = now
	}
	return pairs
}
