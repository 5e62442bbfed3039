package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/pipeline"
	"github.com/sells-group/millscout-cli/internal/store"
	"github.com/sells-group/millscout-cli/internal/vocab"
)

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "millscout.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		dsn := cfg.Store.PostgresURL
		if dsn == "" {
			dsn = cfg.Store.DatabaseURL
		}
		return store.NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store in one step. Callers defer
// Close.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// pipelineEnv holds the store, vocabulary, and pipeline shared by the
// run and rescore commands.
type pipelineEnv struct {
	Store    store.Store
	Vocab    *vocab.Vocabulary
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, loads the vocabulary packs, and builds
// the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	v, err := vocab.Load(cfg.Vocab.Dir)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load vocabulary")
	}
	zap.L().Info("vocabulary loaded",
		zap.Int("positive", len(v.Positive)),
		zap.Int("negative", len(v.Negative)),
		zap.Int("oem_brands", len(v.OEMBrands)),
	)

	p, err := pipeline.New(cfg, st, v)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &pipelineEnv{Store: st, Vocab: v, Pipeline: p}, nil
}
