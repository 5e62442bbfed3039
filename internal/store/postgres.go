package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/millscout-cli/internal/db"
	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":            `INSERT INTO runs (id, status, summary, started_at) VALUES ($1, $2, $3, $4)`,
	"finish_run":            `UPDATE runs SET status = $1, summary = $2, finished_at = $3 WHERE id = $4`,
	"get_run":               `SELECT summary FROM runs WHERE id = $1`,
	"get_entity":            `SELECT entity FROM canonical_entities WHERE id = $1`,
	"resolve_review_pair":   `UPDATE merge_review SET status = $1 WHERE id = $2`,
	"set_review_suggestion": `UPDATE merge_review SET suggestion = $1 WHERE id = $2`,
	"remove_dlq":            `DELETE FROM crm_dlq WHERE id = $1`,
	"count_dlq":             `SELECT COUNT(*) FROM crm_dlq`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS raw_leads (
	run_id           TEXT NOT NULL REFERENCES runs(id),
	id               TEXT NOT NULL,
	quality          TEXT NOT NULL,
	rejection_reason TEXT,
	lead             JSONB NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS canonical_entities (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	name       TEXT NOT NULL,
	country    TEXT,
	tier       TEXT NOT NULL,
	score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	entity     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS merge_review (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	entity_id_a TEXT NOT NULL,
	entity_id_b TEXT NOT NULL,
	name_a      TEXT NOT NULL,
	name_b      TEXT NOT NULL,
	country     TEXT,
	similarity  DOUBLE PRECISION NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'pending',
	suggestion  TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crm_dlq (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	target         TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	payload        BYTEA,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_raw_leads_run_quality ON raw_leads(run_id, quality);
CREATE INDEX IF NOT EXISTS idx_entities_run_id ON canonical_entities(run_id);
CREATE INDEX IF NOT EXISTS idx_entities_tier ON canonical_entities(tier);
CREATE INDEX IF NOT EXISTS idx_entities_country ON canonical_entities(country);
CREATE INDEX IF NOT EXISTS idx_review_status ON merge_review(status);
CREATE INDEX IF NOT EXISTS idx_dlq_target ON crm_dlq(target);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON crm_dlq(next_retry_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, inputFiles []string) (*model.RunSummary, error) {
	summary := &model.RunSummary{
		ID:         uuid.New().String(),
		StartedAt:  time.Now().UTC(),
		Status:     model.RunStatusRunning,
		InputFiles: inputFiles,
	}

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal summary")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, summary, started_at) VALUES ($1, $2, $3, $4)`,
		summary.ID, string(summary.Status), summaryJSON, summary.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return summary, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, finished_at = $3 WHERE id = $4`,
		string(summary.Status), summaryJSON, summary.FinishedAt, summary.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", summary.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", summary.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.RunSummary, error) {
	var summaryJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT summary FROM runs WHERE id = $1`, runID,
	).Scan(&summaryJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("run not found: %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	var summary model.RunSummary
	if err := json.Unmarshal(summaryJSON, &summary); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal summary")
	}
	return &summary, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	query := `SELECT summary FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var summaryJSON []byte
		if err := rows.Scan(&summaryJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var summary model.RunSummary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
		runs = append(runs, summary)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveLeads(ctx context.Context, runID string, leads []model.GatedEntity) error {
	if len(leads) == 0 {
		return nil
	}

	// Leads are written once per run, so a plain COPY is safe.
	columns := []string{"run_id", "id", "quality", "rejection_reason", "lead"}
	rows := make([][]any, 0, len(leads))
	for _, lead := range leads {
		leadJSON, err := json.Marshal(lead)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal lead %s", lead.ID)
		}
		rows = append(rows, []any{runID, lead.ID, string(lead.Quality), lead.RejectionReason, leadJSON})
	}

	_, err := db.CopyFrom(ctx, s.pool, "raw_leads", columns, rows)
	return eris.Wrap(err, "postgres: save leads")
}

func (s *PostgresStore) ListRejections(ctx context.Context, runID string) ([]model.GatedEntity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT lead FROM raw_leads WHERE run_id = $1 AND quality = $2 ORDER BY id`,
		runID, string(model.GradeReject),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rejections")
	}
	defer rows.Close()

	var leads []model.GatedEntity
	for rows.Next() {
		var leadJSON []byte
		if err := rows.Scan(&leadJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		var lead model.GatedEntity
		if err := json.Unmarshal(leadJSON, &lead); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal lead")
		}
		leads = append(leads, lead)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list rejections iterate")
}

func (s *PostgresStore) UpsertEntities(ctx context.Context, runID string, entities []model.CanonicalEntity) error {
	if len(entities) == 0 {
		return nil
	}

	columns := []string{"id", "run_id", "name", "country", "tier", "score", "entity", "updated_at"}
	rows := make([][]any, 0, len(entities))
	now := time.Now().UTC()
	for _, e := range entities {
		entityJSON, err := json.Marshal(e)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal entity %s", e.ID)
		}
		rows = append(rows, []any{e.ID, runID, e.CanonicalName, e.Country, string(e.Tier), e.Score, entityJSON, now})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "canonical_entities",
		Columns:      columns,
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert entities")
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.CanonicalEntity, error) {
	var entityJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT entity FROM canonical_entities WHERE id = $1`, id,
	).Scan(&entityJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("entity not found: %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get entity %s", id)
	}

	var entity model.CanonicalEntity
	if err := json.Unmarshal(entityJSON, &entity); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal entity")
	}
	return &entity, nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.CanonicalEntity, error) {
	query := `SELECT entity FROM canonical_entities WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.Tier != "" {
		query += fmt.Sprintf(` AND tier = $%d`, argIdx)
		args = append(args, string(filter.Tier))
		argIdx++
	}
	if filter.Country != "" {
		query += fmt.Sprintf(` AND country = $%d`, argIdx)
		args = append(args, filter.Country)
		argIdx++
	}
	query += ` ORDER BY score DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var entities []model.CanonicalEntity
	for rows.Next() {
		var entityJSON []byte
		if err := rows.Scan(&entityJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		var entity model.CanonicalEntity
		if err := json.Unmarshal(entityJSON, &entity); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal entity")
		}
		entities = append(entities, entity)
	}
	return entities, eris.Wrap(rows.Err(), "postgres: list entities iterate")
}

func (s *PostgresStore) SaveReviewPairs(ctx context.Context, pairs []model.ReviewPair) error {
	if len(pairs) == 0 {
		return nil
	}

	columns := []string{"id", "run_id", "entity_id_a", "entity_id_b", "name_a", "name_b", "country", "similarity", "status", "suggestion", "created_at"}
	rows := make([][]any, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, []any{p.ID, p.RunID, p.EntityIDA, p.EntityIDB, p.NameA, p.NameB, p.Country, p.Similarity, p.Status, p.Suggestion, p.CreatedAt})
	}

	// Status and suggestion stay out of UpdateCols so adjudications
	// survive re-detection on later runs.
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "merge_review",
		Columns:      columns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"run_id", "entity_id_a", "entity_id_b", "name_a", "name_b", "country", "similarity", "created_at"},
	}, rows)
	return eris.Wrap(err, "postgres: save review pairs")
}

func (s *PostgresStore) ListReviewPairs(ctx context.Context, status string) ([]model.ReviewPair, error) {
	query := `SELECT id, run_id, entity_id_a, entity_id_b, name_a, name_b, country, similarity, status, suggestion, created_at
	          FROM merge_review WHERE true`
	args := []any{}

	if status != "" {
		query += ` AND status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY similarity DESC, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review pairs")
	}
	defer rows.Close()

	var pairs []model.ReviewPair
	for rows.Next() {
		var p model.ReviewPair
		var suggestion *string
		if err := rows.Scan(&p.ID, &p.RunID, &p.EntityIDA, &p.EntityIDB, &p.NameA, &p.NameB, &p.Country, &p.Similarity, &p.Status, &suggestion, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review pair")
		}
		if suggestion != nil {
			p.Suggestion = *suggestion
		}
		pairs = append(pairs, p)
	}
	return pairs, eris.Wrap(rows.Err(), "postgres: list review pairs iterate")
}

func (s *PostgresStore) ResolveReviewPair(ctx context.Context, pairID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE merge_review SET status = $1 WHERE id = $2`,
		status, pairID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve review pair %s", pairID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("review pair not found: %s", pairID)
	}
	return nil
}

func (s *PostgresStore) SetReviewSuggestion(ctx context.Context, pairID, suggestion string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE merge_review SET suggestion = $1 WHERE id = $2`,
		suggestion, pairID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set review suggestion %s", pairID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("review pair not found: %s", pairID)
	}
	return nil
}

func (s *PostgresStore) Adjudications(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status FROM merge_review WHERE status IN ($1, $2)`,
		model.ReviewMerged, model.ReviewKeptSeparate,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: adjudications")
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, eris.Wrap(err, "postgres: scan adjudication")
		}
		out[id] = status == model.ReviewMerged
	}
	return out, eris.Wrap(rows.Err(), "postgres: adjudications iterate")
}

// Dead letter queue methods

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO crm_dlq
		 (id, target, entity_id, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $5, error_type = $6, retry_count = $7,
		   next_retry_at = $9, last_failed_at = $11`,
		entry.ID, entry.Target, entry.EntityID, entry.Payload, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, target, entity_id, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM crm_dlq
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.Target != "" {
		query += fmt.Sprintf(` AND target = $%d`, argIdx)
		args = append(args, filter.Target)
		argIdx++
	}
	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.Target, &e.EntityID, &e.Payload, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crm_dlq
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM crm_dlq WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM crm_dlq`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
