package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS raw_leads (
	run_id           TEXT NOT NULL REFERENCES runs(id),
	id               TEXT NOT NULL,
	quality          TEXT NOT NULL,
	rejection_reason TEXT,
	lead             TEXT NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS canonical_entities (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	name       TEXT NOT NULL,
	country    TEXT,
	tier       TEXT NOT NULL,
	score      REAL NOT NULL DEFAULT 0,
	entity     TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS merge_review (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	entity_id_a TEXT NOT NULL,
	entity_id_b TEXT NOT NULL,
	name_a      TEXT NOT NULL,
	name_b      TEXT NOT NULL,
	country     TEXT,
	similarity  REAL NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'pending',
	suggestion  TEXT,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS crm_dlq (
	id             TEXT PRIMARY KEY,
	target         TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	payload        BLOB,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, inputFiles []string) (*model.RunSummary, error) {
	summary := &model.RunSummary{
		ID:         uuid.New().String(),
		StartedAt:  time.Now().UTC(),
		Status:     model.RunStatusRunning,
		InputFiles: inputFiles,
	}

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal summary")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, summary, started_at) VALUES (?, ?, ?, ?)`,
		summary.ID, string(summary.Status), string(summaryJSON), summary.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return summary, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, finished_at = ? WHERE id = ?`,
		string(summary.Status), string(summaryJSON), summary.FinishedAt, summary.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", summary.ID)
	}
	return checkRowsAffected(res, "run", summary.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT summary FROM runs WHERE id = ?`, runID)
	return scanSummary(row, runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	query := `SELECT summary FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var summaryJSON string
		if err := rows.Scan(&summaryJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var summary model.RunSummary
		if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
		runs = append(runs, summary)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveLeads(ctx context.Context, runID string, leads []model.GatedEntity) error {
	if len(leads) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save leads")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_leads (run_id, id, quality, rejection_reason, lead) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, id) DO UPDATE SET quality = excluded.quality,
		   rejection_reason = excluded.rejection_reason, lead = excluded.lead`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save leads")
	}
	defer stmt.Close() //nolint:errcheck

	for _, lead := range leads {
		leadJSON, err := json.Marshal(lead)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal lead %s", lead.ID)
		}
		if _, err := stmt.ExecContext(ctx, runID, lead.ID, string(lead.Quality), lead.RejectionReason, string(leadJSON)); err != nil {
			return eris.Wrapf(err, "sqlite: insert lead %s", lead.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save leads")
}

func (s *SQLiteStore) ListRejections(ctx context.Context, runID string) ([]model.GatedEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lead FROM raw_leads WHERE run_id = ? AND quality = ? ORDER BY id`,
		runID, string(model.GradeReject),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rejections")
	}
	defer rows.Close()

	var leads []model.GatedEntity
	for rows.Next() {
		var leadJSON string
		if err := rows.Scan(&leadJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		var lead model.GatedEntity
		if err := json.Unmarshal([]byte(leadJSON), &lead); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal lead")
		}
		leads = append(leads, lead)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list rejections iterate")
}

func (s *SQLiteStore) UpsertEntities(ctx context.Context, runID string, entities []model.CanonicalEntity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert entities")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO canonical_entities (id, run_id, name, country, tier, score, entity, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET run_id = excluded.run_id, name = excluded.name,
		   country = excluded.country, tier = excluded.tier, score = excluded.score,
		   entity = excluded.entity, updated_at = excluded.updated_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert entities")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, e := range entities {
		entityJSON, err := json.Marshal(e)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal entity %s", e.ID)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, runID, e.CanonicalName, e.Country, string(e.Tier), e.Score, string(entityJSON), now); err != nil {
			return eris.Wrapf(err, "sqlite: upsert entity %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert entities")
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.CanonicalEntity, error) {
	var entityJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT entity FROM canonical_entities WHERE id = ?`, id,
	).Scan(&entityJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("entity not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entity %s", id)
	}

	var entity model.CanonicalEntity
	if err := json.Unmarshal([]byte(entityJSON), &entity); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal entity")
	}
	return &entity, nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.CanonicalEntity, error) {
	query := `SELECT entity FROM canonical_entities WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(filter.Tier))
	}
	if filter.Country != "" {
		query += ` AND country = ?`
		args = append(args, filter.Country)
	}
	query += ` ORDER BY score DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var entities []model.CanonicalEntity
	for rows.Next() {
		var entityJSON string
		if err := rows.Scan(&entityJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		var entity model.CanonicalEntity
		if err := json.Unmarshal([]byte(entityJSON), &entity); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal entity")
		}
		entities = append(entities, entity)
	}
	return entities, eris.Wrap(rows.Err(), "sqlite: list entities iterate")
}

func (s *SQLiteStore) SaveReviewPairs(ctx context.Context, pairs []model.ReviewPair) error {
	if len(pairs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save review pairs")
	}
	defer tx.Rollback() //nolint:errcheck

	// Status and suggestion stay out of the conflict update so
	// adjudications survive re-detection on later runs.
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO merge_review (id, run_id, entity_id_a, entity_id_b, name_a, name_b, country, similarity, status, suggestion, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET run_id = excluded.run_id,
		   entity_id_a = excluded.entity_id_a, entity_id_b = excluded.entity_id_b,
		   name_a = excluded.name_a, name_b = excluded.name_b,
		   country = excluded.country, similarity = excluded.similarity,
		   created_at = excluded.created_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save review pairs")
	}
	defer stmt.Close() //nolint:errcheck

	for _, p := range pairs {
		if _, err := stmt.ExecContext(ctx, p.ID, p.RunID, p.EntityIDA, p.EntityIDB, p.NameA, p.NameB, p.Country, p.Similarity, p.Status, p.Suggestion, p.CreatedAt); err != nil {
			return eris.Wrapf(err, "sqlite: insert review pair %s", p.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save review pairs")
}

func (s *SQLiteStore) ListReviewPairs(ctx context.Context, status string) ([]model.ReviewPair, error) {
	query := `SELECT id, run_id, entity_id_a, entity_id_b, name_a, name_b, country, similarity, status, suggestion, created_at
	          FROM merge_review WHERE 1=1`
	var args []any

	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY similarity DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review pairs")
	}
	defer rows.Close()

	var pairs []model.ReviewPair
	for rows.Next() {
		var p model.ReviewPair
		if err := rows.Scan(&p.ID, &p.RunID, &p.EntityIDA, &p.EntityIDB, &p.NameA, &p.NameB, &p.Country, &p.Similarity, &p.Status, &p.Suggestion, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review pair")
		}
		pairs = append(pairs, p)
	}
	return pairs, eris.Wrap(rows.Err(), "sqlite: list review pairs iterate")
}

func (s *SQLiteStore) ResolveReviewPair(ctx context.Context, pairID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE merge_review SET status = ? WHERE id = ?`,
		status, pairID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve review pair %s", pairID)
	}
	return checkRowsAffected(res, "review pair", pairID)
}

func (s *SQLiteStore) SetReviewSuggestion(ctx context.Context, pairID, suggestion string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE merge_review SET suggestion = ? WHERE id = ?`,
		suggestion, pairID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set review suggestion %s", pairID)
	}
	return checkRowsAffected(res, "review pair", pairID)
}

func (s *SQLiteStore) Adjudications(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status FROM merge_review WHERE status IN (?, ?)`,
		model.ReviewMerged, model.ReviewKeptSeparate,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: adjudications")
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan adjudication")
		}
		out[id] = status == model.ReviewMerged
	}
	return out, eris.Wrap(rows.Err(), "sqlite: adjudications iterate")
}

// Dead letter queue methods

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crm_dlq
		 (id, target, entity_id, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at,
		   last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.Target, entry.EntityID, entry.Payload, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	// The cutoff binds as a parameter so both sides of the comparison use
	// the driver's time encoding.
	query := `SELECT id, target, entity_id, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM crm_dlq
	          WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{time.Now().UTC()}

	if filter.Target != "" {
		query += ` AND target = ?`
		args = append(args, filter.Target)
	}
	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.Target, &e.EntityID, &e.Payload, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crm_dlq
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM crm_dlq WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crm_dlq`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSummary(row scannable, runID string) (*model.RunSummary, error) {
	var summaryJSON string
	err := row.Scan(&summaryJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	var summary model.RunSummary
	if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal summary")
	}
	return &summary, nil
}
