package store

import (
	"context"
	"time"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/resilience"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Since  time.Time       `json:"since,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// EntityFilter specifies criteria for listing canonical entities.
type EntityFilter struct {
	RunID   string     `json:"run_id,omitempty"`
	Tier    model.Tier `json:"tier,omitempty"`
	Country string     `json:"country,omitempty"`
	Limit   int        `json:"limit,omitempty"`
	Offset  int        `json:"offset,omitempty"`
}

// Store defines the persistence interface for the resolution pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, inputFiles []string) (*model.RunSummary, error)
	FinishRun(ctx context.Context, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.RunSummary, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error)

	// Gated leads, kept for the audit trail. Rejections are queried
	// back when building audit exports.
	SaveLeads(ctx context.Context, runID string, leads []model.GatedEntity) error
	ListRejections(ctx context.Context, runID string) ([]model.GatedEntity, error)

	// Canonical entities. Upserts key on the stable entity ID so
	// re-runs over overlapping inputs update rather than duplicate.
	UpsertEntities(ctx context.Context, runID string, entities []model.CanonicalEntity) error
	GetEntity(ctx context.Context, id string) (*model.CanonicalEntity, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]model.CanonicalEntity, error)

	// Merge review queue
	SaveReviewPairs(ctx context.Context, pairs []model.ReviewPair) error
	ListReviewPairs(ctx context.Context, status string) ([]model.ReviewPair, error)
	ResolveReviewPair(ctx context.Context, pairID, status string) error
	SetReviewSuggestion(ctx context.Context, pairID, suggestion string) error
	Adjudications(ctx context.Context) (map[string]bool, error)

	// CRM dead letters
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
