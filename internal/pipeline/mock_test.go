package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/resilience"
	"github.com/sells-group/millscout-cli/internal/store"
)

// memStore is an in-memory Store. It keeps real state so adjudication
// round-trips behave like the SQLite store does.
type memStore struct {
	mu       sync.Mutex
	runs     map[string]model.RunSummary
	leads    map[string][]model.GatedEntity
	entities map[string]model.CanonicalEntity
	pairs    map[string]model.ReviewPair
	dlq      map[string]resilience.DLQEntry

	createErr error
	upsertErr error
	adjErr    error
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		runs:     make(map[string]model.RunSummary),
		leads:    make(map[string][]model.GatedEntity),
		entities: make(map[string]model.CanonicalEntity),
		pairs:    make(map[string]model.ReviewPair),
		dlq:      make(map[string]resilience.DLQEntry),
	}
}

func (m *memStore) CreateRun(_ context.Context, inputFiles []string) (*model.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	run := model.RunSummary{
		ID:         uuid.New().String(),
		StartedAt:  time.Now().UTC(),
		Status:     model.RunStatusRunning,
		InputFiles: inputFiles,
	}
	m.runs[run.ID] = run
	out := run
	return &out, nil
}

func (m *memStore) FinishRun(_ context.Context, summary *model.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[summary.ID]; !ok {
		return eris.Errorf("run not found: %s", summary.ID)
	}
	m.runs[summary.ID] = *summary
	return nil
}

func (m *memStore) GetRun(_ context.Context, runID string) (*model.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	out := run
	return &out, nil
}

func (m *memStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RunSummary
	for _, r := range m.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && r.StartedAt.Before(filter.Since) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) SaveLeads(_ context.Context, runID string, leads []model.GatedEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[runID] = append(m.leads[runID], leads...)
	return nil
}

func (m *memStore) ListRejections(_ context.Context, runID string) ([]model.GatedEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.GatedEntity
	for _, l := range m.leads[runID] {
		if l.Quality == model.GradeReject {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) UpsertEntities(_ context.Context, _ string, entities []model.CanonicalEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, e := range entities {
		m.entities[e.ID] = e
	}
	return nil
}

func (m *memStore) GetEntity(_ context.Context, id string) (*model.CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, eris.Errorf("entity not found: %s", id)
	}
	out := e
	return &out, nil
}

func (m *memStore) ListEntities(_ context.Context, filter store.EntityFilter) ([]model.CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CanonicalEntity
	for _, e := range m.entities {
		if filter.Tier != "" && e.Tier != filter.Tier {
			continue
		}
		if filter.Country != "" && e.Country != filter.Country {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) SaveReviewPairs(_ context.Context, pairs []model.ReviewPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pairs {
		if prev, ok := m.pairs[p.ID]; ok {
			// Adjudications survive re-saves.
			p.Status = prev.Status
			p.Suggestion = prev.Suggestion
		}
		m.pairs[p.ID] = p
	}
	return nil
}

func (m *memStore) ListReviewPairs(_ context.Context, status string) ([]model.ReviewPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReviewPair
	for _, p := range m.pairs {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ResolveReviewPair(_ context.Context, pairID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairs[pairID]
	if !ok {
		return eris.Errorf("review pair not found: %s", pairID)
	}
	p.Status = status
	m.pairs[pairID] = p
	return nil
}

func (m *memStore) SetReviewSuggestion(_ context.Context, pairID, suggestion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairs[pairID]
	if !ok {
		return eris.Errorf("review pair not found: %s", pairID)
	}
	p.Suggestion = suggestion
	m.pairs[pairID] = p
	return nil
}

func (m *memStore) Adjudications(_ context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adjErr != nil {
		return nil, m.adjErr
	}
	out := make(map[string]bool)
	for id, p := range m.pairs {
		switch p.Status {
		case model.ReviewMerged:
			out[id] = true
		case model.ReviewKeptSeparate:
			out[id] = false
		}
	}
	return out, nil
}

func (m *memStore) EnqueueDLQ(_ context.Context, entry resilience.DLQEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	m.dlq[entry.ID] = entry
	return nil
}

func (m *memStore) DequeueDLQ(_ context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []resilience.DLQEntry
	for _, e := range m.dlq {
		if filter.Target != "" && e.Target != filter.Target {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) IncrementDLQRetry(_ context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dlq[id]
	if !ok {
		return eris.Errorf("dlq entry not found: %s", id)
	}
	e.RetryCount++
	e.NextRetryAt = nextRetryAt
	e.Error = lastErr
	e.LastFailedAt = time.Now().UTC()
	m.dlq[id] = e
	return nil
}

func (m *memStore) RemoveDLQ(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dlq, id)
	return nil
}

func (m *memStore) CountDLQ(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dlq), nil
}

func (m *memStore) Migrate(_ context.Context) error { return nil }

func (m *memStore) Close() error { return nil }
