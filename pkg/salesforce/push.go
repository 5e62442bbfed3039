package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/resilience"
)

// DefaultExternalIDField keys Lead upserts when none is configured.
const DefaultExternalIDField = "Millscout_ID__c"

// leadSObject is the target object for pushed entities.
const leadSObject = "Lead"

// dlqMaxRetries bounds replay attempts per parked record.
const dlqMaxRetries = 5

// DeadLetterer is the slice of the store the pusher needs to park and
// replay failed records.
type DeadLetterer interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

// Pusher batches canonical entities into Lead upserts. Transient batch
// failures are retried with backoff; records that exhaust their retries
// or are rejected by Salesforce are parked in the dead-letter queue for
// replay via RetryDLQ.
type Pusher struct {
	client  Client
	dlq     DeadLetterer
	policy  resilience.Policy
	breaker *resilience.Breaker
	idField string
}

// NewPusher wires a Pusher to the given client and dead-letter store.
// An empty idField falls back to DefaultExternalIDField.
func NewPusher(client Client, dlq DeadLetterer, idField string) *Pusher {
	if idField == "" {
		idField = DefaultExternalIDField
	}
	policy := resilience.DefaultPolicy()
	policy.Notify = resilience.LogRetries(resilience.TargetSalesforce, "upsert leads")
	return &Pusher{
		client:  client,
		dlq:     dlq,
		policy:  policy,
		breaker: resilience.NewBreaker("salesforce", 5, 30*time.Second),
		idField: idField,
	}
}

// PushResult summarizes one push or replay invocation.
type PushResult struct {
	Pushed       int `json:"pushed"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

// PushEntities upserts entities as Leads in batches of 200. Per-record
// rejections never abort the push; they are parked and the remaining
// batches continue. The push aborts only when the context is cancelled
// or the circuit breaker opens, since everything after that point would
// fail the same way. Upserts are idempotent, so a re-run after an abort
// is safe.
func (p *Pusher) PushEntities(ctx context.Context, entities []model.CanonicalEntity) (PushResult, error) {
	var res PushResult

	for start := 0; start < len(entities); start += maxBatchSize {
		end := min(start+maxBatchSize, len(entities))
		batch := entities[start:end]

		records := make([]map[string]any, len(batch))
		for i, e := range batch {
			records[i] = leadFields(e, p.idField)
		}

		results, err := resilience.DoVal(ctx, p.policy, func(ctx context.Context) ([]CollectionResult, error) {
			var collected []CollectionResult
			execErr := p.breaker.Execute(ctx, func(ctx context.Context) error {
				var upsertErr error
				collected, upsertErr = p.client.UpsertCollection(ctx, leadSObject, p.idField, records)
				return upsertErr
			})
			return collected, execErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, eris.Wrap(err, "sf: push interrupted")
			}
			if eris.Is(err, resilience.ErrCircuitOpen) {
				return res, eris.Wrap(err, "sf: push aborted")
			}
			// The batch is out of retries. Park every record so a later
			// replay can pick them up individually.
			for i, e := range batch {
				res.Failed++
				if p.deadLetter(ctx, e.ID, records[i], err) {
					res.DeadLettered++
				}
			}
			continue
		}

		for i, r := range results {
			if r.Success {
				res.Pushed++
				continue
			}
			res.Failed++
			cause := eris.New("sf: upsert rejected: " + strings.Join(r.Errors, "; "))
			if p.deadLetter(ctx, batch[i].ID, records[i], cause) {
				res.DeadLettered++
			}
		}
	}

	zap.L().Info("sf: push complete",
		zap.Int("entities", len(entities)),
		zap.Int("pushed", res.Pushed),
		zap.Int("failed", res.Failed),
		zap.Int("dead_lettered", res.DeadLettered),
	)
	return res, nil
}

// RetryDLQ replays due dead-letter entries one record at a time.
// Successful replays leave the queue; failures move the next attempt
// out on a doubling delay until the entry runs out of retries and
// waits for an operator.
func (p *Pusher) RetryDLQ(ctx context.Context, limit int) (PushResult, error) {
	var res PushResult

	entries, err := p.dlq.DequeueDLQ(ctx, resilience.DLQFilter{
		Target: resilience.TargetSalesforce,
		Limit:  limit,
	})
	if err != nil {
		return res, eris.Wrap(err, "sf: dequeue dlq")
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "sf: replay interrupted")
		}

		var record map[string]any
		if err := json.Unmarshal(entry.Payload, &record); err != nil {
			zap.L().Error("sf: dlq payload unreadable",
				zap.String("id", entry.ID),
				zap.String("entity", entry.EntityID),
				zap.Error(err),
			)
			res.Failed++
			// Burn a retry so a corrupt entry ages out instead of coming
			// back on every drain.
			next := time.Now().UTC().Add(resilience.ReplayBackoff(entry.RetryCount + 1))
			if bumpErr := p.dlq.IncrementDLQRetry(ctx, entry.ID, next, "payload unreadable: "+err.Error()); bumpErr != nil {
				zap.L().Error("sf: bump dlq retry", zap.String("id", entry.ID), zap.Error(bumpErr))
			}
			continue
		}

		if err := p.replay(ctx, record); err != nil {
			res.Failed++
			next := time.Now().UTC().Add(resilience.ReplayBackoff(entry.RetryCount + 1))
			if bumpErr := p.dlq.IncrementDLQRetry(ctx, entry.ID, next, err.Error()); bumpErr != nil {
				zap.L().Error("sf: bump dlq retry", zap.String("id", entry.ID), zap.Error(bumpErr))
			}
			continue
		}

		if err := p.dlq.RemoveDLQ(ctx, entry.ID); err != nil {
			zap.L().Error("sf: remove dlq entry", zap.String("id", entry.ID), zap.Error(err))
		}
		res.Pushed++
	}

	if len(entries) > 0 {
		zap.L().Info("sf: dlq replayed",
			zap.Int("due", len(entries)),
			zap.Int("pushed", res.Pushed),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// replay pushes a single parked record.
func (p *Pusher) replay(ctx context.Context, record map[string]any) error {
	results, err := p.client.UpsertCollection(ctx, leadSObject, p.idField, []map[string]any{record})
	if err != nil {
		return err
	}
	if len(results) == 1 && !results[0].Success {
		return eris.New("sf: upsert rejected: " + strings.Join(results[0].Errors, "; "))
	}
	return nil
}

// deadLetter parks one record for replay. A fresh entry is due
// immediately, so an operator can drain it right after the push.
func (p *Pusher) deadLetter(ctx context.Context, entityID string, record map[string]any, cause error) bool {
	payload, err := json.Marshal(record)
	if err != nil {
		zap.L().Error("sf: marshal dlq payload", zap.String("entity", entityID), zap.Error(err))
		return false
	}

	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		ID:           uuid.New().String(),
		Target:       resilience.TargetSalesforce,
		EntityID:     entityID,
		Payload:      payload,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		MaxRetries:   dlqMaxRetries,
		NextRetryAt:  now,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := p.dlq.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Error("sf: enqueue dlq", zap.String("entity", entityID), zap.Error(err))
		return false
	}
	return true
}

// ratingFor maps a tier onto the stock Lead Rating picklist.
func ratingFor(tier model.Tier) string {
	switch tier {
	case model.TierGolden:
		return "Hot"
	case model.TierPromising:
		return "Warm"
	default:
		return "Cold"
	}
}

// leadFields flattens a canonical entity into Lead fields. Company and
// LastName are required on Lead; LastName carries a placeholder because
// mills, not people, are being pushed.
func leadFields(e model.CanonicalEntity, idField string) map[string]any {
	fields := map[string]any{
		idField:              e.ID,
		"Company":            e.CanonicalName,
		"LastName":           "Mill Contact",
		"LeadSource":         "MillScout",
		"Rating":             ratingFor(e.Tier),
		"Millscout_Tier__c":  string(e.Tier),
		"Millscout_Score__c": e.Score,
	}
	if e.Country != "" {
		fields["Country"] = e.Country
	}
	if e.Website != "" {
		fields["Website"] = e.Website
	}
	if e.ContactEmail != "" {
		fields["Email"] = e.ContactEmail
	}
	if desc := leadDescription(e); desc != "" {
		fields["Description"] = desc
	}
	return fields
}

// leadDescription summarizes why the entity qualified, with up to three
// evidence links for the rep to spot-check.
func leadDescription(e model.CanonicalEntity) string {
	var parts []string
	if len(e.MatchedKeywords) > 0 {
		parts = append(parts, "Matched: "+strings.Join(e.MatchedKeywords, ", "))
	}
	if e.K1Count > 0 || e.K2Count > 0 {
		parts = append(parts, fmt.Sprintf("Evidence: %d direct, %d contextual", e.K1Count, e.K2Count))
	}
	if e.OEMReference {
		parts = append(parts, "Named as an OEM customer reference.")
	}
	if e.CapacityBand != "" && e.CapacityBand != model.CapacityUnknown {
		parts = append(parts, "Capacity band: "+string(e.CapacityBand))
	}

	var urls []string
	seen := make(map[string]bool)
	for _, ev := range e.Evidence {
		if ev.URL == "" || seen[ev.URL] {
			continue
		}
		seen[ev.URL] = true
		urls = append(urls, ev.URL)
		if len(urls) == 3 {
			break
		}
	}
	if len(urls) > 0 {
		parts = append(parts, "Links: "+strings.Join(urls, " "))
	}

	return strings.Join(parts, "\n")
}
