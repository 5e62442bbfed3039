package notion

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/resilience"
)

// keyProperty holds the pipeline identifier on every pushed page: the
// pair ID in the review database, the entity ID in the golden one.
const keyProperty = "MillScout ID"

// dlqMaxRetries bounds replay attempts per parked page.
const dlqMaxRetries = 5

// DLQ envelope kinds.
const (
	dlqKindReview = "review"
	dlqKindGolden = "golden"
)

// DeadLetterer is the slice of the store the pusher needs to park and
// replay failed pushes.
type DeadLetterer interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

// PushResult summarizes one push or replay invocation.
type PushResult struct {
	Pushed       int `json:"pushed"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

// Pusher writes review pairs and golden leads into their Notion
// databases. Each page carries the MillScout ID property; an index of
// existing IDs is loaded up front so re-pushes update in place.
type Pusher struct {
	client   Client
	dlq      DeadLetterer
	policy   resilience.Policy
	reviewDB string
	goldenDB string
}

// NewPusher wires a Pusher to the given client, dead-letter store, and
// target database IDs. A database left empty disables that push.
func NewPusher(client Client, dlq DeadLetterer, reviewDB, goldenDB string) *Pusher {
	policy := resilience.DefaultPolicy()
	policy.Notify = resilience.LogRetries(resilience.TargetNotion, "push page")
	return &Pusher{
		client:   client,
		dlq:      dlq,
		policy:   policy,
		reviewDB: reviewDB,
		goldenDB: goldenDB,
	}
}

// dlqEnvelope is the replayable payload for a failed Notion push. It
// carries the full record, so replays rebuild the page without the
// store.
type dlqEnvelope struct {
	Kind   string                 `json:"kind"`
	Pair   *model.ReviewPair      `json:"pair,omitempty"`
	Entity *model.CanonicalEntity `json:"entity,omitempty"`
}

// PushReviewPairs mirrors grey-band pairs into the review database.
// Failures never abort the batch; they are parked for replay.
func (p *Pusher) PushReviewPairs(ctx context.Context, pairs []model.ReviewPair) (PushResult, error) {
	var res PushResult
	if p.reviewDB == "" {
		return res, eris.New("notion: review database not configured")
	}

	index, err := p.existingKeys(ctx, p.reviewDB)
	if err != nil {
		return res, err
	}

	for _, pair := range pairs {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "notion: push interrupted")
		}

		err := p.pushPage(ctx, p.reviewDB, index[pair.ID], reviewProperties(pair))
		if err != nil {
			res.Failed++
			if p.deadLetter(ctx, pair.ID, dlqEnvelope{Kind: dlqKindReview, Pair: &pair}, err) {
				res.DeadLettered++
			}
			continue
		}
		res.Pushed++
	}

	zap.L().Info("notion: review pairs pushed",
		zap.Int("pairs", len(pairs)),
		zap.Int("pushed", res.Pushed),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// PushGolden mirrors the golden lead list into the golden database.
func (p *Pusher) PushGolden(ctx context.Context, entities []model.CanonicalEntity) (PushResult, error) {
	var res PushResult
	if p.goldenDB == "" {
		return res, eris.New("notion: golden database not configured")
	}

	index, err := p.existingKeys(ctx, p.goldenDB)
	if err != nil {
		return res, err
	}

	for _, e := range entities {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "notion: push interrupted")
		}

		err := p.pushPage(ctx, p.goldenDB, index[e.ID], goldenProperties(e))
		if err != nil {
			res.Failed++
			if p.deadLetter(ctx, e.ID, dlqEnvelope{Kind: dlqKindGolden, Entity: &e}, err) {
				res.DeadLettered++
			}
			continue
		}
		res.Pushed++
	}

	zap.L().Info("notion: golden leads pushed",
		zap.Int("entities", len(entities)),
		zap.Int("pushed", res.Pushed),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// RetryDLQ replays due Notion dead letters. Each replay re-resolves
// create-versus-update with a single keyed query, since the original
// index is long gone.
func (p *Pusher) RetryDLQ(ctx context.Context, limit int) (PushResult, error) {
	var res PushResult

	entries, err := p.dlq.DequeueDLQ(ctx, resilience.DLQFilter{
		Target: resilience.TargetNotion,
		Limit:  limit,
	})
	if err != nil {
		return res, eris.Wrap(err, "notion: dequeue dlq")
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "notion: replay interrupted")
		}

		var env dlqEnvelope
		replayErr := json.Unmarshal(entry.Payload, &env)
		if replayErr == nil {
			replayErr = p.replay(ctx, env)
		}
		if replayErr != nil {
			res.Failed++
			next := time.Now().UTC().Add(resilience.ReplayBackoff(entry.RetryCount + 1))
			if bumpErr := p.dlq.IncrementDLQRetry(ctx, entry.ID, next, replayErr.Error()); bumpErr != nil {
				zap.L().Error("notion: bump dlq retry", zap.String("id", entry.ID), zap.Error(bumpErr))
			}
			continue
		}

		if err := p.dlq.RemoveDLQ(ctx, entry.ID); err != nil {
			zap.L().Error("notion: remove dlq entry", zap.String("id", entry.ID), zap.Error(err))
		}
		res.Pushed++
	}

	if len(entries) > 0 {
		zap.L().Info("notion: dlq replayed",
			zap.Int("due", len(entries)),
			zap.Int("pushed", res.Pushed),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// replay rebuilds and upserts the page described by one envelope.
func (p *Pusher) replay(ctx context.Context, env dlqEnvelope) error {
	switch env.Kind {
	case dlqKindReview:
		if env.Pair == nil {
			return eris.New("notion: envelope missing pair")
		}
		if p.reviewDB == "" {
			return eris.New("notion: review database not configured")
		}
		return p.upsertByKey(ctx, p.reviewDB, env.Pair.ID, reviewProperties(*env.Pair))
	case dlqKindGolden:
		if env.Entity == nil {
			return eris.New("notion: envelope missing entity")
		}
		if p.goldenDB == "" {
			return eris.New("notion: golden database not configured")
		}
		return p.upsertByKey(ctx, p.goldenDB, env.Entity.ID, goldenProperties(*env.Entity))
	default:
		return eris.Errorf("notion: unknown dlq kind %q", env.Kind)
	}
}

// upsertByKey creates or updates the single page holding key.
func (p *Pusher) upsertByKey(ctx context.Context, dbID, key string, props notionapi.Properties) error {
	resp, err := p.client.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: keyProperty,
			RichText: &notionapi.TextFilterCondition{Equals: key},
		},
	})
	if err != nil {
		return err
	}

	existingID := ""
	if len(resp.Results) > 0 {
		existingID = string(resp.Results[0].ID)
	}
	return p.pushPage(ctx, dbID, existingID, props)
}

// pushPage creates the page, or updates it when existingID is set,
// retrying transient API failures.
func (p *Pusher) pushPage(ctx context.Context, dbID, existingID string, props notionapi.Properties) error {
	return resilience.Do(ctx, p.policy, func(ctx context.Context) error {
		if existingID != "" {
			_, err := p.client.UpdatePage(ctx, existingID, &notionapi.PageUpdateRequest{
				Properties: props,
			})
			return err
		}
		_, err := p.client.CreatePage(ctx, &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(dbID),
			},
			Properties: props,
		})
		return err
	})
}

// existingKeys maps the key property to page ID for every page in the
// database, so pushes update in place instead of duplicating.
func (p *Pusher) existingKeys(ctx context.Context, dbID string) (map[string]string, error) {
	pages, err := QueryAll(ctx, p.client, dbID, nil)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]string, len(pages))
	for _, page := range pages {
		if k := pageKey(page); k != "" {
			keys[k] = string(page.ID)
		}
	}
	return keys, nil
}

// pageKey extracts the MillScout ID property from a fetched page.
func pageKey(page notionapi.Page) string {
	prop, ok := page.Properties[keyProperty]
	if !ok {
		return ""
	}
	rtp, ok := prop.(*notionapi.RichTextProperty)
	if !ok {
		return ""
	}
	return plainText(rtp.RichText)
}

// plainText concatenates the plain_text values from a slice of RichText.
func plainText(rts []notionapi.RichText) string {
	var s string
	for _, rt := range rts {
		s += rt.PlainText
	}
	return s
}

// deadLetter parks one failed push for replay. Entries are due
// immediately so an operator can drain right after the push.
func (p *Pusher) deadLetter(ctx context.Context, entityID string, env dlqEnvelope, cause error) bool {
	payload, err := json.Marshal(env)
	if err != nil {
		zap.L().Error("notion: marshal dlq payload", zap.String("entity", entityID), zap.Error(err))
		return false
	}

	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		ID:           uuid.New().String(),
		Target:       resilience.TargetNotion,
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
		zap.L().Error("notion: enqueue dlq", zap.String("entity", entityID), zap.Error(err))
		return false
	}
	return true
}

// reviewProperties lays out one grey-band pair for the adjudication
// database.
func reviewProperties(pair model.ReviewPair) notionapi.Properties {
	props := notionapi.Properties{
		"Name":      titleProp(pair.NameA + " vs " + pair.NameB),
		keyProperty: textProp(pair.ID),
		"Similarity": notionapi.NumberProperty{
			Number: pair.Similarity,
		},
		"Status": notionapi.StatusProperty{
			Status: notionapi.Status{Name: "Pending"},
		},
	}
	if pair.RunID != "" {
		props["Run"] = textProp(pair.RunID)
	}
	if pair.Country != "" {
		props["Country"] = textProp(pair.Country)
	}
	if pair.Suggestion != "" {
		props["Suggestion"] = textProp(pair.Suggestion)
	}
	return props
}

// goldenProperties lays out one golden lead for the sales list.
func goldenProperties(e model.CanonicalEntity) notionapi.Properties {
	props := notionapi.Properties{
		"Name":      titleProp(e.CanonicalName),
		keyProperty: textProp(e.ID),
		"Score": notionapi.NumberProperty{
			Number: e.Score,
		},
		"Grade": notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(e.Quality)},
		},
		"OEM Reference": notionapi.CheckboxProperty{
			Checkbox: e.OEMReference,
		},
	}
	if e.Country != "" {
		props["Country"] = textProp(e.Country)
	}
	if e.Website != "" {
		props["Website"] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  normalizeURL(e.Website),
		}
	}
	if e.ContactEmail != "" {
		props["Contact"] = notionapi.EmailProperty{
			Email: e.ContactEmail,
		}
	}
	if e.CapacityBand != "" && e.CapacityBand != model.CapacityUnknown {
		props["Capacity"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(e.CapacityBand)},
		}
	}
	if len(e.MatchedKeywords) > 0 {
		props["Why"] = textProp(strings.Join(e.MatchedKeywords, ", "))
	}
	if links := evidenceLinks(e, 3); len(links) > 0 {
		props["Evidence"] = textProp(strings.Join(links, "\n"))
	}
	return props
}

// evidenceLinks returns up to limit distinct evidence URLs.
func evidenceLinks(e model.CanonicalEntity, limit int) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, ev := range e.Evidence {
		if ev.URL == "" || seen[ev.URL] {
			continue
		}
		seen[ev.URL] = true
		urls = append(urls, ev.URL)
		if len(urls) == limit {
			break
		}
	}
	return urls
}

func titleProp(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type: notionapi.PropertyTypeTitle,
		Title: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
		},
	}
}

func textProp(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type: notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
		},
	}
}

// normalizeURL ensures a domain has an https:// scheme prefix.
func normalizeURL(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return ""
	}
	if !strings.Contains(domain, "://") {
		return "https://" + domain
	}
	return domain
}
