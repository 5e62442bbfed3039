package notion

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/resilience"
)

// memDLQ is an in-memory DeadLetterer mirroring the store's dequeue
// rules: due entries with retries left, in insertion order.
type memDLQ struct {
	entries []resilience.DLQEntry
}

func (m *memDLQ) EnqueueDLQ(_ context.Context, entry resilience.DLQEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memDLQ) DequeueDLQ(_ context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	now := time.Now().UTC()
	var due []resilience.DLQEntry
	for _, e := range m.entries {
		if filter.Target != "" && e.Target != filter.Target {
			continue
		}
		if e.NextRetryAt.After(now) || !e.CanRetry() {
			continue
		}
		due = append(due, e)
		if filter.Limit > 0 && len(due) == filter.Limit {
			break
		}
	}
	return due, nil
}

func (m *memDLQ) IncrementDLQRetry(_ context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	for i := range m.entries {
		if m.entries[i].ID == id {
			m.entries[i].RetryCount++
			m.entries[i].NextRetryAt = nextRetryAt
			m.entries[i].Error = lastErr
			return nil
		}
	}
	return eris.Errorf("no dlq entry %s", id)
}

func (m *memDLQ) RemoveDLQ(_ context.Context, id string) error {
	for i := range m.entries {
		if m.entries[i].ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// newTestPusher swaps in a millisecond retry policy so failure paths
// do not sleep through real backoff.
func newTestPusher(client Client, dlq DeadLetterer) *Pusher {
	p := NewPusher(client, dlq, "db-review", "db-golden")
	p.policy = resilience.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: 0}
	return p
}

func reviewPair(id, nameA, nameB string) model.ReviewPair {
	return model.ReviewPair{
		ID:         id,
		RunID:      "run-7",
		EntityIDA:  "ent-a",
		EntityIDB:  "ent-b",
		NameA:      nameA,
		NameB:      nameB,
		Country:    "Turkey",
		Similarity: 0.87,
		Status:     "pending",
		Suggestion: "MERGE",
	}
}

func goldenEntity(id, name string) model.CanonicalEntity {
	return model.CanonicalEntity{
		ID:              id,
		CanonicalName:   name,
		Country:         "Portugal",
		Website:         "covilha-dye.pt",
		ContactEmail:    "sales@covilha-dye.pt",
		Quality:         model.GradeA,
		Tier:            model.TierGolden,
		Score:           0.91,
		OEMReference:    true,
		CapacityBand:    model.CapacityMid,
		MatchedKeywords: []string{"tingimento", "acabamento"},
		Evidence: []model.EvidenceItem{
			{URL: "https://covilha-dye.pt/services"},
			{URL: "https://oem.example.com/suppliers"},
		},
	}
}

// pageWithKey builds a page the way the API returns it, with the key
// property decoded to a pointer type.
func pageWithKey(pageID, key string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(pageID),
		Properties: notionapi.Properties{
			keyProperty: &notionapi.RichTextProperty{
				Type:     notionapi.PropertyTypeRichText,
				RichText: []notionapi.RichText{{PlainText: key}},
			},
		},
	}
}

func emptyIndex(mc *MockClient, dbID string) {
	mc.On("QueryDatabase", mock.Anything, dbID, mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
}

func TestPushReviewPairs_CreatesNew(t *testing.T) {
	mc := new(MockClient)
	dlq := &memDLQ{}
	emptyIndex(mc, "db-review")

	var created []*notionapi.PageCreateRequest
	mc.On("CreatePage", mock.Anything, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Run(func(args mock.Arguments) {
			created = append(created, args.Get(1).(*notionapi.PageCreateRequest))
		}).
		Return(&notionapi.Page{ID: "new-page"}, nil).Twice()

	p := newTestPusher(mc, dlq)
	res, err := p.PushReviewPairs(context.Background(), []model.ReviewPair{
		reviewPair("pair-1", "Mertex Tekstil", "Mertex Textile"),
		reviewPair("pair-2", "Anatex Boya", "Anateks Boya"),
	})
	require.NoError(t, err)
	assert.Equal(t, PushResult{Pushed: 2}, res)
	assert.Empty(t, dlq.entries)

	require.Len(t, created, 2)
	assert.Equal(t, notionapi.DatabaseID("db-review"), created[0].Parent.DatabaseID)

	props := created[0].Properties
	title := props["Name"].(notionapi.TitleProperty)
	assert.Equal(t, "Mertex Tekstil vs Mertex Textile", title.Title[0].Text.Content)
	key := props[keyProperty].(notionapi.RichTextProperty)
	assert.Equal(t, "pair-1", key.RichText[0].Text.Content)
	assert.InDelta(t, 0.87, props["Similarity"].(notionapi.NumberProperty).Number, 1e-9)
	assert.Equal(t, "Pending", props["Status"].(notionapi.StatusProperty).Status.Name)
	mc.AssertExpectations(t)
}

func TestPushReviewPairs_UpdatesExisting(t *testing.T) {
	mc := new(MockClient)
	dlq := &memDLQ{}

	// The index holds pair-1 already, so it is updated in place.
	mc.On("QueryDatabase", mock.Anything, "db-review", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{pageWithKey("page-77", "pair-1")},
		}, nil).Once()

	mc.On("UpdatePage", mock.Anything, "page-77", mock.AnythingOfType("*notionapi.PageUpdateRequest")).
		Return(&notionapi.Page{ID: "page-77"}, nil).Once()
	mc.On("CreatePage", mock.Anything, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(&notionapi.Page{ID: "new-page"}, nil).Once()

	p := newTestPusher(mc, dlq)
	res, err := p.PushReviewPairs(context.Background(), []model.ReviewPair{
		reviewPair("pair-1", "Mertex Tekstil", "Mertex Textile"),
		reviewPair("pair-2", "Anatex Boya", "Anateks Boya"),
	})
	require.NoError(t, err)
	assert.Equal(t, PushResult{Pushed: 2}, res)
	mc.AssertExpectations(t)
}

func TestPushReviewPairs_NotConfigured(t *testing.T) {
	mc := new(MockClient)
	p := NewPusher(mc, &memDLQ{}, "", "db-golden")

	_, err := p.PushReviewPairs(context.Background(), []model.ReviewPair{
		reviewPair("pair-1", "A", "B"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "review database not configured")
	mc.AssertNotCalled(t, "QueryDatabase", mock.Anything, mock.Anything, mock.Anything)
}

func TestPushReviewPairs_IndexError(t *testing.T) {
	mc := new(MockClient)
	mc.On("QueryDatabase", mock.Anything, "db-review", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(nil, assert.AnError).Once()

	p := newTestPusher(mc, &memDLQ{})
	_, err := p.PushReviewPairs(context.Background(), []model.ReviewPair{
		reviewPair("pair-1", "A", "B"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: query all page")
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
}

func TestPushReviewPairs_PermanentFailureDeadLetters(t *testing.T) {
	mc := new(MockClient)
	dlq := &memDLQ{}
	emptyIndex(mc, "db-review")

	// A validation error is permanent, so no retries are spent on it.
	mc.On("CreatePage", mock.Anything, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(nil, eris.New("notion: create page: validation_error")).Once()

	p := newTestPusher(mc, dlq)
	res, err := p.PushReviewPairs(context.Background(), []model.ReviewPair{
		reviewPair("pair-1", "Mertex Tekstil", "Mertex Textile"),
	})
	require.NoError(t, err)
	assert.Equal(t, PushResult{Failed: 1, DeadLettered: 1}, res)

	require.Len(t, dlq.entries, 1)
	entry := dlq.entries[0]
	assert.Equal(t, resilience.TargetNotion, entry.Target)
	assert.Equal(t, "pair-1", entry.EntityID)
	assert.Equal(t, "permanent", entry.ErrorType)

	var env dlqEnvelope
	require.NoError(t, json.Unmarshal(entry.Payload, &env))
	assert.Equal(t, dlqKindReview, env.Kind)
	require.NotNil(t, env.Pair)
	assert.Equal(t, "Mertex Tekstil", env.Pair.NameA)
	mc.AssertExpectations(t)
}

func TestPushReviewPairs_TransientRetriesThenParks(t *testing.T) {
	mc := new(MockClient)
	dlq := &memDLQ{}
	emptyIndex(mc, "db-review")

	transient := resilience.MarkTransient(eris.New("notion: create page: slow down"), 429)
	mc.On("CreatePage", mock.Anything, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(nil, transient).Times(3)

	p := newTestPusher(mc, dlq)
	res, err := p.PushReviewPairs(context.Background(), []model.ReviewPair{
		reviewPair("pair-1", "Mertex Tekstil", "Mertex Textile"),
	})
	require.NoError(t, err)
	assert.Equal(t, PushResult{Failed: 1, DeadLettered: 1}, res)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, "transient", dlq.entries[0].ErrorType)
	assert.False(t, dlq.entries[0].NextRetryAt.After(time.Now().UTC()),
		"fresh entries are due immediately")
	mc.AssertExpectations(t)
}

func TestPushReviewPairs_ContextCancelled(t *testing.T) {
	mc := new(MockClient)
	emptyIndex(mc, "db-review")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPusher(mc, &memDLQ{})
	_, err := p.PushReviewPairs(ctx, []model.ReviewPair{
		reviewPair("pair-1", "A", "B"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: push interrupted")
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
}

func TestPushGolden_CreatesNew(t *testing.T) {
	mc := new(MockClient)
	dlq := &memDLQ{}
	emptyIndex(mc, "db-golden")

	var created *notionapi.PageCreateRequest
	mc.On("CreatePage", mock.Anything, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*notionapi.PageCreateRequest)
		}).
		Return(&notionapi.Page{ID: "new-page"}, nil).Once()

	p := newTestPusher(mc, dlq)
	res, err := p.PushGolden(context.Background(), []model.CanonicalEntity{
		goldenEntity("ent-1", "Tinturaria Covilha"),
	})
	require.NoError(t, err)
	assert.Equal(t, PushResult{Pushed: 1}, res)

	require.NotNil(t, created)
	assert.Equal(t, notionapi.DatabaseID("db-golden"), created.Parent.DatabaseID)
	props := created.Properties
	assert.Equal(t, "Tinturaria Covilha", props["Name"].(notionapi.TitleProperty).Title[0].Text.Content)
	assert.Equal(t, "ent-1", props[keyProperty].(notionapi.RichTextProperty).RichText[0].Text.Content)
	assert.Equal(t, "A", props["Grade"].(notionapi.SelectProperty).Select.Name)
	assert.True(t, props["OEM Reference"].(notionapi.CheckboxProperty).Checkbox)
	assert.Equal(t, "https://covilha-dye.pt", props["Website"].(notionapi.URLProperty).URL)
	assert.Equal(t, "sales@covilha-dye.pt", props["Contact"].(notionapi.EmailProperty).Email)
	mc.AssertExpectations(t)
}

func TestPushGolden_UpdatesExisting(t *testing.T) {
	mc := new(MockClient)
	dlq := &memDLQ{}

	mc.On("QueryDatabase", mock.Anything, "db-golden", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{pageWithKey("page-9", "ent-1")},
		}, nil).Once()
	mc.On("UpdatePage", mock.Anything, "page-9", mock.AnythingOfType("*notionapi.PageUpdateRequest")).
		Return(&notionapi.Page{ID: "page-9"}, nil).Once()

	p := newTestPusher(mc, dlq)
	res, err := p.PushGolden(context.Background(), []model.CanonicalEntity{
		goldenEntity("ent-1", "Tinturaria Covilha"),
	})
	require.NoError(t, err)
	assert.Equal(t, PushResult{Pushed: 1}, res)
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
	mc.AssertExpectations(t)
}

func TestPushGolden_NotConfigured(t *testing.T) {
	mc := new(MockClient)
	p := NewPusher(mc, &memDLQ{}, "db-review", "")

	_, err := p.PushGolden(context.Background(), []model.CanonicalEntity{
		goldenEntity("ent-1", "Tinturaria Covilha"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "golden database not configured")
}

func TestRetryDLQ_ReplaysReviewCreate(t *testing.T) {
	mc := new(MockClient)
	dlq := &memDLQ{}

	pair := reviewPair("pair-1", "Mertex Tekstil", "Mertex Textile")
	payload, err := json.Marshal(dlqEnvelope{Kind: dlqKindReview, Pair: &pair})
	require.NoError(t, err)
	dlq.entries = append(dlq.entries, resilience.DLQEntry{
		ID:          "dlq-1",
		Target:      resilience.TargetNotion,
		EntityID:    pair.ID,
		Payload:     payload,
		MaxRetries:  5,
		NextRetryAt: time.Now().UTC().Add(-time.Minute),
	})

	// The keyed lookup finds nothing, so the replay creates the page.
	mc.On("QueryDatabase", mock.Anything, "db-review", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		if !ok {
			return false
		}
		return pf.Property == keyProperty && pf.RichText != nil && pf.RichText.Equals == "pair-1"
	})).Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
	mc.On("CreatePage", mock.Anything, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(&notionapi.Page{ID: "new-page"}, nil).Once()

	p := newTestPusher(mc, dlq)
	res, err := p.RetryDLQ(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Pushed: 1}, res)
	assert.Empty(t, dlq.entries, "replayed entries leave the queue")
	mc.AssertExpectations(t)
}

func TestRetryDLQ_ReplaysGoldenUpdate(t *testing.T) {
	mc := new(MockClient)
	dlq := &memDLQ{}

	entity := goldenEntity("ent-1", "Tinturaria Covilha")
	payload, err := json.Marshal(dlqEnvelope{Kind: dlqKindGolden, Entity: &entity})
	require.NoError(t, err)
	dlq.entries = append(dlq.entries, resilience.DLQEntry{
		ID:          "dlq-2",
		Target:      resilience.TargetNotion,
		EntityID:    entity.ID,
		Payload:     payload,
		MaxRetries:  5,
		NextRetryAt: time.Now().UTC().Add(-time.Minute),
	})

	mc.On("QueryDatabase", mock.Anything, "db-golden", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{pageWithKey("page-9", "ent-1")},
		}, nil).Once()
	mc.On("UpdatePage", mock.Anything, "page-9", mock.AnythingOfType("*notionapi.PageUpdateRequest")).
		Return(&notionapi.Page{ID: "page-9"}, nil).Once()

	p := newTestPusher(mc, dlq)
	res, err := p.RetryDLQ(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Pushed: 1}, res)
	assert.Empty(t, dlq.entries)
	mc.AssertExpectations(t)
}

func TestRetryDLQ_FailureBumpsRetry(t *testing.T) {
	mc := new(MockClient)
	dlq := &memDLQ{}

	pair := reviewPair("pair-1", "A", "B")
	payload, err := json.Marshal(dlqEnvelope{Kind: dlqKindReview, Pair: &pair})
	require.NoError(t, err)
	dlq.entries = append(dlq.entries, resilience.DLQEntry{
		ID:          "dlq-3",
		Target:      resilience.TargetNotion,
		EntityID:    pair.ID,
		Payload:     payload,
		MaxRetries:  5,
		NextRetryAt: time.Now().UTC().Add(-time.Minute),
	})

	mc.On("QueryDatabase", mock.Anything, "db-review", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(nil, assert.AnError).Once()

	p := newTestPusher(mc, dlq)
	res, err := p.RetryDLQ(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Failed: 1}, res)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, 1, dlq.entries[0].RetryCount)
	assert.True(t, dlq.entries[0].NextRetryAt.After(time.Now().Add(4*time.Minute)),
		"failed replay backs off before the next attempt")
}

func TestRetryDLQ_BadPayloadAgesOut(t *testing.T) {
	mc := new(MockClient)
	dlq := &memDLQ{}
	dlq.entries = append(dlq.entries, resilience.DLQEntry{
		ID:          "dlq-4",
		Target:      resilience.TargetNotion,
		Payload:     []byte("{not json"),
		MaxRetries:  5,
		NextRetryAt: time.Now().UTC().Add(-time.Minute),
	})

	p := newTestPusher(mc, dlq)
	res, err := p.RetryDLQ(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Failed: 1}, res)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, 1, dlq.entries[0].RetryCount)
	mc.AssertNotCalled(t, "QueryDatabase", mock.Anything, mock.Anything, mock.Anything)
}

func TestRetryDLQ_UnknownKind(t *testing.T) {
	mc := new(MockClient)
	dlq := &memDLQ{}
	payload, err := json.Marshal(dlqEnvelope{Kind: "bogus"})
	require.NoError(t, err)
	dlq.entries = append(dlq.entries, resilience.DLQEntry{
		ID:          "dlq-5",
		Target:      resilience.TargetNotion,
		Payload:     payload,
		MaxRetries:  5,
		NextRetryAt: time.Now().UTC().Add(-time.Minute),
	})

	p := newTestPusher(mc, dlq)
	res, err := p.RetryDLQ(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Failed: 1}, res)
	assert.Contains(t, dlq.entries[0].Error, "unknown dlq kind")
}

func TestReviewProperties_Sparse(t *testing.T) {
	pair := model.ReviewPair{
		ID:         "pair-9",
		NameA:      "A",
		NameB:      "B",
		Similarity: 0.7,
	}
	props := reviewProperties(pair)

	assert.Contains(t, props, "Name")
	assert.Contains(t, props, keyProperty)
	assert.Contains(t, props, "Similarity")
	assert.Contains(t, props, "Status")
	assert.NotContains(t, props, "Run")
	assert.NotContains(t, props, "Country")
	assert.NotContains(t, props, "Suggestion")
}

func TestGoldenProperties_Sparse(t *testing.T) {
	e := model.CanonicalEntity{
		ID:            "ent-9",
		CanonicalName: "Bare Mill",
		Quality:       model.GradeB,
		Score:         0.55,
		CapacityBand:  model.CapacityUnknown,
	}
	props := goldenProperties(e)

	assert.Contains(t, props, "Name")
	assert.Contains(t, props, keyProperty)
	assert.Contains(t, props, "Score")
	assert.Contains(t, props, "Grade")
	assert.Contains(t, props, "OEM Reference")
	assert.NotContains(t, props, "Country")
	assert.NotContains(t, props, "Website")
	assert.NotContains(t, props, "Contact")
	assert.NotContains(t, props, "Capacity", "unknown capacity stays off the page")
	assert.NotContains(t, props, "Why")
	assert.NotContains(t, props, "Evidence")
}

func TestGoldenProperties_Evidence(t *testing.T) {
	e := goldenEntity("ent-1", "Tinturaria Covilha")
	props := goldenProperties(e)

	why := props["Why"].(notionapi.RichTextProperty)
	assert.Equal(t, "tingimento, acabamento", why.RichText[0].Text.Content)
	evidence := props["Evidence"].(notionapi.RichTextProperty)
	assert.Equal(t, "https://covilha-dye.pt/services\nhttps://oem.example.com/suppliers",
		evidence.RichText[0].Text.Content)
	capacity := props["Capacity"].(notionapi.SelectProperty)
	assert.Equal(t, "mid", capacity.Select.Name)
}

func TestEvidenceLinks_DedupAndCap(t *testing.T) {
	e := model.CanonicalEntity{
		Evidence: []model.EvidenceItem{
			{URL: "https://a.example"},
			{URL: "https://a.example"},
			{URL: ""},
			{URL: "https://b.example"},
			{URL: "https://c.example"},
			{URL: "https://d.example"},
		},
	}
	links := evidenceLinks(e, 3)
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, links)
}

func TestPageKey(t *testing.T) {
	assert.Equal(t, "ent-1", pageKey(pageWithKey("p1", "ent-1")))
	assert.Empty(t, pageKey(notionapi.Page{ID: "p2"}), "missing property")

	wrongType := notionapi.Page{
		ID: "p3",
		Properties: notionapi.Properties{
			keyProperty: &notionapi.TitleProperty{},
		},
	}
	assert.Empty(t, pageKey(wrongType), "non-rich-text property")
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://mill.example.com", normalizeURL("mill.example.com"))
	assert.Equal(t, "http://mill.example.com", normalizeURL("http://mill.example.com"))
	assert.Equal(t, "https://mill.example.com", normalizeURL("  mill.example.com "))
	assert.Empty(t, normalizeURL("   "))
}
