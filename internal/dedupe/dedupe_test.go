package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/millscout-cli/internal/config"
	"github.com/sells-group/millscout-cli/internal/model"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(config.PipelineConfig{
		BlockKeyPrefixLength:     6,
		MergeSimilarityThreshold: 0.80,
		EditSimilarityThreshold:  0.85,
		GreyBandLow:              0.60,
		GreyBandHigh:             0.80,
		Matcher:                  "best",
	})
	require.NoError(t, err)
	return eng
}

func qlead(id, name, key, country, website string, grade model.Grade) model.QualifiedEntity {
	return model.QualifiedEntity{
		GatedEntity: model.GatedEntity{
			RawLead: model.RawLead{
				ID:          id,
				RawName:     name,
				SourceType:  model.SourceSearchResult,
				Country:     country,
				Website:     website,
				EvidenceURL: "https://evidence.example/" + id,
				FetchedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			},
			Quality:       grade,
			NormalizedKey: key,
			DisplayName:   name,
		},
		IsCustomerCandidate: true,
	}
}

func TestCluster_WebsiteDomainMerge(t *testing.T) {
	// The second mention has no country at all; the shared website
	// domain still merges it.
	leads := []model.QualifiedEntity{
		qlead("r1", "Acme Finishing", "acme finishing", "Turkey", "https://acmefinishing.com", model.GradeA),
		qlead("r2", "ACME Finishing Co.", "acme finishing", "", "https://www.acmefinishing.com/en/about", model.GradeB),
	}

	res := testEngine(t).Cluster(leads, nil)

	require.Len(t, res.Entities, 1)
	ent := res.Entities[0]
	assert.Equal(t, []string{"r1", "r2"}, ent.MemberRawIDs)
	assert.Equal(t, "Acme Finishing", ent.CanonicalName)
	assert.Equal(t, "Turkey", ent.Country)
	assert.Equal(t, model.GradeA, ent.Quality)
	assert.Equal(t, model.EntityID("acme finishing", "Turkey"), ent.ID)
	assert.False(t, ent.LowBlockingConfidence)

	require.Len(t, ent.MergeAudit, 1)
	assert.Equal(t, model.MergeReasonWebsiteDomain, ent.MergeAudit[0].Reason)
	assert.Equal(t, "r1", ent.MergeAudit[0].RawIDA)
	assert.Equal(t, "r2", ent.MergeAudit[0].RawIDB)
	assert.InDelta(t, 1.0, ent.MergeAudit[0].Similarity, 1e-9)
	assert.Empty(t, res.Review)
}

func TestCluster_NameSimilarityMerge(t *testing.T) {
	leads := []model.QualifiedEntity{
		qlead("r1", "Vicunha Têxtil", "vicunha", "Brazil", "", model.GradeB),
		qlead("r2", "VICUNHA TEXTIL SA", "vicunha", "Brasil", "", model.GradeB),
	}

	res := testEngine(t).Cluster(leads, nil)

	require.Len(t, res.Entities, 1)
	ent := res.Entities[0]
	assert.Equal(t, model.EntityID("vicunha", "Brazil"), ent.ID)
	assert.Equal(t, "Brazil", ent.Country)
	assert.Equal(t, []string{"r1", "r2"}, ent.MemberRawIDs)

	require.Len(t, ent.MergeAudit, 1)
	assert.Equal(t, model.MergeReasonNameSimilarity, ent.MergeAudit[0].Reason)
	assert.InDelta(t, 1.0, ent.MergeAudit[0].Similarity, 1e-9)
}

func TestCluster_DifferentCountriesStaySeparate(t *testing.T) {
	// Same name, two known countries. Country partitions the name
	// blocks, so the pair is never even compared.
	leads := []model.QualifiedEntity{
		qlead("r1", "Mertex Dyeing", "mertex dyeing", "Turkey", "", model.GradeB),
		qlead("r2", "Mertex Dyeing", "mertex dyeing", "India", "", model.GradeB),
	}

	res := testEngine(t).Cluster(leads, nil)

	assert.Len(t, res.Entities, 2)
	assert.Empty(t, res.Review)
	for _, ent := range res.Entities {
		assert.Empty(t, ent.MergeAudit)
	}
}

func TestCluster_GreyBandGoesToReview(t *testing.T) {
	// Best similarity lands between the grey floor and the merge
	// threshold: both entities survive and the pair is queued.
	leads := []model.QualifiedEntity{
		qlead("r1", "Mertex Dyeing Works", "mertex dyeing works", "Turkey", "", model.GradeB),
		qlead("r2", "Mertex Dyeing", "mertex dyeing", "Turkey", "", model.GradeC),
	}

	res := testEngine(t).Cluster(leads, nil)

	require.Len(t, res.Entities, 2)
	for _, ent := range res.Entities {
		assert.Empty(t, ent.MergeAudit)
	}

	require.Len(t, res.Review, 1)
	rp := res.Review[0]
	assert.Equal(t, model.ReviewPending, rp.Status)
	assert.Equal(t, "Turkey", rp.Country)
	assert.InDelta(t, 0.684, rp.Similarity, 0.01)
	assert.Less(t, rp.EntityIDA, rp.EntityIDB)
	assert.Equal(t, PairKey(rp.EntityIDA, rp.EntityIDB), rp.ID)
	assert.NotEmpty(t, rp.NameA)
	assert.NotEmpty(t, rp.NameB)
}

func TestCluster_CountrylessPairGoesToReview(t *testing.T) {
	// No website and no country on either side: identical keys are
	// not enough to merge, but the pair is queued and both entities
	// carry the low-confidence marker with distinct identifiers.
	leads := []model.QualifiedEntity{
		qlead("r1", "Ozkan Boya", "ozkan boya", "", "", model.GradeB),
		qlead("r2", "Ozkan Boya Ltd.", "ozkan boya", "", "", model.GradeB),
	}

	res := testEngine(t).Cluster(leads, nil)

	require.Len(t, res.Entities, 2)
	assert.NotEqual(t, res.Entities[0].ID, res.Entities[1].ID)
	for _, ent := range res.Entities {
		assert.True(t, ent.LowBlockingConfidence)
	}

	require.Len(t, res.Review, 1)
	assert.InDelta(t, 1.0, res.Review[0].Similarity, 1e-9)
	assert.Equal(t, "", res.Review[0].Country)
}

func TestCluster_TransitiveClosure(t *testing.T) {
	// r1 joins r2 on domain, r2 joins r3 on name. r1 and r3 are never
	// compared directly yet end up in one cluster.
	leads := []model.QualifiedEntity{
		qlead("r1", "Derya Finishing", "derya finishing", "", "https://deryafin.com/tr", model.GradeC),
		qlead("r2", "Derya Finishing A.S.", "derya finishing", "Turkey", "deryafin.com", model.GradeB),
		qlead("r3", "Derya Finishing Mills", "derya finishing", "Turkey", "", model.GradeC),
	}

	res := testEngine(t).Cluster(leads, nil)

	require.Len(t, res.Entities, 1)
	ent := res.Entities[0]
	assert.Equal(t, []string{"r1", "r2", "r3"}, ent.MemberRawIDs)
	assert.Equal(t, "Derya Finishing A.S.", ent.CanonicalName)
	assert.Equal(t, "Turkey", ent.Country)
	assert.False(t, ent.LowBlockingConfidence)

	require.Len(t, ent.MergeAudit, 2)
	reasons := []string{ent.MergeAudit[0].Reason, ent.MergeAudit[1].Reason}
	assert.ElementsMatch(t, []string{model.MergeReasonWebsiteDomain, model.MergeReasonNameSimilarity}, reasons)
}

func TestCluster_CanonicalSelection(t *testing.T) {
	t.Run("grade beats name length", func(t *testing.T) {
		leads := []model.QualifiedEntity{
			qlead("r1", "Anatolia Textile Finishing Industries", "anatolia textile finishing", "Turkey", "anatex.com", model.GradeB),
			qlead("r2", "Anatex", "anatex", "Turkey", "anatex.com", model.GradeA),
		}

		res := testEngine(t).Cluster(leads, nil)

		require.Len(t, res.Entities, 1)
		assert.Equal(t, "Anatex", res.Entities[0].CanonicalName)
		assert.Equal(t, model.GradeA, res.Entities[0].Quality)
	})

	t.Run("longest name then earliest fetch", func(t *testing.T) {
		a := qlead("r1", "Anatex Mills", "anatex", "Turkey", "anatex.com", model.GradeB)
		b := qlead("r2", "Anatex Works", "anatex", "Turkey", "anatex.com", model.GradeB)
		c := qlead("r3", "Anatex", "anatex", "Turkey", "anatex.com", model.GradeB)
		a.FetchedAt = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
		b.FetchedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

		res := testEngine(t).Cluster([]model.QualifiedEntity{a, b, c}, nil)

		require.Len(t, res.Entities, 1)
		assert.Equal(t, "Anatex Works", res.Entities[0].CanonicalName)
	})
}

func TestCluster_Idempotent(t *testing.T) {
	leads := []model.QualifiedEntity{
		qlead("a1", "Acme Finishing", "acme finishing", "Turkey", "https://acmefinishing.com", model.GradeA),
		qlead("a2", "ACME Finishing Co.", "acme finishing", "", "https://www.acmefinishing.com/en", model.GradeB),
		qlead("v1", "Vicunha Têxtil", "vicunha", "Brazil", "", model.GradeB),
		qlead("v2", "VICUNHA TEXTIL SA", "vicunha", "Brasil", "", model.GradeB),
		qlead("s1", "Standalone Mill", "standalone mill", "Egypt", "", model.GradeC),
	}
	eng := testEngine(t)

	ids := func(r Result) []string {
		out := make([]string, len(r.Entities))
		for i, e := range r.Entities {
			out[i] = e.ID
		}
		return out
	}
	counts := func(r Result) map[string]int {
		out := make(map[string]int, len(r.Entities))
		for _, e := range r.Entities {
			out[e.ID] = len(e.MemberRawIDs)
		}
		return out
	}

	first := eng.Cluster(leads, nil)
	second := eng.Cluster(leads, nil)
	require.Len(t, first.Entities, 3)
	assert.Equal(t, ids(first), ids(second))
	assert.Equal(t, counts(first), counts(second))

	shuffled := []model.QualifiedEntity{leads[4], leads[2], leads[0], leads[3], leads[1]}
	third := eng.Cluster(shuffled, nil)
	assert.Equal(t, ids(first), ids(third))
	assert.Equal(t, counts(first), counts(third))
}

func TestCluster_ReviewOverrides(t *testing.T) {
	leads := []model.QualifiedEntity{
		qlead("r1", "Ozkan Boya", "ozkan boya", "", "", model.GradeB),
		qlead("r2", "Ozkan Boya Ltd.", "ozkan boya", "", "", model.GradeB),
	}
	eng := testEngine(t)

	first := eng.Cluster(leads, nil)
	require.Len(t, first.Review, 1)
	pairID := first.Review[0].ID

	t.Run("merge adjudication joins the clusters", func(t *testing.T) {
		res := eng.Cluster(leads, map[string]bool{pairID: true})

		require.Len(t, res.Entities, 1)
		ent := res.Entities[0]
		assert.Equal(t, []string{"r1", "r2"}, ent.MemberRawIDs)
		assert.Equal(t, model.EntityID("ozkan boya", ""), ent.ID)
		require.Len(t, ent.MergeAudit, 1)
		assert.Equal(t, model.MergeReasonReviewMerge, ent.MergeAudit[0].Reason)
		assert.ElementsMatch(t, []string{"r1", "r2"},
			[]string{ent.MergeAudit[0].RawIDA, ent.MergeAudit[0].RawIDB})
		assert.Empty(t, res.Review)
	})

	t.Run("keep-separate adjudication suppresses re-review", func(t *testing.T) {
		res := eng.Cluster(leads, map[string]bool{pairID: false})

		assert.Len(t, res.Entities, 2)
		assert.Empty(t, res.Review)
	})

	t.Run("unknown pair keys are ignored", func(t *testing.T) {
		res := eng.Cluster(leads, map[string]bool{"bogus": true, "x:y": true})

		assert.Len(t, res.Entities, 2)
		require.Len(t, res.Review, 1)
		assert.Equal(t, pairID, res.Review[0].ID)
	})
}

func TestCluster_BestEmailSelection(t *testing.T) {
	a := qlead("r1", "Anatex", "anatex", "Turkey", "anatex.com", model.GradeB)
	b := qlead("r2", "Anatex Mills", "anatex", "Turkey", "anatex.com", model.GradeB)
	c := qlead("r3", "Anatex Works", "anatex", "Turkey", "anatex.com", model.GradeB)
	a.Email = "info@anatex.com"
	b.Email = "ahmet.yilmaz@anatex.com"
	c.Email = "noreply@anatex.com"

	res := testEngine(t).Cluster([]model.QualifiedEntity{a, b, c}, nil)

	require.Len(t, res.Entities, 1)
	assert.Equal(t, "ahmet.yilmaz@anatex.com", res.Entities[0].ContactEmail)
}

func TestEmailRank(t *testing.T) {
	cases := []struct {
		better, worse string
	}{
		{"ayse_kaya@mill.com", "sales@mill.com"},
		{"sales@mill.com", "info@mill.com"},
		{"info@mill.com", "contact@mill.com"},
		{"contact@mill.com", "noreply@mill.com"},
		{"export@mill.com", "admin@mill.com"},
	}
	for _, tc := range cases {
		assert.Less(t, emailRank(tc.better), emailRank(tc.worse),
			"%s should outrank %s", tc.better, tc.worse)
	}
	assert.Equal(t, 5, emailRank("not-an-email"))
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, "a:b", PairKey("a", "b"))
	assert.Equal(t, "a:b", PairKey("b", "a"))

	a, b, ok := splitPairKey("a:b")
	require.True(t, ok)
	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)

	_, _, ok = splitPairKey("nodelimiter")
	assert.False(t, ok)
	_, _, ok = splitPairKey(":b")
	assert.False(t, ok)
}

func TestNew_UnknownMatcher(t *testing.T) {
	_, err := New(config.PipelineConfig{Matcher: "soundex"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown matcher")
}

func TestTokenSetMatcher(t *testing.T) {
	m := TokenSetMatcher{}
	assert.InDelta(t, 1.0, m.Similarity("ozkan boya", "ozkan boya"), 1e-9)
	assert.InDelta(t, 2.0/3.0, m.Similarity("mertex dyeing works", "mertex dyeing"), 1e-9)
	assert.Zero(t, m.Similarity("alpha", "beta"))
	assert.Zero(t, m.Similarity("", "beta"))
}

func TestEditDistanceMatcher(t *testing.T) {
	m := EditDistanceMatcher{}
	assert.InDelta(t, 1.0, m.Similarity("vicunha", "vicunha"), 1e-9)
	assert.InDelta(t, 6.0/7.0, m.Similarity("vicunha", "vicunho"), 1e-9)
	assert.Zero(t, m.Similarity("", "x"))
}
