// Package dedupe clusters qualified leads that denote the same real
// company. Blocking bounds comparison cost, pairwise similarity decides
// merges, and union-find closes clusters transitively. Ambiguous pairs
// land in a review queue instead of being merged or dropped.
package dedupe

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/config"
	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/normalize"
)

// Engine runs one clustering pass. Construct once per run and share; it
// is immutable.
type Engine struct {
	cfg      config.PipelineConfig
	matchers []thresholdMatcher
}

// New builds an Engine. Fails on an unknown matcher selection.
func New(cfg config.PipelineConfig) (*Engine, error) {
	matchers, err := matchersFor(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.BlockKeyPrefixLength <= 0 {
		cfg.BlockKeyPrefixLength = 6
	}
	return &Engine{cfg: cfg, matchers: matchers}, nil
}

// Result is the outcome of one clustering pass.
type Result struct {
	Entities []model.CanonicalEntity
	Review   []model.ReviewPair
}

// member is one qualified lead prepared for comparison.
type member struct {
	idx         int
	lead        model.QualifiedEntity
	domain      string
	country     string // folded, "" when unknown
	countryName string // display form
	lowConf     bool
}

// auditEntry is a pairwise merge decision before cluster assignment.
type auditEntry struct {
	i, j   int
	reason string
	score  float64
}

// greyPair is an ambiguous pair held for review.
type greyPair struct {
	i, j  int
	score float64
}

// PairKey is the stable identity of an unordered entity pair.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

func splitPairKey(k string) (string, string, bool) {
	a, b, ok := strings.Cut(k, ":")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// Cluster groups qualified leads into canonical entities. overrides
// carries prior human adjudications keyed by PairKey: true merges the
// pair, false suppresses its re-review. Output is deterministic for a
// given input set and configuration.
func (e *Engine) Cluster(qualified []model.QualifiedEntity, overrides map[string]bool) Result {
	log := zap.L().With(zap.String("component", "dedupe"))

	members := e.prepare(qualified)
	blocks := e.block(members)

	uf := newUnionFind(len(members))
	var audits []auditEntry
	var greys []greyPair
	compared := make(map[[2]int]struct{})

	blockKeys := make([]string, 0, len(blocks))
	for k := range blocks {
		blockKeys = append(blockKeys, k)
	}
	sort.Strings(blockKeys)

	comparisons := 0
	for _, bk := range blockKeys {
		idxs := blocks[bk]
		for x := 0; x < len(idxs); x++ {
			for y := x + 1; y < len(idxs); y++ {
				i, j := idxs[x], idxs[y]
				if i > j {
					i, j = j, i
				}
				if _, done := compared[[2]int{i, j}]; done {
					continue
				}
				compared[[2]int{i, j}] = struct{}{}
				comparisons++
				e.decide(members[i], members[j], uf, &audits, &greys)
			}
		}
	}

	e.applyOverrides(members, uf, overrides, &audits)

	entities, rootEntity := e.entitiesOf(members, uf)

	for _, a := range audits {
		ent := &entities[rootEntity[uf.find(a.i)]]
		ent.MergeAudit = append(ent.MergeAudit, model.MergeAudit{
			RawIDA:     members[a.i].lead.ID,
			RawIDB:     members[a.j].lead.ID,
			Reason:     a.reason,
			Similarity: a.score,
		})
	}

	reviewList := e.reviewPairs(greys, members, uf, entities, rootEntity, overrides)

	sort.Slice(entities, func(i, j int) bool {
		if entities[i].NormalizedKey != entities[j].NormalizedKey {
			return entities[i].NormalizedKey < entities[j].NormalizedKey
		}
		if entities[i].Country != entities[j].Country {
			return entities[i].Country < entities[j].Country
		}
		return entities[i].ID < entities[j].ID
	})

	log.Info("clustering complete",
		zap.Int("leads", len(members)),
		zap.Int("blocks", len(blocks)),
		zap.Int("comparisons", comparisons),
		zap.Int("entities", len(entities)),
		zap.Int("review_pairs", len(reviewList)),
	)

	return Result{Entities: entities, Review: reviewList}
}

func (e *Engine) prepare(qualified []model.QualifiedEntity) []*member {
	members := make([]*member, len(qualified))
	for i, q := range qualified {
		countryName := normalize.CountryName(q.Country)
		m := &member{
			idx:         i,
			lead:        q,
			domain:      normalize.Domain(q.Website),
			country:     normalize.Fold(countryName),
			countryName: countryName,
		}
		m.lowConf = m.domain == "" && m.country == ""
		members[i] = m
	}
	return members
}

// block assigns each member the union of its block keys: the website
// domain when known, plus the (country, key-prefix) name block. Members
// with neither website nor country share prefix-only blocks.
func (e *Engine) block(members []*member) map[string][]int {
	blocks := make(map[string][]int)
	for _, m := range members {
		if m.domain != "" {
			k := "d|" + m.domain
			blocks[k] = append(blocks[k], m.idx)
		}
		k := "n|" + m.country + "|" + keyPrefix(m.lead.NormalizedKey, e.cfg.BlockKeyPrefixLength)
		blocks[k] = append(blocks[k], m.idx)
	}
	return blocks
}

func keyPrefix(key string, n int) string {
	runes := []rune(key)
	if len(runes) <= n {
		return key
	}
	return string(runes[:n])
}

// decide applies the merge rules to one candidate pair. Website-domain
// equality merges outright. Name similarity merges only with a
// confirmed shared country; without one, even an above-threshold score
// goes to review. Grey-band scores go to review, never silently merged
// or dropped.
func (e *Engine) decide(a, b *member, uf *unionFind, audits *[]auditEntry, greys *[]greyPair) {
	if a.domain != "" && a.domain == b.domain {
		uf.union(a.idx, b.idx)
		*audits = append(*audits, auditEntry{a.idx, b.idx, model.MergeReasonWebsiteDomain, 1.0})
		return
	}

	// Different known countries never merge, whatever the name says.
	if a.country != "" && b.country != "" && a.country != b.country {
		return
	}

	best, passScore := 0.0, 0.0
	passed := false
	for _, tm := range e.matchers {
		s := tm.m.Similarity(a.lead.NormalizedKey, b.lead.NormalizedKey)
		if s > best {
			best = s
		}
		if !passed && s >= tm.threshold {
			passed, passScore = true, s
		}
	}

	countryConfirmed := a.country != "" && a.country == b.country
	switch {
	case passed && countryConfirmed:
		uf.union(a.idx, b.idx)
		*audits = append(*audits, auditEntry{a.idx, b.idx, model.MergeReasonNameSimilarity, passScore})
	case passed:
		*greys = append(*greys, greyPair{a.idx, b.idx, best})
	case countryConfirmed && best >= e.cfg.GreyBandLow && best < e.cfg.GreyBandHigh:
		*greys = append(*greys, greyPair{a.idx, b.idx, best})
	case !countryConfirmed && best >= e.cfg.GreyBandLow:
		*greys = append(*greys, greyPair{a.idx, b.idx, best})
	}
}

// applyOverrides merges clusters whose pair a human already adjudicated
// as the same company. Pairs resolved as separate are left alone here
// and suppressed in reviewPairs.
func (e *Engine) applyOverrides(members []*member, uf *unionFind, overrides map[string]bool, audits *[]auditEntry) {
	if len(overrides) == 0 {
		return
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entities, rootEntity := e.entitiesOf(members, uf)
	entityRoot := make(map[string]int, len(entities))
	for root, i := range rootEntity {
		entityRoot[entities[i].ID] = root
	}

	for _, k := range keys {
		if !overrides[k] {
			continue
		}
		idA, idB, ok := splitPairKey(k)
		if !ok {
			continue
		}
		ra, okA := entityRoot[idA]
		rb, okB := entityRoot[idB]
		if !okA || !okB || uf.find(ra) == uf.find(rb) {
			continue
		}
		uf.union(ra, rb)
		*audits = append(*audits, auditEntry{ra, rb, model.MergeReasonReviewMerge, 1.0})
	}
}

// entitiesOf materializes the current clusters. The returned map goes
// from union-find root to index in the entity slice.
func (e *Engine) entitiesOf(members []*member, uf *unionFind) ([]model.CanonicalEntity, map[int]int) {
	clusters := clustersOf(members, uf)
	roots := make([]int, 0, len(clusters))
	for root := range clusters {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	entities := make([]model.CanonicalEntity, 0, len(clusters))
	rootEntity := make(map[int]int, len(clusters))
	for _, root := range roots {
		rootEntity[root] = len(entities)
		entities = append(entities, e.buildEntity(clusters[root]))
	}
	disambiguate(entities)
	return entities, rootEntity
}

// disambiguate rewrites the stable ID of clusters that share a
// normalized key and country yet stayed separate, which happens when
// countries are unknown or domains differ. The website domain breaks
// the tie, then the smallest member raw ID. Non-colliding entities keep
// the plain key+country derivation.
func disambiguate(entities []model.CanonicalEntity) {
	byID := make(map[string][]int, len(entities))
	for i := range entities {
		byID[entities[i].ID] = append(byID[entities[i].ID], i)
	}
	for _, idxs := range byID {
		if len(idxs) < 2 {
			continue
		}
		for _, i := range idxs {
			ent := &entities[i]
			tag := normalize.Domain(ent.Website)
			if tag == "" {
				tag = minString(ent.MemberRawIDs)
			}
			ent.ID = model.EntityID(ent.NormalizedKey+"|"+tag, ent.Country)
		}
	}
}

func minString(vals []string) string {
	min := ""
	for i, v := range vals {
		if i == 0 || v < min {
			min = v
		}
	}
	return min
}

func clustersOf(members []*member, uf *unionFind) map[int][]*member {
	out := make(map[int][]*member)
	for _, m := range members {
		root := uf.find(m.idx)
		out[root] = append(out[root], m)
	}
	return out
}

// buildEntity merges one cluster into its canonical record. The
// canonical member is the highest-grade member; ties go to the longest
// display name, then the earliest fetch.
func (e *Engine) buildEntity(cluster []*member) model.CanonicalEntity {
	canon := pickCanonical(cluster)

	ent := model.CanonicalEntity{
		CanonicalName: canon.lead.DisplayName,
		NormalizedKey: canon.lead.NormalizedKey,
		Quality:       canon.lead.Quality,
		Country:       canon.countryName,
		Website:       canon.lead.Website,
	}

	keywords := make(map[string]struct{})
	for _, m := range cluster {
		ent.MemberRawIDs = append(ent.MemberRawIDs, m.lead.ID)
		if m.lead.NegativeSignal {
			ent.NegativeSignal = true
		}
		if m.lowConf {
			ent.LowBlockingConfidence = true
		}
		for _, kw := range m.lead.MatchedKeywords {
			keywords[kw] = struct{}{}
		}
		if ent.Country == "" && m.countryName != "" {
			ent.Country = m.countryName
		}
		if ent.Website == "" && m.lead.Website != "" {
			ent.Website = m.lead.Website
		}
		if m.lead.Email != "" {
			if ent.ContactEmail == "" || emailRank(m.lead.Email) < emailRank(ent.ContactEmail) {
				ent.ContactEmail = m.lead.Email
			}
		}
	}
	if len(keywords) > 0 {
		ent.MatchedKeywords = make([]string, 0, len(keywords))
		for kw := range keywords {
			ent.MatchedKeywords = append(ent.MatchedKeywords, kw)
		}
		sort.Strings(ent.MatchedKeywords)
	}

	ent.ID = model.EntityID(ent.NormalizedKey, ent.Country)
	return ent
}

func pickCanonical(cluster []*member) *member {
	best := cluster[0]
	for _, m := range cluster[1:] {
		if preferCanonical(m, best) {
			best = m
		}
	}
	return best
}

func preferCanonical(a, b *member) bool {
	if ar, br := a.lead.Quality.Rank(), b.lead.Quality.Rank(); ar != br {
		return ar > br
	}
	if an, bn := len(a.lead.DisplayName), len(b.lead.DisplayName); an != bn {
		return an > bn
	}
	if !a.lead.FetchedAt.Equal(b.lead.FetchedAt) {
		return a.lead.FetchedAt.Before(b.lead.FetchedAt)
	}
	return a.lead.ID < b.lead.ID
}

// reviewPairs turns surviving grey pairs into review records. Pairs
// that merged transitively anyway and pairs already adjudicated are
// dropped; duplicate cluster pairs keep their highest score.
func (e *Engine) reviewPairs(greys []greyPair, members []*member, uf *unionFind, entities []model.CanonicalEntity, rootEntity map[int]int, overrides map[string]bool) []model.ReviewPair {
	review := make(map[string]model.ReviewPair)
	for _, gp := range greys {
		ri, rj := uf.find(gp.i), uf.find(gp.j)
		if ri == rj {
			continue
		}
		ea := entities[rootEntity[ri]]
		eb := entities[rootEntity[rj]]
		key := PairKey(ea.ID, eb.ID)
		if _, adjudicated := overrides[key]; adjudicated {
			continue
		}
		if prev, ok := review[key]; ok && prev.Similarity >= gp.score {
			continue
		}
		if eb.ID < ea.ID {
			ea, eb = eb, ea
		}
		review[key] = model.ReviewPair{
			ID:         key,
			EntityIDA:  ea.ID,
			EntityIDB:  eb.ID,
			NameA:      ea.CanonicalName,
			NameB:      eb.CanonicalName,
			Country:    firstNonEmpty(ea.Country, eb.Country),
			Similarity: gp.score,
			Status:     model.ReviewPending,
		}
	}

	out := make([]model.ReviewPair, 0, len(review))
	for _, rp := range review {
		out = append(out, rp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var departmentLocals = map[string]bool{
	"sales":     true,
	"export":    true,
	"satis":     true,
	"marketing": true,
}

var genericLocals = map[string]bool{
	"noreply":    true,
	"no-reply":   true,
	"admin":      true,
	"webmaster":  true,
	"postmaster": true,
}

// emailRank orders cluster emails for contact selection: a personal
// address beats a department inbox, which beats info@, which beats a
// no-reply style address. Lower is better; first member wins ties.
func emailRank(email string) int {
	local, _, ok := strings.Cut(strings.ToLower(email), "@")
	if !ok || local == "" {
		return 5
	}
	switch {
	case genericLocals[local]:
		return 4
	case local == "info":
		return 2
	case departmentLocals[local]:
		return 1
	case strings.ContainsAny(local, "._"):
		return 0
	default:
		return 3
	}
}
