// Package qualify decides whether a gated entity is a plausible
// finishing-mill customer. Positive terms mark machinery, processes, and
// equipment brands; negative terms mark traders, retail brands, machine
// builders, and media. A negative hit is an absolute veto.
package qualify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/normalize"
	"github.com/sells-group/millscout-cli/internal/vocab"
)

// shortTermLen is the longest term that still requires word-boundary
// matching. "gots" inside "ingots" must not count; "sanfor" inside
// "sanforizing" should.
const shortTermLen = 4

// term is one compiled vocabulary entry. Short single words carry a
// boundary regexp; everything else matches by substring.
type term struct {
	text string
	re   *regexp.Regexp
}

func (t term) match(text string) bool {
	if t.re != nil {
		return t.re.MatchString(text)
	}
	return strings.Contains(text, t.text)
}

// Matcher matches a fixed term set against text. Terms and input are
// both diacritic-folded, so "ramöz" and "ramoz" hit the same entry.
type Matcher struct {
	terms []term
}

// NewMatcher compiles a term list. Terms are folded, deduplicated, and
// sorted so match output is deterministic.
func NewMatcher(raw []string) *Matcher {
	seen := make(map[string]struct{}, len(raw))
	folded := make([]string, 0, len(raw))
	for _, t := range raw {
		f := normalize.Fold(t)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		folded = append(folded, f)
	}
	sort.Strings(folded)

	m := &Matcher{terms: make([]term, 0, len(folded))}
	for _, f := range folded {
		t := term{text: f}
		if len(f) <= shortTermLen && !strings.Contains(f, " ") {
			t.re = regexp.MustCompile(`\b` + regexp.QuoteMeta(f) + `\b`)
		}
		m.terms = append(m.terms, t)
	}
	return m
}

// FindAll returns every term matching the text, in sorted term order.
func (m *Matcher) FindAll(text string) []string {
	text = normalize.Fold(text)
	var hits []string
	for _, t := range m.terms {
		if t.match(text) {
			hits = append(hits, t.text)
		}
	}
	return hits
}

// Match reports whether any term matches the text.
func (m *Matcher) Match(text string) bool {
	text = normalize.Fold(text)
	for _, t := range m.terms {
		if t.match(text) {
			return true
		}
	}
	return false
}

// Qualifier annotates gated entities with customer plausibility.
// Construct once per run and share; it is immutable.
type Qualifier struct {
	positive *Matcher
	negative *Matcher
}

// New builds a Qualifier from the vocabulary. OEM brands count as
// positive equipment signals.
func New(v *vocab.Vocabulary) *Qualifier {
	return &Qualifier{
		positive: NewMatcher(v.PositiveTerms()),
		negative: NewMatcher(v.Negative),
	}
}

// Qualify classifies one gated entity. The searchable text is the raw
// name plus the evidence snippet. Matched positive terms are recorded
// even under a veto, for review and scoring use; the veto only forces
// is_customer_candidate to false.
func (q *Qualifier) Qualify(g model.GatedEntity) model.QualifiedEntity {
	text := g.RawName
	if g.EvidenceSnippet != "" {
		text += " " + g.EvidenceSnippet
	}

	out := model.QualifiedEntity{GatedEntity: g}
	out.MatchedKeywords = q.positive.FindAll(text)
	out.NegativeSignal = q.negative.Match(text)
	out.IsCustomerCandidate = !out.NegativeSignal && len(out.MatchedKeywords) > 0
	return out
}
