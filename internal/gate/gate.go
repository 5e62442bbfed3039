// Package gate grades raw leads A/B/C/REJECT before any further
// processing. Rejection rules run in a fixed order and the first hit
// wins; only leads surviving every rule receive a base grade and at most
// one upgrade.
package gate

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/normalize"
	"github.com/sells-group/millscout-cli/internal/vocab"
)

// Rejection reason codes.
const (
	ReasonSingleGenericWord = "single_generic_word"
	ReasonBlacklistedDomain = "blacklisted_domain"
	ReasonHeadlineShape     = "headline_shape"
	ReasonNoProperNoun      = "no_proper_noun"
)

// announcementRe matches verbs that mark a news headline rather than a
// company name ("Acme announces new finishing plant").
var announcementRe = regexp.MustCompile(`(?i)\b(announces?|announced|reveals?|unveils?|launche[sd]|introduces?|acquires?|acquired|expands?|partners with|to invest|invests? in)\b`)

// openerRe matches interrogative and listicle openers.
var openerRe = regexp.MustCompile(`(?i)^(how to|what is|what are|why (do|does|is|are)|top \d+|\d+ (best|top)|guide to|a guide)\b`)

// tokenPunct is trimmed off token edges before stoplist lookups.
const tokenPunct = ".,;:()&\"'-"

// Gate classifies raw leads. Construct once per run and share; it is
// immutable after New.
type Gate struct {
	norm  *normalize.Normalizer
	vocab *vocab.Vocabulary

	// processWords is the folded union of the generic stoplist and the
	// single-word process vocabulary, used by the no_proper_noun rule.
	processWords map[string]struct{}

	rules []rule
}

// rule pairs a rejection reason with its predicate. Keeping the rules in
// a slice makes the evaluation order itself testable.
type rule struct {
	reason string
	match  func(*leadView) bool
}

// leadView caches the derived fields the rules share.
type leadView struct {
	lead   *model.RawLead
	tokens []string // folded name, whitespace-split
	host   string   // website domain, normalized
}

// New builds a Gate over the given normalizer and vocabulary.
func New(norm *normalize.Normalizer, v *vocab.Vocabulary) *Gate {
	words := make(map[string]struct{}, len(v.GenericTerms))
	for _, t := range v.GenericTerms {
		words[normalize.Fold(t)] = struct{}{}
	}
	for _, t := range v.PositiveTerms() {
		if !strings.Contains(t, " ") {
			words[normalize.Fold(t)] = struct{}{}
		}
	}

	g := &Gate{norm: norm, vocab: v, processWords: words}
	g.rules = []rule{
		{ReasonSingleGenericWord, g.singleGenericWord},
		{ReasonBlacklistedDomain, g.blacklistedDomain},
		{ReasonHeadlineShape, headlineShape},
		{ReasonNoProperNoun, g.noProperNoun},
	}
	return g
}

// Rules returns the rejection reasons in evaluation order.
func (g *Gate) Rules() []string {
	out := make([]string, len(g.rules))
	for i, r := range g.rules {
		out[i] = r.reason
	}
	return out
}

// Grade classifies one raw lead. The returned entity carries the
// normalized key and display name; RejectionReason is set exactly when
// the grade is REJECT. Fails only on a blank name.
func (g *Gate) Grade(lead model.RawLead) (model.GatedEntity, error) {
	key, display, err := g.norm.Normalize(lead.RawName, lead.Country)
	if err != nil {
		return model.GatedEntity{}, eris.Wrap(err, "gate: normalize name")
	}

	view := &leadView{
		lead:   &lead,
		tokens: strings.Fields(normalize.Fold(lead.RawName)),
		host:   normalize.Domain(lead.Website),
	}

	out := model.GatedEntity{
		RawLead:       lead,
		NormalizedKey: key,
		DisplayName:   display,
	}

	for _, r := range g.rules {
		if r.match(view) {
			out.Quality = model.GradeReject
			out.RejectionReason = r.reason
			return out, nil
		}
	}

	out.Quality = upgrade(lead, g.baseGrade(view))
	return out, nil
}

// singleGenericWord rejects one-token names off the generic stoplist:
// "Manufacturer" or "Exhibitor" alone denotes a concept, not a company.
func (g *Gate) singleGenericWord(v *leadView) bool {
	if len(v.tokens) != 1 {
		return false
	}
	return g.vocab.IsGeneric(strings.Trim(v.tokens[0], tokenPunct))
}

// blacklistedDomain rejects leads whose website resolves to a
// marketplace, academic, social, or trade-media host. Those pages name a
// listing or an article, never the mill itself.
func (g *Gate) blacklistedDomain(v *leadView) bool {
	return v.host != "" && hostBlacklisted(v.host, g.vocab.BlacklistDomains)
}

// hostBlacklisted suffix-matches host against the blacklist so that
// subdomains of a blacklisted site match too.
func hostBlacklisted(host string, blacklist []string) bool {
	for _, b := range blacklist {
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}

// headlineShape rejects names shaped like article titles.
func headlineShape(v *leadView) bool {
	raw := v.lead.RawName
	return strings.ContainsRune(raw, '?') ||
		announcementRe.MatchString(raw) ||
		openerRe.MatchString(strings.TrimSpace(raw))
}

// noProperNoun rejects multi-token names composed entirely of process
// and industry nouns ("Textile Dyeing Finishing"): nothing in the name
// can denote a distinct company.
func (g *Gate) noProperNoun(v *leadView) bool {
	if len(v.tokens) < 2 {
		return false
	}
	for _, tok := range v.tokens {
		tok = strings.Trim(tok, tokenPunct)
		if tok == "" || utf8.RuneCountInString(tok) < 2 {
			continue
		}
		if _, ok := g.processWords[tok]; !ok {
			return false
		}
	}
	return true
}

// directorySources vouch for a name shape on their own: the listing was
// curated by someone.
var directorySources = map[model.SourceType]struct{}{
	model.SourceAssociationMember:      {},
	model.SourceFacilityDatabase:       {},
	model.SourceFairExhibitor:          {},
	model.SourceCertificationDirectory: {},
}

// officialSources earn the single grade upgrade.
var officialSources = map[model.SourceType]struct{}{
	model.SourceKnownManufacturer:      {},
	model.SourceAssociationMember:      {},
	model.SourceCertificationDirectory: {},
}

// baseGrade combines two independent signals by max, never sum: either
// signal alone reaches its grade, and correlated signals are not added.
func (g *Gate) baseGrade(v *leadView) model.Grade {
	grade := model.GradeC
	if g.norm.HasLegalSuffix(v.lead.RawName) {
		grade = maxGrade(grade, model.GradeA)
	}
	if len(v.tokens) >= 2 {
		if v.lead.Website != "" {
			grade = maxGrade(grade, model.GradeA)
		} else if _, ok := directorySources[v.lead.SourceType]; ok {
			grade = maxGrade(grade, model.GradeB)
		}
	}
	return grade
}

// upgrade lifts the grade by one step at most. An official-directory
// source and confirmed contact details both qualify; together they still
// count once.
func upgrade(lead model.RawLead, grade model.Grade) model.Grade {
	if _, ok := officialSources[lead.SourceType]; ok {
		return grade.Upgrade()
	}
	if lead.Email != "" || lead.Phone != "" {
		return grade.Upgrade()
	}
	return grade
}

func maxGrade(a, b model.Grade) model.Grade {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
