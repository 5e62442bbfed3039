// Package evidence classifies proof items into the K1/K2 taxonomy and
// accumulates them onto canonical entities. K1 is external proof (OEM
// references, customs records, curated rosters); K2 is proof from the
// entity's own web presence. Counts drive tier decisions; strength only
// drives ranking.
package evidence

import (
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/normalize"
	"github.com/sells-group/millscout-cli/internal/qualify"
	"github.com/sells-group/millscout-cli/internal/vocab"
)

// ErrUnknownSubtype marks an evidence subtype outside the fixed table.
var ErrUnknownSubtype = eris.New("unknown evidence subtype")

// excerptWindow is the rune radius kept around the first keyword hit.
const excerptWindow = 140

// Classify builds one evidence item from the fixed subtype tables.
// Unknown subtypes and missing URLs are errors: every item must be
// traceable and classifiable.
func Classify(subtype model.EvidenceSubtype, url, excerpt string) (model.EvidenceItem, error) {
	if !subtype.Valid() {
		return model.EvidenceItem{}, eris.Wrapf(ErrUnknownSubtype, "evidence: classify %q", subtype)
	}
	if url == "" {
		return model.EvidenceItem{}, eris.Wrap(model.ErrMissingEvidenceURL, "evidence: classify")
	}
	return model.EvidenceItem{
		Kind:     subtype.Kind(),
		Subtype:  subtype,
		Strength: subtype.Strength(),
		URL:      url,
		Excerpt:  excerpt,
	}, nil
}

// Collector derives evidence items from qualified leads. Construct once
// per run and share; it is immutable.
type Collector struct {
	// process matches process terms only, brands excluded: a brand
	// mention alone does not make a page a production page.
	process *qualify.Matcher
}

// NewCollector builds a Collector from the vocabulary.
func NewCollector(v *vocab.Vocabulary) *Collector {
	return &Collector{process: qualify.NewMatcher(v.Positive)}
}

// FromLead derives the evidence item a qualified lead itself carries.
// Directory-style sources map to fixed subtypes. Open-web sources yield
// website evidence only when the snippet matched the vocabulary, and
// count as a production page when the page sits on the entity's own
// domain and names an actual process.
func (c *Collector) FromLead(q model.QualifiedEntity) (model.EvidenceItem, bool) {
	var subtype model.EvidenceSubtype
	switch q.SourceType {
	case model.SourceOEMReference:
		subtype = model.EvidenceOEMReference
	case model.SourceFairExhibitor, model.SourcePDFExtraction:
		subtype = model.EvidencePDFExhibitor
	case model.SourceAssociationMember, model.SourceFacilityDatabase:
		// Curated third-party rosters carry the same class of proof as
		// an exhibitor list.
		subtype = model.EvidencePDFExhibitor
	case model.SourceJobPosting:
		subtype = model.EvidenceJobPosting
	case model.SourceTradeImport:
		subtype = model.EvidenceTradeImport
	case model.SourcePressRelease:
		subtype = model.EvidencePressRelease
	case model.SourceCertificationDirectory:
		subtype = model.EvidenceCertification
	case model.SourceSearchResult, model.SourceKnownManufacturer:
		if len(q.MatchedKeywords) == 0 {
			return model.EvidenceItem{}, false
		}
		subtype = model.EvidenceWebsiteKeyword
		if onOwnDomain(q) && c.process.Match(q.EvidenceSnippet) {
			subtype = model.EvidenceProductionPage
		}
	default:
		return model.EvidenceItem{}, false
	}

	item, err := Classify(subtype, q.EvidenceURL, Excerpt(q.EvidenceSnippet, q.MatchedKeywords))
	if err != nil {
		return model.EvidenceItem{}, false
	}
	return item, true
}

// onOwnDomain reports whether the evidence URL sits on the lead's own
// website domain.
func onOwnDomain(q model.QualifiedEntity) bool {
	site := normalize.Domain(q.Website)
	return site != "" && site == normalize.Domain(q.EvidenceURL)
}

// Accumulate unions items into the entity's evidence list, deduplicated
// by (url, subtype), then recounts K1/K2. Re-adding an existing item is
// a no-op, so re-running a pipeline never inflates counts.
func Accumulate(e *model.CanonicalEntity, items ...model.EvidenceItem) {
	seen := make(map[string]struct{}, len(e.Evidence))
	for _, ev := range e.Evidence {
		seen[ev.Key()] = struct{}{}
	}
	for _, it := range items {
		if _, dup := seen[it.Key()]; dup {
			continue
		}
		seen[it.Key()] = struct{}{}
		e.Evidence = append(e.Evidence, it)
	}
	e.RecountEvidence()
}

// Excerpt clips text to a window around the first keyword hit, with
// ellipses marking trimmed ends. Offsets come from the folded text;
// folding preserves rune offsets except for a few ligatures, which at
// worst shifts the window by a character.
func Excerpt(text string, keywords []string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= 2*excerptWindow {
		return text
	}

	folded := normalize.Fold(text)
	hit := -1
	for _, kw := range keywords {
		if i := strings.Index(folded, kw); i >= 0 && (hit < 0 || i < hit) {
			hit = i
		}
	}
	if hit < 0 {
		return string(runes[:2*excerptWindow]) + "..."
	}

	center := utf8.RuneCountInString(folded[:hit])
	start := center - excerptWindow
	if start < 0 {
		start = 0
	}
	end := center + excerptWindow
	if end > len(runes) {
		end = len(runes)
	}

	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}
