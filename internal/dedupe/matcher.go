package dedupe

import (
	"strings"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"

	"github.com/sells-group/millscout-cli/internal/config"
)

// Matcher scores normalized-key similarity in [0,1]. The similarity
// function is swappable; thresholds live in configuration.
type Matcher interface {
	Name() string
	Similarity(a, b string) float64
}

// thresholdMatcher pairs a matcher with its pass threshold.
type thresholdMatcher struct {
	m         Matcher
	threshold float64
}

// TokenSetMatcher scores by Jaccard overlap of the key token sets.
// Robust to word order and to sector words dropped on one side.
type TokenSetMatcher struct{}

// Name implements Matcher.
func (TokenSetMatcher) Name() string { return "token" }

// Similarity implements Matcher.
func (TokenSetMatcher) Similarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(ta)+len(tb)-inter)
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range strings.Fields(s) {
		out[t] = struct{}{}
	}
	return out
}

// EditDistanceMatcher scores by Levenshtein similarity over the whole
// key, catching tight spelling variants that token overlap misses.
type EditDistanceMatcher struct{}

// Name implements Matcher.
func (EditDistanceMatcher) Name() string { return "edit" }

// Similarity implements Matcher.
func (EditDistanceMatcher) Similarity(a, b string) float64 {
	return levenshtein.Similarity(a, b, nil)
}

// matchersFor resolves the configured matcher selection. "best" runs
// both measures and merges when either clears its own threshold.
func matchersFor(cfg config.PipelineConfig) ([]thresholdMatcher, error) {
	token := thresholdMatcher{TokenSetMatcher{}, cfg.MergeSimilarityThreshold}
	edit := thresholdMatcher{EditDistanceMatcher{}, cfg.EditSimilarityThreshold}

	switch cfg.Matcher {
	case "", "best":
		return []thresholdMatcher{token, edit}, nil
	case "token_set", "token":
		return []thresholdMatcher{token}, nil
	case "levenshtein", "edit":
		return []thresholdMatcher{edit}, nil
	default:
		return nil, eris.Errorf("dedupe: unknown matcher %q", cfg.Matcher)
	}
}
