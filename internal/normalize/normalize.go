// Package normalize canonicalizes raw company names into comparable keys.
// The normalized key drives blocking and merge decisions in dedup; the
// display name is the cosmetic form kept for human-facing output.
package normalize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/millscout-cli/internal/model"
)

var (
	multiSpaceRe    = regexp.MustCompile(`\s{2,}`)
	parentheticalRe = regexp.MustCompile(`\s*\([^)]*\)`)
)

// foldChain strips diacritics: decompose, drop combining marks, recompose.
var foldChain = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// asciiFolds maps the non-decomposable letters the chain leaves behind.
var asciiFolds = strings.NewReplacer(
	"ı", "i",
	"ß", "ss",
	"æ", "ae",
	"œ", "oe",
	"ø", "o",
	"đ", "d",
	"ł", "l",
	"þ", "th",
)

// punctFolds rewrites punctuation inside a folded key.
var punctFolds = strings.NewReplacer(
	"&", " and ",
	"+", " and ",
	",", " ",
	".", " ",
	"'", "",
	"’", "",
	"\"", "",
	"-", " ",
	"–", " ",
	"/", " ",
	"_", " ",
	":", " ",
	";", " ",
	"|", " ",
)

// Normalizer holds the folded suffix tables. Construct once per run from
// the loaded vocabulary and share freely; it is immutable.
type Normalizer struct {
	// suffixes is the strip set: legal forms plus sector words,
	// pre-folded and sorted longest-first so compound suffixes
	// ("san. ve tic.") match before their tails ("tic.").
	suffixes []string
	// legal holds only the registered legal forms, for HasLegalSuffix.
	legal []string
}

// New builds a Normalizer. Both lists are stripped during
// normalization; only the legal forms count as a legal-entity marker.
// Suffixes are folded and stripped of trailing punctuation so "Ltd."
// and "A.Ş." match the same way the key tail is compared.
func New(legalSuffixes, sectorSuffixes []string) *Normalizer {
	legal := foldSuffixes(legalSuffixes)
	return &Normalizer{
		suffixes: foldSuffixes(append(append([]string{}, legalSuffixes...), sectorSuffixes...)),
		legal:    legal,
	}
}

func foldSuffixes(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		folded := strings.TrimRight(Fold(s), " .,")
		if folded == "" {
			continue
		}
		if _, dup := seen[folded]; dup {
			continue
		}
		seen[folded] = struct{}{}
		out = append(out, folded)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// Normalize canonicalizes a raw name into (normalizedKey, displayName).
// The country hint is accepted for interface stability but never selects
// the suffix table: the full superset applies regardless, because a
// missed strip breaks dedup while an extra strip is self-correcting.
// Fails only on blank input.
func (n *Normalizer) Normalize(rawName, _ string) (string, string, error) {
	display := CleanDisplay(rawName)
	if display == "" {
		return "", "", model.ErrEmptyName
	}

	key := parentheticalRe.ReplaceAllString(rawName, " ")
	key = Fold(key)
	key = n.stripSuffixes(key)
	key = punctFolds.Replace(key)
	key = multiSpaceRe.ReplaceAllString(key, " ")
	key = strings.TrimSpace(key)
	if key == "" {
		// Name was nothing but suffixes and punctuation; fall back to the
		// folded display so the record still has a usable key.
		key = strings.TrimSpace(multiSpaceRe.ReplaceAllString(punctFolds.Replace(Fold(display)), " "))
	}

	return key, display, nil
}

// stripSuffixes repeatedly removes one trailing legal suffix per pass
// until no suffix matches. Each strip shortens the key, so this
// terminates; trimSuffixWord refuses to strip the whole name away.
func (n *Normalizer) stripSuffixes(key string) string {
	for changed := true; changed; {
		changed = false
		for _, suffix := range n.suffixes {
			if trimmed, ok := trimSuffixWord(key, suffix); ok {
				key = strings.TrimSpace(trimmed)
				changed = true
				break
			}
		}
	}
	return key
}

// HasLegalSuffix reports whether the raw name ends in a registered
// legal-entity form (Ltd, GmbH, A.Ş., S.A., …). Sector words like
// "Tekstil" or "Mills" are stripped during normalization but do not
// count here. A name that is nothing but the suffix does not count.
func (n *Normalizer) HasLegalSuffix(rawName string) bool {
	key := Fold(parentheticalRe.ReplaceAllString(rawName, " "))
	for _, suffix := range n.legal {
		if _, ok := trimSuffixWord(key, suffix); ok {
			return true
		}
	}
	return false
}

// trimSuffixWord removes suffix from the tail of key when it sits on a
// word boundary. Trailing punctuation between name and suffix is ignored.
func trimSuffixWord(key, suffix string) (string, bool) {
	trimmed := strings.TrimRight(key, " .,")
	if trimmed == suffix {
		return "", false // never strip the whole name
	}
	if strings.HasSuffix(trimmed, " "+suffix) {
		return trimmed[:len(trimmed)-len(suffix)-1], true
	}
	return key, false
}

// Fold lowercases and strips diacritics.
func Fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if folded, _, err := transform.String(foldChain, s); err == nil {
		s = folded
	}
	return asciiFolds.Replace(s)
}

// CleanDisplay trims noise from a raw name without touching its
// capitalization: surrounding quotes, a trailing parenthetical branch
// qualifier, trailing punctuation, and whitespace runs.
func CleanDisplay(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"'`)
	s = parentheticalRe.ReplaceAllString(s, " ")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.TrimRight(strings.TrimSpace(s), ".,;:|-")
	return strings.TrimSpace(s)
}

// Domain extracts the bare host from a website value: scheme, www
// prefix, port, and path are dropped; the result is lowercased.
func Domain(rawURL string) string {
	d := strings.ToLower(strings.TrimSpace(rawURL))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	return d
}
