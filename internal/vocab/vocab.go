// Package vocab holds the term lists the gate and qualifier match
// against: machinery/process keywords, disqualifying terms, legal-entity
// suffixes, generic-word stoplists, and domain blacklists. Built-in
// defaults cover the core locales (en, tr, de, es, pt); YAML packs can
// overlay extra terms per locale without a rebuild.
package vocab

import (
	"sort"
	"strings"
)

// Vocabulary is the merged, matcher-ready term set. All terms are stored
// lowercased; lookups fold their input.
type Vocabulary struct {
	Positive         []string
	Negative         []string
	OEMBrands        []string
	LegalSuffixes    []string
	SectorSuffixes   []string
	GenericTerms     []string
	BlacklistDomains []string

	generic map[string]struct{}
}

// Default returns the built-in vocabulary.
func Default() *Vocabulary {
	v := &Vocabulary{
		Positive:         defaultPositive(),
		Negative:         defaultNegative(),
		OEMBrands:        defaultOEMBrands(),
		LegalSuffixes:    defaultLegalSuffixes(),
		SectorSuffixes:   defaultSectorSuffixes(),
		GenericTerms:     defaultGenericTerms(),
		BlacklistDomains: defaultBlacklistDomains(),
	}
	v.reindex()
	return v
}

// IsGeneric reports whether a single token is on the generic stoplist.
func (v *Vocabulary) IsGeneric(token string) bool {
	_, ok := v.generic[strings.ToLower(strings.TrimSpace(token))]
	return ok
}

// PositiveTerms returns the positive vocabulary including OEM brands,
// which count as equipment signals.
func (v *Vocabulary) PositiveTerms() []string {
	out := make([]string, 0, len(v.Positive)+len(v.OEMBrands))
	out = append(out, v.Positive...)
	out = append(out, v.OEMBrands...)
	return out
}

// reindex rebuilds the lookup sets after terms change.
func (v *Vocabulary) reindex() {
	v.Positive = dedupeFold(v.Positive)
	v.Negative = dedupeFold(v.Negative)
	v.OEMBrands = dedupeFold(v.OEMBrands)
	v.LegalSuffixes = dedupeFold(v.LegalSuffixes)
	v.SectorSuffixes = dedupeFold(v.SectorSuffixes)
	v.GenericTerms = dedupeFold(v.GenericTerms)
	v.BlacklistDomains = dedupeFold(v.BlacklistDomains)

	v.generic = make(map[string]struct{}, len(v.GenericTerms))
	for _, t := range v.GenericTerms {
		v.generic[t] = struct{}{}
	}
}

// dedupeFold lowercases, trims, drops empties and duplicates, and sorts
// so matching order is deterministic.
func dedupeFold(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// defaultPositive lists machinery, process, and certification terms that
// mark an entity as a plausible finishing-mill customer. Multi-language:
// a Turkish mill describing its ramöz line counts the same as a German
// one describing Thermofixierung.
func defaultPositive() []string {
	return []string{
		// Machinery
		"stenter", "stenter frame", "tenter", "tenter frame",
		"ramöz", "ramoz", "spannrahmen",
		"heat setting", "heat-setting", "thermofixierung", "termofiksaj",
		"relax dryer", "pad-steam", "sanfor machine",
		// Processes
		"finishing", "textile finishing", "fabric finishing",
		"terbiye", "tekstil terbiye", "veredlung", "textilveredlung",
		"acabado", "acabamento", "finissage", "apre", "apretura",
		"dyeing", "dye house", "dyehouse", "boya", "boyama", "boyahane",
		"färberei", "teñido", "tingimento", "teinture",
		"bleaching", "kasar", "bleiche",
		"mercerizing", "mercerising", "merserize",
		"sanforizing", "sanforize", "sanfor",
		"calendering", "kalender",
		"coating", "kaplama", "laminating", "lamine",
		"printing", "baskı", "rotary printing",
		// Certifications
		"oeko-tex", "oekotex", "gots", "bluesign", "zdhc",
	}
}

// defaultNegative lists disqualifying terms: traders, retail brands,
// machinery makers, logistics, academia, associations, and media. A hit
// is an absolute veto regardless of positive matches.
func defaultNegative() []string {
	return []string{
		"trading company", "trading co", "general trading",
		"import export", "import-export", "dış ticaret",
		"distributor", "distribütör", "wholesaler", "retailer",
		"fashion group", "fashion brand", "apparel brand", "clothing brand",
		"garment manufacturer", "garments exporter", "konfeksiyon",
		"spinning mill", "spinning only", "yarn manufacturer",
		"iplik üreticisi", "iplik fabrikası",
		"machinery manufacturer", "textile machinery", "machine builder",
		"makine üreticisi", "makina sanayi", "maschinenbau",
		"spare parts dealer", "yedek parça",
		"freight", "logistics", "lojistik", "shipping agency",
		"consulting", "danışmanlık", "software",
		"association", "federation", "chamber of commerce",
		"institute", "university", "üniversite", "research center",
		"exhibition organizer", "fair organizer", "fuar organizasyon",
		"news", "magazine", "dergi", "portal", "publishing",
	}
}

// defaultOEMBrands lists stenter and finishing-line OEMs. A brand mention
// in an entity's own material is an equipment signal; a mention on the
// OEM's reference page is K1 evidence.
func defaultOEMBrands() []string {
	return []string{
		"monforts", "brückner", "bruckner", "krantz", "artos",
		"santex", "santex rimar", "goller", "benninger", "küsters",
		"kusters", "babcock", "dilmenler", "has group", "effe endüstri",
		"effe endustri", "unitech", "il-sung", "ilsung",
	}
}

// defaultLegalSuffixes lists registered legal-entity forms across the
// covered locales. The gate treats a trailing legal form as a strong
// realness signal, so sector words never belong here.
func defaultLegalSuffixes() []string {
	return []string{
		"ltd", "ltd.", "limited", "ltd şti", "ltd. şti.", "ltd sti",
		"llc", "inc", "inc.", "incorporated",
		"corp", "corp.", "corporation", "co", "co.", "company",
		"plc", "pty", "pty ltd", "pvt ltd", "pvt. ltd.",
		"gmbh", "gmbh & co kg", "ag", "kg",
		"s.a.", "sa", "s.a.s.", "sas", "s.p.a.", "spa", "srl", "s.r.l.",
		"bv", "b.v.", "nv", "n.v.", "ltda",
		"a.ş.", "a.s.", "aş",
	}
}

// defaultSectorSuffixes lists industry and structure words that trail
// company names without implying a registered entity. Stripped during
// normalization together with the legal forms; suffix stripping never
// consults the country hint, because failing to strip breaks dedup
// while over-stripping is self-correcting downstream.
func defaultSectorSuffixes() []string {
	return []string{
		"san. ve tic.", "sanayi ve ticaret", "san. tic.", "san.", "tic.",
		"sanayi", "ticaret",
		"tekstil", "textil", "textile", "textiles", "terbiye", "boya",
		"iplik", "mill", "mills", "group", "holding",
		"industries", "industria", "industrial",
	}
}

// defaultGenericTerms is the single-word stoplist: a name that is just
// one of these denotes a concept, not a company.
func defaultGenericTerms() []string {
	return []string{
		"manufacturer", "manufacturers", "manufacturing",
		"textile", "textiles", "tekstil", "fabric", "fabrics",
		"finishing", "dyeing", "printing", "weaving", "knitting",
		"mill", "mills", "factory", "plant", "company", "group",
		"stand", "booth", "hall", "exhibitor", "exhibitors",
		"association", "federation", "member", "members",
		"news", "article", "report", "directory", "list", "overview",
		"supplier", "suppliers", "exporter", "exporters",
		"turkey", "china", "india", "brazil", "pakistan",
	}
}

// defaultBlacklistDomains lists marketplace, academic, social, and trade
// media hosts. A lead whose website lands on one of these names a listing
// or an article, never the mill itself.
func defaultBlacklistDomains() []string {
	return []string{
		"alibaba.com", "aliexpress.com", "indiamart.com",
		"made-in-china.com", "globalsources.com", "ec21.com",
		"tradekey.com", "dhgate.com",
		"wikipedia.org", "youtube.com", "facebook.com", "linkedin.com",
		"twitter.com", "x.com", "instagram.com", "pinterest.com",
		"reddit.com",
		"sciencedirect.com", "researchgate.net", "academia.edu",
		"springer.com",
		"textileworld.com", "fibre2fashion.com", "apparelresources.com",
		"textiletoday.com.bd",
	}
}
