package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// countryAliases maps local-language and misspelled country names to the
// canonical English form used for blocking and merge decisions.
var countryAliases = map[string]string{
	"türkiye":      "Turkey",
	"turkiye":      "Turkey",
	"türkei":       "Turkey",
	"turkei":       "Turkey",
	"brasil":       "Brazil",
	"brazilien":    "Brazil",
	"deutschland":  "Germany",
	"alemanha":     "Germany",
	"almanya":      "Germany",
	"italia":       "Italy",
	"italien":      "Italy",
	"italya":       "Italy",
	"españa":       "Spain",
	"espana":       "Spain",
	"spanien":      "Spain",
	"ispanya":      "Spain",
	"mısır":        "Egypt",
	"misir":        "Egypt",
	"ägypten":      "Egypt",
	"agypten":      "Egypt",
	"egito":        "Egypt",
	"hindistan":    "India",
	"indien":       "India",
	"çin":          "China",
	"cin":          "China",
	"prc":          "China",
	"bangladesch":  "Bangladesh",
	"bangladeş":    "Bangladesh",
	"özbekistan":   "Uzbekistan",
	"oezbekistan":  "Uzbekistan",
	"yunanistan":   "Greece",
	"griechenland": "Greece",
	"portekiz":     "Portugal",
	"usa":          "United States",
	"u.s.a.":       "United States",
	"uk":           "United Kingdom",
	"u.k.":         "United Kingdom",
	"england":      "United Kingdom",
	"vietnam":      "Vietnam",
	"viet nam":     "Vietnam",
	"südkorea":     "South Korea",
	"korea":        "South Korea",

	"united states of america": "United States",
	"vereinigte staaten":       "United States",
	"great britain":            "United Kingdom",
	"republic of korea":        "South Korea",
}

var titleCaser = cases.Title(language.English)

// CountryName canonicalizes a raw country value. Unknown input is
// title-cased; blank input stays blank (country unknown).
func CountryName(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if canonical, ok := countryAliases[s]; ok {
		return canonical
	}
	return titleCaser.String(s)
}
