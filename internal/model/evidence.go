package model

// EvidenceKind splits evidence into external (K1) and internal (K2) proof.
// K1 comes from third parties (OEM references, customs records); K2 comes
// from the entity's own web presence.
type EvidenceKind string

const (
	KindK1 EvidenceKind = "K1"
	KindK2 EvidenceKind = "K2"
)

// EvidenceSubtype identifies what kind of proof an item carries.
type EvidenceSubtype string

const (
	EvidenceOEMReference   EvidenceSubtype = "oem_reference"
	EvidencePDFExhibitor   EvidenceSubtype = "pdf_exhibitor"
	EvidenceJobPosting     EvidenceSubtype = "job_posting"
	EvidenceTradeImport    EvidenceSubtype = "trade_import"
	EvidencePressRelease   EvidenceSubtype = "press_release"
	EvidenceProductionPage EvidenceSubtype = "website_production_page"
	EvidenceWebsiteKeyword EvidenceSubtype = "website_keyword"
	EvidenceCertification  EvidenceSubtype = "certification"
)

// Strength is the fixed per-subtype weight class. It is a ranking
// tie-break only; tier decisions use raw K1/K2 counts.
type Strength string

const (
	StrengthHigh   Strength = "high"
	StrengthMedium Strength = "medium"
	StrengthLow    Strength = "low"
)

// strengthValues maps strength classes to score contributions.
var strengthValues = map[Strength]float64{
	StrengthHigh:   1.0,
	StrengthMedium: 0.6,
	StrengthLow:    0.3,
}

// Value returns the numeric score contribution of the strength class.
func (s Strength) Value() float64 {
	return strengthValues[s]
}

// subtypeKinds is the fixed subtype→kind table.
var subtypeKinds = map[EvidenceSubtype]EvidenceKind{
	EvidenceOEMReference:   KindK1,
	EvidencePDFExhibitor:   KindK1,
	EvidenceJobPosting:     KindK1,
	EvidenceTradeImport:    KindK1,
	EvidencePressRelease:   KindK1,
	EvidenceProductionPage: KindK2,
	EvidenceWebsiteKeyword: KindK2,
	EvidenceCertification:  KindK2,
}

// subtypeStrengths is the fixed subtype→strength table.
var subtypeStrengths = map[EvidenceSubtype]Strength{
	EvidenceOEMReference:   StrengthHigh,
	EvidenceTradeImport:    StrengthHigh,
	EvidencePDFExhibitor:   StrengthMedium,
	EvidenceJobPosting:     StrengthMedium,
	EvidencePressRelease:   StrengthLow,
	EvidenceProductionPage: StrengthHigh,
	EvidenceCertification:  StrengthMedium,
	EvidenceWebsiteKeyword: StrengthLow,
}

// Valid reports whether s is a known evidence subtype.
func (s EvidenceSubtype) Valid() bool {
	_, ok := subtypeKinds[s]
	return ok
}

// Kind returns the K1/K2 classification for the subtype.
func (s EvidenceSubtype) Kind() EvidenceKind {
	return subtypeKinds[s]
}

// Strength returns the fixed strength class for the subtype.
func (s EvidenceSubtype) Strength() Strength {
	return subtypeStrengths[s]
}

// EvidenceItem is one piece of proof attached to a canonical entity.
// An entity exclusively owns its evidence; items are never shared.
type EvidenceItem struct {
	Kind     EvidenceKind    `json:"kind"`
	Subtype  EvidenceSubtype `json:"subtype"`
	Strength Strength        `json:"strength"`
	URL      string          `json:"url"`
	Excerpt  string          `json:"excerpt,omitempty"`
}

// Key returns the (url, subtype) identity used for set-union dedup.
func (e EvidenceItem) Key() string {
	return e.URL + "|" + string(e.Subtype)
}
