package model

import (
	"time"
)

// SourceType identifies the collector channel a raw lead came from.
type SourceType string

const (
	SourceKnownManufacturer      SourceType = "known_manufacturer"
	SourceOEMReference           SourceType = "oem_reference"
	SourceAssociationMember      SourceType = "association_member"
	SourceFacilityDatabase       SourceType = "facility_database"
	SourceFairExhibitor          SourceType = "fair_exhibitor"
	SourceCertificationDirectory SourceType = "certification_directory"
	SourceSearchResult           SourceType = "search_result"
	SourcePDFExtraction          SourceType = "pdf_extraction"
	SourceJobPosting             SourceType = "job_posting"
	SourcePressRelease           SourceType = "press_release"
	SourceTradeImport            SourceType = "trade_import"
)

// sourcePriors fixes the per-source confidence prior. Unknown types are
// rejected at ingestion, never defaulted.
var sourcePriors = map[SourceType]float64{
	SourceKnownManufacturer:      1.00,
	SourceOEMReference:           0.95,
	SourceAssociationMember:      0.85,
	SourceFacilityDatabase:       0.80,
	SourceCertificationDirectory: 0.80,
	SourceFairExhibitor:          0.75,
	SourceTradeImport:            0.70,
	SourceJobPosting:             0.60,
	SourcePressRelease:           0.50,
	SourcePDFExtraction:          0.45,
	SourceSearchResult:           0.30,
}

// Valid reports whether s is one of the enumerated source types.
func (s SourceType) Valid() bool {
	_, ok := sourcePriors[s]
	return ok
}

// Prior returns the fixed confidence prior for the source type, or 0 for
// unknown types.
func (s SourceType) Prior() float64 {
	return sourcePriors[s]
}

// RawLead is one mention of a candidate company from one source.
// Immutable once ingested; pipeline stages produce derived records.
type RawLead struct {
	ID              string     `json:"id"`
	RawName         string     `json:"raw_name"`
	SourceType      SourceType `json:"source_type"`
	Country         string     `json:"country,omitempty"`
	Website         string     `json:"website,omitempty"`
	EvidenceURL     string     `json:"evidence_url"`
	EvidenceSnippet string     `json:"evidence_snippet,omitempty"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	FetchedAt       time.Time  `json:"fetched_at"`
	ContentHash     string     `json:"content_hash,omitempty"`
}

// Prior returns the lead's source confidence prior.
func (l RawLead) Prior() float64 {
	return l.SourceType.Prior()
}

// Validate enforces the collector input contract: every mention carries
// an evidence URL, and the source type is one of the enumerated values.
// Invalid leads are dropped and counted before the gate sees them.
func (l RawLead) Validate() error {
	if l.EvidenceURL == "" {
		return ErrMissingEvidenceURL
	}
	if !l.SourceType.Valid() {
		return ErrUnknownSourceType
	}
	return nil
}

// Grade is the quality classification a lead receives at the gate.
type Grade string

const (
	GradeA      Grade = "A"
	GradeB      Grade = "B"
	GradeC      Grade = "C"
	GradeReject Grade = "REJECT"
)

// gradeRanks orders grades for monotonicity comparisons and for picking
// the best grade in a merged cluster.
var gradeRanks = map[Grade]int{
	GradeReject: 0,
	GradeC:      1,
	GradeB:      2,
	GradeA:      3,
}

// Rank returns the ordinal position of the grade (REJECT lowest).
func (g Grade) Rank() int {
	return gradeRanks[g]
}

// Upgrade returns the grade one step higher, capped at A.
func (g Grade) Upgrade() Grade {
	switch g {
	case GradeC:
		return GradeB
	case GradeB:
		return GradeA
	default:
		return g
	}
}

// GatedEntity is a RawLead annotated with its quality grade.
// REJECT entities never propagate past the gate.
type GatedEntity struct {
	RawLead
	Quality         Grade  `json:"entity_quality"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	NormalizedKey   string `json:"normalized_key"`
	DisplayName     string `json:"display_name"`
}

// QualifiedEntity is a GatedEntity annotated with customer plausibility.
// The qualifier never drops records: non-candidates and negative-signal
// carriers still flow into clustering, where a negative member vetoes the
// whole cluster at tier time.
type QualifiedEntity struct {
	GatedEntity
	IsCustomerCandidate bool     `json:"is_customer_candidate"`
	MatchedKeywords     []string `json:"matched_keywords,omitempty"`
	NegativeSignal      bool     `json:"negative_signal"`
}
