package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Tier is the final classification bucket driven by K1/K2 presence.
type Tier string

const (
	TierGolden    Tier = "TIER1_GOLDEN"
	TierPromising Tier = "TIER2_PROMISING"
	TierResearch  Tier = "TIER3_RESEARCH"
	TierReject    Tier = "REJECT"
)

// tierRanks orders tiers for monotonicity comparisons.
var tierRanks = map[Tier]int{
	TierReject:    0,
	TierResearch:  1,
	TierPromising: 2,
	TierGolden:    3,
}

// Rank returns the ordinal position of the tier (REJECT lowest).
func (t Tier) Rank() int {
	return tierRanks[t]
}

// CapacityBand is a coarse production-capacity estimate parsed from
// evidence text, used for sales prioritization only.
type CapacityBand string

const (
	CapacitySmall   CapacityBand = "small"
	CapacityMid     CapacityBand = "mid"
	CapacityLarge   CapacityBand = "large"
	CapacityUnknown CapacityBand = "unknown"
)

// MergeReason explains why two raw records joined one cluster.
const (
	MergeReasonWebsiteDomain  = "website_domain"
	MergeReasonNameSimilarity = "name_similarity"
	MergeReasonReviewMerge    = "review_merge"
)

// MergeAudit records one pairwise merge decision.
type MergeAudit struct {
	RawIDA     string  `json:"raw_id_a"`
	RawIDB     string  `json:"raw_id_b"`
	Reason     string  `json:"reason"`
	Similarity float64 `json:"similarity"`
}

// ReviewPair is a grey-band candidate pair held for human adjudication.
// Both sides stay separate canonical entities until resolved.
type ReviewPair struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	EntityIDA  string    `json:"entity_id_a"`
	EntityIDB  string    `json:"entity_id_b"`
	NameA      string    `json:"name_a"`
	NameB      string    `json:"name_b"`
	Country    string    `json:"country"`
	Similarity float64   `json:"similarity"`
	Status     string    `json:"status"`
	Suggestion string    `json:"suggestion,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Review pair statuses.
const (
	ReviewPending      = "pending"
	ReviewMerged       = "merged"
	ReviewKeptSeparate = "kept_separate"
)

// CanonicalEntity is the merged, deduplicated representation of one
// real-world company across all source mentions.
type CanonicalEntity struct {
	ID                    string         `json:"id"`
	CanonicalName         string         `json:"canonical_name"`
	NormalizedKey         string         `json:"normalized_key"`
	Country               string         `json:"country,omitempty"`
	Website               string         `json:"website,omitempty"`
	Quality               Grade          `json:"entity_quality"`
	MemberRawIDs          []string       `json:"member_raw_ids"`
	Evidence              []EvidenceItem `json:"evidence,omitempty"`
	K1Count               int            `json:"k1_count"`
	K2Count               int            `json:"k2_count"`
	OEMReference          bool           `json:"oem_reference"`
	NegativeSignal        bool           `json:"negative_signal"`
	MatchedKeywords       []string       `json:"matched_keywords,omitempty"`
	ContactEmail          string         `json:"contact_email,omitempty"`
	LowBlockingConfidence bool           `json:"low_blocking_confidence,omitempty"`
	Tier                  Tier           `json:"tier"`
	Score                 float64        `json:"score"`
	CapacityBand          CapacityBand   `json:"capacity_band,omitempty"`
	MergeAudit            []MergeAudit   `json:"merge_audit,omitempty"`
}

// RecountEvidence recomputes the K1/K2 counters and the OEM flag from the
// current evidence list. Counters are never maintained independently.
func (c *CanonicalEntity) RecountEvidence() {
	c.K1Count, c.K2Count = 0, 0
	c.OEMReference = false
	for _, e := range c.Evidence {
		switch e.Kind {
		case KindK1:
			c.K1Count++
		case KindK2:
			c.K2Count++
		}
		if e.Subtype == EvidenceOEMReference {
			c.OEMReference = true
		}
	}
}

// EntityID derives the stable canonical identifier from the normalized
// key and country. Re-running the pipeline on overlapping inputs yields
// the same identifier for the same entity.
func EntityID(normalizedKey, country string) string {
	sum := sha256.Sum256([]byte(normalizedKey + "|" + strings.ToLower(strings.TrimSpace(country))))
	return hex.EncodeToString(sum[:])[:16]
}
