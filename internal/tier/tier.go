// Package tier assigns the final classification and ranking score to
// canonical entities. Tier placement is decided purely by evidence
// presence and the negative-signal veto; the score only ranks entities
// inside a tier and never moves one across a boundary.
package tier

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/config"
	"github.com/sells-group/millscout-cli/internal/model"
)

// lowBlockingDiscount shaves the score of entities whose cluster never
// had a website or country to block on.
const lowBlockingDiscount = 0.9

// ScoreBreakdown holds the individual dimension scores and the final
// weighted score.
type ScoreBreakdown struct {
	Evidence       float64 `json:"evidence"`
	Contactability float64 `json:"contactability"`
	OEMBonus       float64 `json:"oem_bonus"`
	Final          float64 `json:"final"`
}

// Classifier maps evidence onto tiers and composite scores.
type Classifier struct {
	weights config.ScoreWeights
}

// New builds a Classifier with the configured score weights.
func New(weights config.ScoreWeights) *Classifier {
	return &Classifier{weights: weights}
}

// Classify recounts evidence, assigns tier, score, and capacity band in
// place, and returns the score breakdown. The entity is frozen after
// this call.
func (c *Classifier) Classify(ent *model.CanonicalEntity) ScoreBreakdown {
	ent.RecountEvidence()
	ent.Tier = decideTier(ent)
	bd := c.score(ent)
	ent.Score = bd.Final
	ent.CapacityBand = BandFromEvidence(ent.Evidence)
	return bd
}

// decideTier is the ordered decision table. The negative-signal veto
// beats any amount of evidence; external plus internal proof is golden;
// exactly one of the two is promising; anything else stays research.
func decideTier(ent *model.CanonicalEntity) model.Tier {
	switch {
	case ent.NegativeSignal:
		return model.TierReject
	case ent.K1Count >= 1 && ent.K2Count >= 1:
		return model.TierGolden
	case ent.K1Count >= 1 || ent.K2Count >= 1:
		return model.TierPromising
	default:
		return model.TierResearch
	}
}

// score combines the dimension scores into the composite. The weighted
// sum is clipped to [0,1] before the low-blocking discount so the
// discount always shows in the output. Zero total weight falls back to
// evidence-only.
func (c *Classifier) score(ent *model.CanonicalEntity) ScoreBreakdown {
	ev := scoreEvidence(ent.Evidence)
	contact := scoreContactability(ent)
	oem := 0.0
	if ent.OEMReference {
		oem = 1.0
	}

	w := c.weights
	var final float64
	if w.Evidence+w.Contactability+w.OEMBonus == 0 {
		zap.L().Warn("tier: all score weights are zero, falling back to evidence-only")
		final = ev
	} else {
		final = w.Evidence*ev + w.Contactability*contact + w.OEMBonus*oem
	}
	final = clip01(final)
	if ent.LowBlockingConfidence {
		final *= lowBlockingDiscount
	}

	return ScoreBreakdown{
		Evidence:       ev,
		Contactability: contact,
		OEMBonus:       oem,
		Final:          final,
	}
}

// scoreEvidence is the mean strength value across evidence items, 0
// with no evidence.
func scoreEvidence(items []model.EvidenceItem) float64 {
	if len(items) == 0 {
		return 0
	}
	sum := 0.0
	for _, it := range items {
		sum += it.Strength.Value()
	}
	return sum / float64(len(items))
}

func scoreContactability(ent *model.CanonicalEntity) float64 {
	switch {
	case ent.ContactEmail != "":
		return 1.0
	case ent.Website != "":
		return 0.6
	default:
		return 0
	}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Rank orders entities for output: better tier first, then score
// descending, then canonical name and id for a stable order.
func Rank(entities []model.CanonicalEntity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Tier != entities[j].Tier {
			return entities[i].Tier.Rank() > entities[j].Tier.Rank()
		}
		if entities[i].Score != entities[j].Score {
			return entities[i].Score > entities[j].Score
		}
		if entities[i].CanonicalName != entities[j].CanonicalName {
			return entities[i].CanonicalName < entities[j].CanonicalName
		}
		return entities[i].ID < entities[j].ID
	})
}
