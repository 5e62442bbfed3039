package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/resilience"
)

// adjudicationPrompt is the system prompt for merge-pair review. It is
// sent with a cache breakpoint, so only the first request of a run pays
// for it in full.
const adjudicationPrompt = `You are reviewing pairs of textile dyeing and finishing mill records that an automated pipeline flagged as possible duplicates. The similarity score fell in a grey band: too close to dismiss, too far to merge automatically.

Decide whether the two records describe the same company:
- MERGE: same mill (name variants, transliterations, legal-form suffixes, shared website domain).
- KEEP: different mills (distinct plants, parent vs subsidiary, coincidentally similar names).

Respond with ONLY valid JSON, no other text:
{"verdict": "MERGE", "confidence": 0.0, "rationale": "brief explanation"}

verdict must be MERGE or KEEP. confidence is 0.0 to 1.0.`

// Advisory verdicts.
const (
	VerdictMerge = "MERGE"
	VerdictKeep  = "KEEP"
)

const (
	// maxVerdictTokens bounds the response; a verdict is a one-liner.
	maxVerdictTokens = 256

	// maxEvidencePerRecord caps how many evidence items go into the prompt.
	maxEvidencePerRecord = 3

	// maxExcerptChars is the truncation limit per evidence excerpt.
	maxExcerptChars = 200
)

// PairDossier bundles a pending review pair with the two candidate
// records. Either side may be nil when the entity is no longer stored;
// the prompt then falls back to the names recorded on the pair.
type PairDossier struct {
	Pair model.ReviewPair
	A    *model.CanonicalEntity
	B    *model.CanonicalEntity
}

// Suggestion is one advisory verdict for a review pair.
type Suggestion struct {
	PairID     string  `json:"pair_id"`
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// String renders the suggestion the way it is stored on the review row.
func (s Suggestion) String() string {
	if s.Rationale == "" {
		return fmt.Sprintf("%s (%.2f)", s.Verdict, s.Confidence)
	}
	return fmt.Sprintf("%s (%.2f): %s", s.Verdict, s.Confidence, s.Rationale)
}

// Advisor drafts verdicts for grey-band pairs, one request per pair,
// rate-limited and retried.
type Advisor struct {
	client  Client
	model   string
	limiter *rate.Limiter
	policy  resilience.Policy
}

// NewAdvisor wires an Advisor to the given client and model.
// requestsPerMinute defaults to 30 when zero or negative.
func NewAdvisor(client Client, model string, requestsPerMinute int) *Advisor {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	policy := resilience.DefaultPolicy()
	policy.Notify = resilience.LogRetries("anthropic", "review suggestion")
	return &Advisor{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), 1),
		policy:  policy,
	}
}

// SuggestPairs drafts one verdict per dossier. Unusable responses and
// exhausted retries skip the pair rather than abort the batch; token
// usage and estimated cost are logged once at the end.
func (a *Advisor) SuggestPairs(ctx context.Context, dossiers []PairDossier) ([]Suggestion, error) {
	var (
		suggestions []Suggestion
		usage       TokenUsage
		skipped     int
	)

	temp := 0.0
	system := []SystemBlock{{
		Text:         adjudicationPrompt,
		CacheControl: &CacheControl{TTL: "5m"},
	}}

	for _, d := range dossiers {
		if ctx.Err() != nil {
			return suggestions, eris.Wrap(ctx.Err(), "advisor: suggest interrupted")
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return suggestions, eris.Wrap(err, "advisor: rate limit")
		}

		resp, err := resilience.DoVal(ctx, a.policy, func(ctx context.Context) (*MessageResponse, error) {
			return a.client.CreateMessage(ctx, MessageRequest{
				Model:       a.model,
				MaxTokens:   maxVerdictTokens,
				System:      system,
				Messages:    []Message{{Role: "user", Content: pairPrompt(d)}},
				Temperature: &temp,
			})
		})
		if err != nil {
			zap.L().Warn("advisor: request failed", zap.String("pair", d.Pair.ID), zap.Error(err))
			skipped++
			continue
		}
		usage.Add(resp.Usage)

		sug, err := parseSuggestion(d.Pair.ID, resp)
		if err != nil {
			zap.L().Warn("advisor: unusable verdict", zap.String("pair", d.Pair.ID), zap.Error(err))
			skipped++
			continue
		}
		suggestions = append(suggestions, sug)
	}

	usage.LogCost(a.model, "review-suggest")
	zap.L().Info("advisor: suggestions drafted",
		zap.Int("pairs", len(dossiers)),
		zap.Int("suggested", len(suggestions)),
		zap.Int("skipped", skipped),
	)
	return suggestions, nil
}

// pairPrompt builds the compact dossier sent as the user message.
func pairPrompt(d PairDossier) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Similarity: %.3f\n", d.Pair.Similarity)
	if d.Pair.Country != "" {
		fmt.Fprintf(&b, "Country: %s\n", d.Pair.Country)
	}
	b.WriteString("\n")
	writeRecord(&b, "A", d.Pair.NameA, d.A)
	b.WriteString("\n")
	writeRecord(&b, "B", d.Pair.NameB, d.B)
	return b.String()
}

func writeRecord(b *strings.Builder, label, name string, e *model.CanonicalEntity) {
	fmt.Fprintf(b, "Record %s: %s\n", label, name)
	if e == nil {
		return
	}
	if e.Website != "" {
		fmt.Fprintf(b, "Website: %s\n", e.Website)
	}
	if e.Country != "" {
		fmt.Fprintf(b, "Country: %s\n", e.Country)
	}
	for i, ev := range e.Evidence {
		if i == maxEvidencePerRecord {
			break
		}
		excerpt := strings.TrimSpace(ev.Excerpt)
		if len(excerpt) > maxExcerptChars {
			excerpt = excerpt[:maxExcerptChars]
		}
		if excerpt == "" {
			excerpt = ev.URL
		}
		fmt.Fprintf(b, "Evidence [%s/%s]: %s\n", ev.Kind, ev.Subtype, excerpt)
	}
}

type verdictJSON struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// parseSuggestion extracts and validates the JSON verdict from a
// response. The JSON may have surrounding text.
func parseSuggestion(pairID string, resp *MessageResponse) (Suggestion, error) {
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return Suggestion{}, eris.New("advisor: empty response")
	}

	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return Suggestion{}, eris.Errorf("advisor: no JSON in response: %s", text)
	}

	var v verdictJSON
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &v); err != nil {
		return Suggestion{}, eris.Wrap(err, "advisor: parse verdict")
	}

	verdict := strings.ToUpper(strings.TrimSpace(v.Verdict))
	if verdict != VerdictMerge && verdict != VerdictKeep {
		return Suggestion{}, eris.Errorf("advisor: unexpected verdict %q", v.Verdict)
	}

	return Suggestion{
		PairID:     pairID,
		Verdict:    verdict,
		Confidence: min(max(v.Confidence, 0), 1),
		Rationale:  strings.TrimSpace(v.Rationale),
	}, nil
}
