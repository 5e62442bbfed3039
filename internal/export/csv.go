package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/millscout-cli/internal/model"
)

// leadCSVRow is the lead-sheet schema. Column order follows field order.
type leadCSVRow struct {
	ID           string `csv:"id"`
	Company      string `csv:"company"`
	Country      string `csv:"country"`
	Website      string `csv:"website"`
	Grade        string `csv:"grade"`
	Tier         string `csv:"tier"`
	Score        string `csv:"score"`
	K1Count      int    `csv:"k1_count"`
	K2Count      int    `csv:"k2_count"`
	OEMReference bool   `csv:"oem_reference"`
	CapacityBand string `csv:"capacity_band"`
	ContactEmail string `csv:"contact_email"`
	WhyCustomer  string `csv:"why_customer"`
	EvidenceURLs string `csv:"evidence_urls"`
	HSCode       string `csv:"hs_code"`
}

func leadRowOf(e model.CanonicalEntity, hsCode string) leadCSVRow {
	return leadCSVRow{
		ID:           e.ID,
		Company:      e.CanonicalName,
		Country:      e.Country,
		Website:      e.Website,
		Grade:        string(e.Quality),
		Tier:         string(e.Tier),
		Score:        strconv.FormatFloat(e.Score, 'f', 3, 64),
		K1Count:      e.K1Count,
		K2Count:      e.K2Count,
		OEMReference: e.OEMReference,
		CapacityBand: string(e.CapacityBand),
		ContactEmail: e.ContactEmail,
		WhyCustomer:  strings.Join(e.MatchedKeywords, ", "),
		EvidenceURLs: strings.Join(evidenceURLs(e), "; "),
		HSCode:       hsCode,
	}
}

// evidenceURLs returns the entity's evidence URLs, deduplicated in
// first-seen order.
func evidenceURLs(e model.CanonicalEntity) []string {
	seen := make(map[string]bool, len(e.Evidence))
	var urls []string
	for _, ev := range e.Evidence {
		if ev.URL == "" || seen[ev.URL] {
			continue
		}
		seen[ev.URL] = true
		urls = append(urls, ev.URL)
	}
	return urls
}

// WriteLeadCSV writes one row per canonical entity. The header is
// written even when the entity list is empty.
func WriteLeadCSV(w io.Writer, entities []model.CanonicalEntity, hsCode string) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if err := enc.EncodeHeader(leadCSVRow{}); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, e := range entities {
		if err := enc.Encode(leadRowOf(e, hsCode)); err != nil {
			return eris.Wrap(err, "export: encode lead row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return nil
}

// auditCSVRow is one decision in the audit log. Merges fill both raw
// IDs and the similarity; rejections fill one ID and the stage.
type auditCSVRow struct {
	Decision   string `csv:"decision"`
	RawIDA     string `csv:"raw_id_a"`
	RawIDB     string `csv:"raw_id_b"`
	Stage      string `csv:"stage"`
	Reason     string `csv:"reason"`
	Similarity string `csv:"similarity"`
}

// auditRows flattens a run's decisions: one row per pairwise merge, one
// per tier veto, one per gate rejection.
func auditRows(entities []model.CanonicalEntity, rejections []model.GatedEntity) []auditCSVRow {
	var rows []auditCSVRow
	for _, e := range entities {
		for _, m := range e.MergeAudit {
			rows = append(rows, auditCSVRow{
				Decision:   "merge",
				RawIDA:     m.RawIDA,
				RawIDB:     m.RawIDB,
				Stage:      "dedupe",
				Reason:     m.Reason,
				Similarity: strconv.FormatFloat(m.Similarity, 'f', 3, 64),
			})
		}
		if e.Tier == model.TierReject {
			rows = append(rows, auditCSVRow{
				Decision: "reject",
				RawIDA:   e.ID,
				Stage:    "tier",
				Reason:   "negative_signal",
			})
		}
	}
	for _, r := range rejections {
		rows = append(rows, auditCSVRow{
			Decision: "reject",
			RawIDA:   r.ID,
			Stage:    "gate",
			Reason:   r.RejectionReason,
		})
	}
	return rows
}

// WriteAuditCSV writes the decision log.
func WriteAuditCSV(w io.Writer, rows []auditCSVRow) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if err := enc.EncodeHeader(auditCSVRow{}); err != nil {
		return eris.Wrap(err, "export: write audit header")
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return eris.Wrap(err, "export: encode audit row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush audit csv")
	}
	return nil
}
