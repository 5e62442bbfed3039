package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/millscout-cli/internal/model"
)

func testEntities() []model.CanonicalEntity {
	return []model.CanonicalEntity{
		{
			ID:            "a1b2c3d4e5f60718",
			CanonicalName: "Anatex Tekstil",
			Country:       "Turkey",
			Website:       "anatex.com.tr",
			Quality:       model.GradeA,
			Tier:          model.TierGolden,
			Score:         0.875,
			K1Count:       2,
			K2Count:       1,
			OEMReference:  true,
			CapacityBand:  model.CapacityMid,
			ContactEmail:  "sales@anatex.com.tr",
			MatchedKeywords: []string{
				"boyahane", "stenter",
			},
			Evidence: []model.EvidenceItem{
				{Kind: model.KindK1, Subtype: model.EvidenceOEMReference, URL: "https://oem.example/refs/anatex"},
				{Kind: model.KindK1, Subtype: model.EvidenceTradeImport, URL: "https://customs.example/rows/991"},
				{Kind: model.KindK2, Subtype: model.EvidenceProductionPage, URL: "https://anatex.com.tr/uretim"},
			},
		},
		{
			ID:            "ffee00aa11bb22cc",
			CanonicalName: "Mertex Boya",
			Country:       "Turkey",
			Quality:       model.GradeB,
			Tier:          model.TierResearch,
			Score:         0.31,
			CapacityBand:  model.CapacityUnknown,
		},
	}
}

func parseCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriteLeadCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteLeadCSV(&buf, testEntities(), "8451.90")
	require.NoError(t, err)

	records := parseCSV(t, buf.Bytes())
	require.Len(t, records, 3)

	assert.Equal(t, []string{
		"id", "company", "country", "website", "grade", "tier", "score",
		"k1_count", "k2_count", "oem_reference", "capacity_band",
		"contact_email", "why_customer", "evidence_urls", "hs_code",
	}, records[0])

	anatex := records[1]
	assert.Equal(t, "a1b2c3d4e5f60718", anatex[0])
	assert.Equal(t, "Anatex Tekstil", anatex[1])
	assert.Equal(t, "A", anatex[4])
	assert.Equal(t, "TIER1_GOLDEN", anatex[5])
	assert.Equal(t, "0.875", anatex[6])
	assert.Equal(t, "2", anatex[7])
	assert.Equal(t, "1", anatex[8])
	assert.Equal(t, "true", anatex[9])
	assert.Equal(t, "mid", anatex[10])
	assert.Equal(t, "sales@anatex.com.tr", anatex[11])
	assert.Equal(t, "boyahane, stenter", anatex[12])
	assert.Equal(t, "https://oem.example/refs/anatex; https://customs.example/rows/991; https://anatex.com.tr/uretim", anatex[13])
	assert.Equal(t, "8451.90", anatex[14])

	mertex := records[2]
	assert.Equal(t, "Mertex Boya", mertex[1])
	assert.Equal(t, "TIER3_RESEARCH", mertex[5])
	assert.Equal(t, "0.310", mertex[6])
	assert.Equal(t, "false", mertex[9])
	assert.Empty(t, mertex[13])
}

func TestWriteLeadCSV_EmptyWritesHeader(t *testing.T) {
	var buf bytes.Buffer
	err := WriteLeadCSV(&buf, nil, "8451.90")
	require.NoError(t, err)

	records := parseCSV(t, buf.Bytes())
	require.Len(t, records, 1)
	assert.Equal(t, "id", records[0][0])
}

func TestEvidenceURLs_Dedupes(t *testing.T) {
	e := model.CanonicalEntity{
		Evidence: []model.EvidenceItem{
			{Subtype: model.EvidenceProductionPage, URL: "https://anatex.com.tr/uretim"},
			{Subtype: model.EvidenceWebsiteKeyword, URL: "https://anatex.com.tr/uretim"},
			{Subtype: model.EvidenceOEMReference, URL: "https://oem.example/refs"},
			{Subtype: model.EvidenceCertification, URL: ""},
		},
	}

	urls := evidenceURLs(e)
	assert.Equal(t, []string{"https://anatex.com.tr/uretim", "https://oem.example/refs"}, urls)
}

func TestAuditRows(t *testing.T) {
	entities := []model.CanonicalEntity{
		{
			ID:   "a1b2c3d4e5f60718",
			Tier: model.TierGolden,
			MergeAudit: []model.MergeAudit{
				{RawIDA: "raw-1", RawIDB: "raw-2", Reason: model.MergeReasonWebsiteDomain, Similarity: 1.0},
				{RawIDA: "raw-1", RawIDB: "raw-3", Reason: model.MergeReasonNameSimilarity, Similarity: 0.87},
			},
		},
		{
			ID:             "ffee00aa11bb22cc",
			Tier:           model.TierReject,
			NegativeSignal: true,
		},
	}
	rejections := []model.GatedEntity{
		{
			RawLead:         model.RawLead{ID: "raw-9"},
			Quality:         model.GradeReject,
			RejectionReason: "single_generic_word",
		},
	}

	rows := auditRows(entities, rejections)
	require.Len(t, rows, 4)

	assert.Equal(t, "merge", rows[0].Decision)
	assert.Equal(t, "raw-1", rows[0].RawIDA)
	assert.Equal(t, "raw-2", rows[0].RawIDB)
	assert.Equal(t, "dedupe", rows[0].Stage)
	assert.Equal(t, "website_domain", rows[0].Reason)
	assert.Equal(t, "1.000", rows[0].Similarity)

	assert.Equal(t, "0.870", rows[1].Similarity)

	assert.Equal(t, "reject", rows[2].Decision)
	assert.Equal(t, "ffee00aa11bb22cc", rows[2].RawIDA)
	assert.Equal(t, "tier", rows[2].Stage)
	assert.Equal(t, "negative_signal", rows[2].Reason)

	assert.Equal(t, "reject", rows[3].Decision)
	assert.Equal(t, "raw-9", rows[3].RawIDA)
	assert.Equal(t, "gate", rows[3].Stage)
	assert.Equal(t, "single_generic_word", rows[3].Reason)
}

func TestWriteAuditCSV(t *testing.T) {
	rows := []auditCSVRow{
		{Decision: "merge", RawIDA: "raw-1", RawIDB: "raw-2", Stage: "dedupe", Reason: "website_domain", Similarity: "1.000"},
		{Decision: "reject", RawIDA: "raw-9", Stage: "gate", Reason: "headline_shape"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteAuditCSV(&buf, rows))

	records := parseCSV(t, buf.Bytes())
	require.Len(t, records, 3)
	assert.Equal(t, []string{"decision", "raw_id_a", "raw_id_b", "stage", "reason", "similarity"}, records[0])
	assert.Equal(t, []string{"merge", "raw-1", "raw-2", "dedupe", "website_domain", "1.000"}, records[1])
	assert.Equal(t, []string{"reject", "raw-9", "", "gate", "headline_shape", ""}, records[2])
}
