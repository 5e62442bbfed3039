package vocab

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_CoreTerms(t *testing.T) {
	v := Default()

	assert.Contains(t, v.Positive, "stenter")
	assert.Contains(t, v.Positive, "ramöz")
	assert.Contains(t, v.Positive, "terbiye")
	assert.Contains(t, v.Negative, "trading company")
	assert.Contains(t, v.OEMBrands, "monforts")
	assert.Contains(t, v.LegalSuffixes, "a.ş.")
	assert.Contains(t, v.SectorSuffixes, "tekstil")
	assert.NotContains(t, v.LegalSuffixes, "tekstil")
	assert.Contains(t, v.BlacklistDomains, "alibaba.com")
}

func TestDefault_Deduplicated(t *testing.T) {
	v := Default()

	seen := map[string]int{}
	for _, term := range v.Positive {
		seen[term]++
	}
	for term, n := range seen {
		assert.Equal(t, 1, n, "duplicate positive term %q", term)
	}
}

func TestIsGeneric(t *testing.T) {
	v := Default()

	assert.True(t, v.IsGeneric("Textile"))
	assert.True(t, v.IsGeneric("  mills "))
	assert.False(t, v.IsGeneric("Vicunha"))
}

func TestPositiveTerms_IncludesBrands(t *testing.T) {
	v := Default()
	terms := v.PositiveTerms()

	assert.Contains(t, terms, "stenter")
	assert.Contains(t, terms, "monforts")
}

func TestLoad_EmptyDirReturnsDefaults(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)
	assert.Contains(t, v.Positive, "stenter")
}

func TestLoad_MergesPacks(t *testing.T) {
	dir := t.TempDir()
	pack := `
locale: it
positive:
  - finissaggio
  - tintoria
negative:
  - commercio
legal_suffixes:
  - s.n.c.
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "it.yaml"), []byte(pack), 0644))

	v, err := Load(dir)
	require.NoError(t, err)

	assert.Contains(t, v.Positive, "finissaggio")
	assert.Contains(t, v.Positive, "tintoria")
	assert.Contains(t, v.Negative, "commercio")
	assert.Contains(t, v.LegalSuffixes, "s.n.c.")
	// Built-ins survive the overlay.
	assert.Contains(t, v.Positive, "stenter")
}

func TestLoad_MissingDirErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoad_BadYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("positive: [unclosed"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestMerge_FoldsCase(t *testing.T) {
	v := Default()
	v.Merge(Pack{Positive: []string{"  STENTER ", "Kalandrieren"}})

	// Case-folded duplicate collapses into the existing entry.
	count := 0
	for _, term := range v.Positive {
		if term == "stenter" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Contains(t, v.Positive, "kalandrieren")
}
