package fetcher

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "drop.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestReadZIP_MixedBundle(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"exhibitors.csv": "raw_name,source_type\nAnatex,fair_exhibitor\nMertex,fair_exhibitor\n",
		"imports.json":   `[{"raw_name": "Ozkan Tekstil", "source_type": "trade_import"}]`,
		"readme.txt":     "collector notes, not lead data",
	})

	r := NewReader(Options{})
	leads, err := r.readZIP(context.Background(), zipPath)
	require.NoError(t, err)
	require.Len(t, leads, 3)

	names := make([]string, len(leads))
	for i, l := range leads {
		names[i] = l.RawName
	}
	assert.ElementsMatch(t, []string{"Anatex", "Mertex", "Ozkan Tekstil"}, names)
}

func TestReadZIP_SkipsNestedArchive(t *testing.T) {
	inner := createTestZIP(t, map[string]string{
		"more.csv": "raw_name,source_type\nHidden,fair_exhibitor\n",
	})
	innerBytes, err := os.ReadFile(inner)
	require.NoError(t, err)

	zipPath := createTestZIP(t, map[string]string{
		"leads.csv": "raw_name,source_type\nAnatex,fair_exhibitor\n",
		"inner.zip": string(innerBytes),
	})

	r := NewReader(Options{})
	leads, err := r.readZIP(context.Background(), zipPath)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "Anatex", leads[0].RawName)
}

func TestReadZIP_EntryError(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"bad.json": `[{"raw_name": 42}]`,
	})

	r := NewReader(Options{})
	_, err := r.readZIP(context.Background(), zipPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip: entry bad.json")
}

func TestExtractZIP_MultiFile(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"file1.csv": "a,b,c",
		"file2.csv": "d,e,f",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Len(t, extracted, 2)

	data, err := os.ReadFile(filepath.Join(destDir, "file1.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", string(data))
}

func TestExtractZIP_ZipSlipPrevention(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "malicious.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	fw, err := w.Create("../../../etc/passwd")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("malicious")) //nolint:errcheck
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	destDir := t.TempDir()
	_, err = ExtractZIP(zipPath, destDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip slip")
}

func TestExtractZIP_WithSubdirectory(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "nested.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	_, err = w.Create("batch1/")
	require.NoError(t, err)
	fw, err := w.Create("batch1/leads.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("raw_name,source_type\nAnatex,fair_exhibitor\n")) //nolint:errcheck
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	// Directory entries return no path.
	assert.Len(t, extracted, 1)

	data, err := os.ReadFile(filepath.Join(destDir, "batch1", "leads.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Anatex")
}

func TestExtractZIP_InvalidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notazip.zip")
	require.NoError(t, os.WriteFile(path, []byte("this is not a zip"), 0o644))

	_, err := ExtractZIP(path, t.TempDir())
	require.Error(t, err)
}
