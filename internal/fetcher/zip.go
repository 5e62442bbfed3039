package fetcher

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/model"
)

// readZIP extracts a drop bundle and reads every supported entry.
// Unsupported entries and nested archives are skipped.
func (r *Reader) readZIP(ctx context.Context, zipPath string) ([]model.RawLead, error) {
	destDir, err := os.MkdirTemp("", "millscout-zip-")
	if err != nil {
		return nil, eris.Wrap(err, "zip: create temp dir")
	}
	defer os.RemoveAll(destDir) //nolint:errcheck

	files, err := ExtractZIP(zipPath, destDir)
	if err != nil {
		return nil, err
	}

	var leads []model.RawLead
	for _, path := range files {
		ext := sourceExt(path)
		if ext == ".zip" || formatForExt(ext) == "" {
			zap.L().Debug("zip: skipping unsupported entry",
				zap.String("entry", filepath.Base(path)),
			)
			continue
		}
		batch, err := r.readLocal(ctx, path, "auto")
		if err != nil {
			return nil, eris.Wrapf(err, "zip: entry %s", filepath.Base(path))
		}
		leads = append(leads, batch...)
	}
	return leads, nil
}

// ExtractZIP extracts all files from a ZIP archive to the destination
// directory. Returns the list of extracted file paths.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer zr.Close() //nolint:errcheck

	var extracted []string
	for _, f := range zr.File {
		path, err := extractZIPEntry(f, destDir)
		if err != nil {
			return extracted, err
		}
		if path != "" {
			extracted = append(extracted, path)
		}
	}
	return extracted, nil
}

// extractZIPEntry extracts a single zip.File to the destination directory.
// Returns the extracted file path, or empty string for directories.
func extractZIPEntry(f *zip.File, destDir string) (string, error) {
	// Sanitize against zip slip
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return "", eris.Wrap(err, "zip: create directory")
		}
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}

	return destPath, nil
}
