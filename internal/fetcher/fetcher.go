// Package fetcher reads collector drop files into raw leads. A drop is
// a CSV, JSON (array or NDJSON), XLSX, or XML file, or a ZIP bundling
// those, delivered on local disk, over HTTP(S), or over FTP.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/model"
)

// Options configures drop-file reading.
type Options struct {
	Format            string        // csv|json|xlsx|xml|zip; empty or "auto" sniffs by extension
	Limit             int           // max leads across all sources, 0 = unlimited
	Timeout           time.Duration // remote fetch timeout
	RequestsPerSecond int           // HTTP rate limit
	UserAgent         string
}

// Downloader pulls a remote drop file to local disk.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Reader loads collector drops from local paths, HTTP(S), or FTP.
type Reader struct {
	opts Options
	http Downloader
	ftp  Downloader
}

// NewReader creates a Reader with HTTP and FTP fetchers built from opts.
func NewReader(opts Options) *Reader {
	return &Reader{
		opts: opts,
		http: NewHTTPFetcher(HTTPOptions{
			UserAgent:         opts.UserAgent,
			Timeout:           opts.Timeout,
			RequestsPerSecond: opts.RequestsPerSecond,
		}),
		ftp: NewFTPFetcher(FTPOptions{Timeout: opts.Timeout}),
	}
}

// ReadSources loads every source and concatenates the leads.
// Options.Limit caps the combined total.
func (r *Reader) ReadSources(ctx context.Context, sources []string) ([]model.RawLead, error) {
	var leads []model.RawLead
	for _, src := range sources {
		if r.opts.Limit > 0 && len(leads) >= r.opts.Limit {
			break
		}
		batch, err := r.ReadSource(ctx, src)
		if err != nil {
			return nil, err
		}
		leads = append(leads, batch...)
	}
	if r.opts.Limit > 0 && len(leads) > r.opts.Limit {
		leads = leads[:r.opts.Limit]
	}
	return leads, nil
}

// ReadSource loads one drop file. Remote sources are downloaded to a
// temp file first so format sniffing and ZIP handling work the same
// everywhere.
func (r *Reader) ReadSource(ctx context.Context, source string) ([]model.RawLead, error) {
	path := source
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		local, cleanup, err := downloadTemp(ctx, r.http, source)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		path = local
	case strings.HasPrefix(source, "ftp://"):
		local, cleanup, err := downloadTemp(ctx, r.ftp, source)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		path = local
	}

	leads, err := r.readLocal(ctx, path, r.opts.Format)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", source)
	}
	if r.opts.Limit > 0 && len(leads) > r.opts.Limit {
		leads = leads[:r.opts.Limit]
	}
	finalizeLeads(leads)

	zap.L().Info("fetcher: source read",
		zap.String("source", source),
		zap.Int("leads", len(leads)),
	)
	return leads, nil
}

// readLocal dispatches a local file to the reader for its format. ZIP
// entries come back through here with format forced to auto.
func (r *Reader) readLocal(ctx context.Context, path, format string) ([]model.RawLead, error) {
	if format == "" || format == "auto" {
		format = formatForExt(sourceExt(path))
	}

	switch format {
	case "csv":
		return readCSVFile(path)
	case "json":
		return readJSONFile(ctx, path)
	case "xlsx":
		return ReadXLSXFile(path, XLSXOptions{})
	case "xml":
		return readXMLFile(ctx, path)
	case "zip":
		return r.readZIP(ctx, path)
	default:
		return nil, eris.Errorf("unsupported format %q", format)
	}
}

// downloadTemp pulls a remote source into a temp file whose name keeps
// the source extension, so sniffing still works on the local copy.
func downloadTemp(ctx context.Context, d Downloader, source string) (string, func(), error) {
	tmp, err := os.CreateTemp("", "millscout-drop-*"+sourceExt(source))
	if err != nil {
		return "", nil, eris.Wrap(err, "fetcher: create temp file")
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	cleanup := func() { _ = os.Remove(tmpPath) }
	if _, err := d.DownloadToFile(ctx, source, tmpPath); err != nil {
		cleanup()
		return "", nil, eris.Wrapf(err, "fetcher: download %s", source)
	}
	return tmpPath, cleanup, nil
}

// sourceExt returns the lowercased extension of a path or URL.
func sourceExt(source string) string {
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Path != "" {
		return strings.ToLower(filepath.Ext(u.Path))
	}
	return strings.ToLower(filepath.Ext(source))
}

func formatForExt(ext string) string {
	switch ext {
	case ".csv":
		return "csv"
	case ".json", ".ndjson", ".jsonl":
		return "json"
	case ".xlsx":
		return "xlsx"
	case ".xml":
		return "xml"
	case ".zip":
		return "zip"
	default:
		return ""
	}
}

// leadRow is the flat record schema shared by the tabular readers.
// Collectors emit these columns; anything extra is ignored.
type leadRow struct {
	ID              string `csv:"id,omitempty" json:"id"`
	RawName         string `csv:"raw_name" json:"raw_name"`
	SourceType      string `csv:"source_type" json:"source_type"`
	Country         string `csv:"country,omitempty" json:"country"`
	Website         string `csv:"website,omitempty" json:"website"`
	EvidenceURL     string `csv:"evidence_url,omitempty" json:"evidence_url"`
	EvidenceSnippet string `csv:"evidence_snippet,omitempty" json:"evidence_snippet"`
	Email           string `csv:"email,omitempty" json:"email"`
	Phone           string `csv:"phone,omitempty" json:"phone"`
	FetchedAt       string `csv:"fetched_at,omitempty" json:"fetched_at"`
	ContentHash     string `csv:"content_hash,omitempty" json:"content_hash"`
}

func (r leadRow) toLead() model.RawLead {
	return model.RawLead{
		ID:              strings.TrimSpace(r.ID),
		RawName:         strings.TrimSpace(r.RawName),
		SourceType:      model.SourceType(strings.ToLower(strings.TrimSpace(r.SourceType))),
		Country:         strings.TrimSpace(r.Country),
		Website:         strings.TrimSpace(r.Website),
		EvidenceURL:     strings.TrimSpace(r.EvidenceURL),
		EvidenceSnippet: strings.TrimSpace(r.EvidenceSnippet),
		Email:           strings.TrimSpace(r.Email),
		Phone:           strings.TrimSpace(r.Phone),
		FetchedAt:       parseFetchedAt(r.FetchedAt),
		ContentHash:     strings.TrimSpace(r.ContentHash),
	}
}

// parseFetchedAt accepts the timestamp layouts collectors actually emit.
// Unparseable values are left zero and defaulted at finalize.
func parseFetchedAt(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	zap.L().Warn("fetcher: unparseable fetched_at", zap.String("value", s))
	return time.Time{}
}

// finalizeLeads assigns ingestion defaults: record IDs, fetch times, and
// content hashes for records whose collector omitted them.
func finalizeLeads(leads []model.RawLead) {
	now := time.Now().UTC()
	for i := range leads {
		if leads[i].ID == "" {
			leads[i].ID = uuid.New().String()
		}
		if leads[i].FetchedAt.IsZero() {
			leads[i].FetchedAt = now
		}
		if leads[i].ContentHash == "" {
			leads[i].ContentHash = contentHash(leads[i])
		}
	}
}

// contentHash fingerprints the mention content. 16 hex chars, same
// convention as canonical entity IDs.
func contentHash(l model.RawLead) string {
	sum := sha256.Sum256([]byte(l.RawName + "|" + l.EvidenceURL + "|" + l.EvidenceSnippet))
	return hex.EncodeToString(sum[:])[:16]
}
