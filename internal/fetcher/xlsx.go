package fetcher

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/millscout-cli/internal/model"
)

// XLSXOptions configures workbook reading.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// ReadXLSXFile reads a workbook drop. The first row must be a header
// using the CSV schema's column names; "Raw Name" and "raw_name" both
// address the same field. Fully blank rows are skipped.
func ReadXLSXFile(path string, opts XLSXOptions) ([]model.RawLead, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := pickSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	cols := headerIndex(rowStrings(sheet.Rows[0]))
	if _, ok := cols["raw_name"]; !ok {
		return nil, eris.Errorf("xlsx: sheet %q has no raw_name column", sheet.Name)
	}

	var leads []model.RawLead
	for _, row := range sheet.Rows[1:] {
		cells := rowStrings(row)
		if allBlank(cells) {
			continue
		}

		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(cells) {
				return ""
			}
			return cells[i]
		}

		lr := leadRow{
			ID:              get("id"),
			RawName:         get("raw_name"),
			SourceType:      get("source_type"),
			Country:         get("country"),
			Website:         get("website"),
			EvidenceURL:     get("evidence_url"),
			EvidenceSnippet: get("evidence_snippet"),
			Email:           get("email"),
			Phone:           get("phone"),
			FetchedAt:       get("fetched_at"),
			ContentHash:     get("content_hash"),
		}
		leads = append(leads, lr.toLead())
	}
	return leads, nil
}

func pickSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

// headerIndex maps normalized column names to positions. Duplicate
// headers keep the first occurrence.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		name = strings.ReplaceAll(name, " ", "_")
		if name == "" {
			continue
		}
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	return idx
}

func allBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
