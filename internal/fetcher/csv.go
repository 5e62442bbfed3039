package fetcher

import (
	"encoding/csv"
	"errors"
	"io"
	"os"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/model"
)

// ReadCSV decodes a header-addressed CSV drop into raw leads. Rows that
// fail to decode are logged and skipped; field-level validation happens
// at the gate, where it is counted into the run summary.
func ReadCSV(r io.Reader) ([]model.RawLead, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true

	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "csv: read header")
	}

	var leads []model.RawLead
	for {
		var row leadRow
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Row-level parse errors skip the row; anything else means
			// the reader itself is broken.
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				zap.L().Warn("csv: skipping undecodable row",
					zap.Int("line", pe.Line),
					zap.Error(err),
				)
				continue
			}
			return leads, eris.Wrap(err, "csv: decode row")
		}
		leads = append(leads, row.toLead())
	}
	return leads, nil
}

func readCSVFile(path string) ([]model.RawLead, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open file")
	}
	defer f.Close() //nolint:errcheck

	return ReadCSV(f)
}
