package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/model"
)

// ReadJSON decodes a JSON drop into raw leads. Drops arrive either as
// one array or as NDJSON with one object per line; the first non-space
// byte decides which.
func ReadJSON(ctx context.Context, r io.Reader) ([]model.RawLead, error) {
	br := bufio.NewReader(r)

	first, err := firstNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "json: read")
	}

	if first == '[' {
		return decodeLeadArray(ctx, br)
	}
	return decodeNDJSON(ctx, br)
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\n', '\r':
			_, _ = br.ReadByte()
		default:
			return b[0], nil
		}
	}
}

// decodeLeadArray walks a JSON array one element at a time. A malformed
// element poisons the decoder state, so array errors are fatal.
func decodeLeadArray(ctx context.Context, r io.Reader) ([]model.RawLead, error) {
	decoder := json.NewDecoder(r)

	tok, err := decoder.Token()
	if err != nil {
		return nil, eris.Wrap(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, eris.Errorf("json: expected '[', got %v", tok)
	}

	var leads []model.RawLead
	for decoder.More() {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "json: context cancelled")
		}

		var row leadRow
		if err := decoder.Decode(&row); err != nil {
			return nil, eris.Wrap(err, "json: decode element")
		}
		leads = append(leads, row.toLead())
	}

	if _, err := decoder.Token(); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "json: read closing token")
	}
	return leads, nil
}

// decodeNDJSON reads one JSON object per line. Lines are independent, so
// a malformed line is logged and skipped.
func decodeNDJSON(ctx context.Context, r io.Reader) ([]model.RawLead, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var leads []model.RawLead
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "json: context cancelled")
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var row leadRow
		if err := json.Unmarshal(line, &row); err != nil {
			zap.L().Warn("json: skipping malformed line", zap.Error(err))
			continue
		}
		leads = append(leads, row.toLead())
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "json: scan")
	}
	return leads, nil
}

func readJSONFile(ctx context.Context, path string) ([]model.RawLead, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "json: open file")
	}
	defer f.Close() //nolint:errcheck

	return ReadJSON(ctx, f)
}
