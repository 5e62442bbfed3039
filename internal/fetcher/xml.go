package fetcher

import (
	"context"
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/millscout-cli/internal/model"
)

// memberRecord is one <member> element of an association export.
type memberRecord struct {
	Name        string `xml:"name"`
	Country     string `xml:"country"`
	Website     string `xml:"website"`
	Email       string `xml:"email"`
	Phone       string `xml:"phone"`
	ProfileURL  string `xml:"profile_url"`
	Description string `xml:"description"`
}

// ReadXML decodes an association member export. The exports declare
// regional charsets (windows-1254 and friends), resolved via htmlindex.
// Each member becomes an association_member lead with its profile page
// as the evidence URL.
func ReadXML(ctx context.Context, r io.Reader) ([]model.RawLead, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var leads []model.RawLead
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "xml: context cancelled")
		}

		tok, err := decoder.Token()
		if err == io.EOF {
			return leads, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "xml: read token")
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "member" {
			continue
		}

		var m memberRecord
		if err := decoder.DecodeElement(&m, &se); err != nil {
			return nil, eris.Wrap(err, "xml: decode member")
		}

		leads = append(leads, model.RawLead{
			RawName:         strings.TrimSpace(m.Name),
			SourceType:      model.SourceAssociationMember,
			Country:         strings.TrimSpace(m.Country),
			Website:         strings.TrimSpace(m.Website),
			EvidenceURL:     strings.TrimSpace(m.ProfileURL),
			EvidenceSnippet: strings.TrimSpace(m.Description),
			Email:           strings.TrimSpace(m.Email),
			Phone:           strings.TrimSpace(m.Phone),
		})
	}
}

func readXMLFile(ctx context.Context, path string) ([]model.RawLead, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "xml: open file")
	}
	defer f.Close() //nolint:errcheck

	return ReadXML(ctx, f)
}
