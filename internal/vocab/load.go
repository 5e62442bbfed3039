package vocab

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Pack is one YAML overlay file. Terms are appended to the built-in
// defaults; packs cannot remove built-in terms.
type Pack struct {
	Locale           string   `yaml:"locale"`
	Positive         []string `yaml:"positive"`
	Negative         []string `yaml:"negative"`
	OEMBrands        []string `yaml:"oem_brands"`
	LegalSuffixes    []string `yaml:"legal_suffixes"`
	SectorSuffixes   []string `yaml:"sector_suffixes"`
	GenericTerms     []string `yaml:"generic_terms"`
	BlacklistDomains []string `yaml:"blacklist_domains"`
}

// Load returns the built-in vocabulary merged with every *.yaml pack in
// dir. An empty dir returns the defaults unchanged; a missing dir is an
// error only when explicitly configured.
func Load(dir string) (*Vocabulary, error) {
	v := Default()
	if dir == "" {
		return v, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "vocab: read pack dir %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		pack, err := LoadPack(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		v.Merge(pack)
		zap.L().Debug("vocab: merged pack",
			zap.String("file", name),
			zap.String("locale", pack.Locale),
		)
	}

	v.reindex()
	return v, nil
}

// LoadPack parses a single YAML pack file.
func LoadPack(path string) (Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pack{}, eris.Wrapf(err, "vocab: read pack %s", path)
	}

	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return Pack{}, eris.Wrapf(err, "vocab: parse pack %s", path)
	}
	return pack, nil
}

// Merge appends a pack's terms. Callers batching several packs should
// rely on Load, which reindexes once at the end.
func (v *Vocabulary) Merge(p Pack) {
	v.Positive = append(v.Positive, p.Positive...)
	v.Negative = append(v.Negative, p.Negative...)
	v.OEMBrands = append(v.OEMBrands, p.OEMBrands...)
	v.LegalSuffixes = append(v.LegalSuffixes, p.LegalSuffixes...)
	v.SectorSuffixes = append(v.SectorSuffixes, p.SectorSuffixes...)
	v.GenericTerms = append(v.GenericTerms, p.GenericTerms...)
	v.BlacklistDomains = append(v.BlacklistDomains, p.BlacklistDomains...)
	v.reindex()
}
