package tier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/millscout-cli/internal/model"
)

// Machine and headcount mentions in evidence excerpts, e.g. "12
// stenters installed" or "over 1.200 employees". Numbers may carry
// thousands separators; counts read left to right.
var (
	machineCountRe = regexp.MustCompile(`(?i)\b(\d{1,3})(?:\s*x)?\s+(?:adet\s+)?(?:stenters?|tenters?|ramöz|ramoz|finishing lines?|dyeing lines?|coating lines?|production lines?)\b`)
	headcountRe    = regexp.MustCompile(`(?i)\b(\d{1,3}(?:[.,]\d{3})+|\d{1,6})\+?\s+(?:employees?|workers?|staff|personnel|çalışan)`)
)

// Band thresholds. Machine counts are the direct capacity signal and
// win over headcounts when both appear.
const (
	largeMachineCount = 10
	midMachineCount   = 4
	largeHeadcount    = 500
	midHeadcount      = 100
)

// BandFromEvidence derives a coarse capacity band from machine or
// headcount mentions across the evidence excerpts. Nothing parseable
// means unknown, never a guess.
func BandFromEvidence(items []model.EvidenceItem) model.CapacityBand {
	machines, heads := 0, 0
	for _, it := range items {
		m, h := scanCounts(it.Excerpt)
		if m > machines {
			machines = m
		}
		if h > heads {
			heads = h
		}
	}

	switch {
	case machines >= largeMachineCount:
		return model.CapacityLarge
	case machines >= midMachineCount:
		return model.CapacityMid
	case machines > 0:
		return model.CapacitySmall
	case heads >= largeHeadcount:
		return model.CapacityLarge
	case heads >= midHeadcount:
		return model.CapacityMid
	case heads > 0:
		return model.CapacitySmall
	default:
		return model.CapacityUnknown
	}
}

func scanCounts(text string) (machines, heads int) {
	if text == "" {
		return 0, 0
	}
	for _, m := range machineCountRe.FindAllStringSubmatch(text, -1) {
		if n, ok := parseCount(m[1]); ok && n > machines {
			machines = n
		}
	}
	for _, m := range headcountRe.FindAllStringSubmatch(text, -1) {
		if n, ok := parseCount(m[1]); ok && n > heads {
			heads = n
		}
	}
	return machines, heads
}

func parseCount(s string) (int, bool) {
	s = strings.NewReplacer(".", "", ",", "").Replace(s)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
