package model

import (
	"github.com/rotisserie/eris"
)

// Per-record error sentinels. Records failing with one of these are
// dropped and counted; they never abort the batch.
var (
	ErrEmptyName          = eris.New("raw name is empty")
	ErrUnknownSourceType  = eris.New("unknown source type")
	ErrMissingEvidenceURL = eris.New("evidence_url is required")

	// ErrAmbiguousMerge is advisory: similarity landed in the grey band,
	// so the pair goes to human review instead of merging.
	ErrAmbiguousMerge = eris.New("ambiguous merge candidate")
)

// ErrorKind buckets per-record errors for the run summary.
type ErrorKind string

const (
	ErrorKindEmptyName      ErrorKind = "empty_name"
	ErrorKindUnknownSource  ErrorKind = "unknown_source_type"
	ErrorKindMissingURL     ErrorKind = "missing_evidence_url"
	ErrorKindAmbiguousMerge ErrorKind = "ambiguous_merge"
	ErrorKindOther          ErrorKind = "other"
)

// ClassifyError maps a per-record error to its summary bucket.
func ClassifyError(err error) ErrorKind {
	switch {
	case eris.Is(err, ErrEmptyName):
		return ErrorKindEmptyName
	case eris.Is(err, ErrUnknownSourceType):
		return ErrorKindUnknownSource
	case eris.Is(err, ErrMissingEvidenceURL):
		return ErrorKindMissingURL
	case eris.Is(err, ErrAmbiguousMerge):
		return ErrorKindAmbiguousMerge
	default:
		return ErrorKindOther
	}
}
