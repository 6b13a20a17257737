package flatten

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTrimResult          = errors.New("no record trims to a locus region")
	ErrLowConfidenceAlignment   = errors.New("alignment identity below the accepted range")
	ErrAmbiguousFlatRecordState = errors.New("more than one flat record for organism and locus")
	ErrInconsistentAncestry     = errors.New("artifact content differs from stored records")
)

// PairError attaches the organism and locus to a pair failure.
type PairError struct {
	Organism string
	Locus    string
	Err      error
}

func (e *PairError) Error() string {
	return fmt.Sprintf("%s / %s: %v", e.Organism, e.Locus, e.Err)
}

func (e *PairError) Unwrap() error { return e.Err }
