package bias

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResults is returned when scoring a table with no records
	ErrEmptyResults = errors.New("bias: empty results table")

	// ErrTooFewSamples is returned when k exceeds the N-1 leave-one-out neighbors
	ErrTooFewSamples = errors.New("bias: too few samples for neighbor count")
)

// UndefinedBiasError reports a pass in which no prediction matched either cue,
// so shape bias is 0/0. K is the neighbor count for embedding passes, 0 for
// direct passes.
type UndefinedBiasError struct {
	Total int
	K     int
}

func (e *UndefinedBiasError) Error() string {
	if e.K > 0 {
		return fmt.Sprintf("bias: shape bias undefined at k=%d, none of %d predictions matched shape or texture", e.K, e.Total)
	}
	return fmt.Sprintf("bias: shape bias undefined, none of %d predictions matched shape or texture", e.Total)
}

// DimensionMismatchError reports an output vector whose length differs from
// the first one in the pass.
type DimensionMismatchError struct {
	Index    int
	Path     string
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("bias: sample %d (%s) has dimension %d, expected %d", e.Index, e.Path, e.Got, e.Expected)
	}
	return fmt.Sprintf("bias: sample %d has dimension %d, expected %d", e.Index, e.Got, e.Expected)
}
