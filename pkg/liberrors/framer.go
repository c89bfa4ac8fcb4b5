package liberrors

import (
	"fmt"
)

// ErrParse is returned when a NAL unit cannot be extracted from an access unit.
type ErrParse struct {
	Offset int
	Reason string
}

// Error implements the error interface.
func (e ErrParse) Error() string {
	return fmt.Sprintf("unable to parse NAL unit at offset %d: %s", e.Offset, e.Reason)
}

// ErrBoundsViolation is returned when a NAL unit is not contained
// in the access unit it was extracted from.
type ErrBoundsViolation struct {
	Tag          string
	SourceOffset int
	SourceLength int
	NALUOffset   int
	NALULength   int
}

// Error implements the error interface.
func (e ErrBoundsViolation) Error() string {
	return fmt.Sprintf("[%s] source data has been overwritten: data is [%d - %d], but NAL unit is [%d - %d]",
		e.Tag,
		e.SourceOffset, e.SourceOffset+e.SourceLength,
		e.NALUOffset, e.NALUOffset+e.NALULength)
}
