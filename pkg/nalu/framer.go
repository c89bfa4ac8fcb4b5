package nalu

import (
	"fmt"

	"github.com/sunrisecam/streamcore/pkg/liberrors"
)

// AccessUnit is an encoded frame stored inside a memory region
// that can be reused by a producer.
type AccessUnit struct {
	// memory region, usually a buffer slot.
	Data []byte
	// position of the access unit inside Data.
	Span Span
}

// ValidateSpan checks whether a NAL unit lies entirely inside an access unit.
func ValidateSpan(n NALU, au AccessUnit) bool {
	return au.Span.Contains(n.Span)
}

// FramerResult is the result of Framer.Next.
type FramerResult struct {
	NALU NALU
	// whether the NAL unit passed the Keep filter.
	Keep bool
	// whether the access unit has no more NAL units of interest.
	Complete bool
}

// Framer extracts NAL units from access units one at a time.
//
// The caller invokes Next() with the same access unit until the access unit
// is complete or an error is returned. Any error resets the framer and the rest
// of the access unit must be discarded.
type Framer struct {
	// codec of the stream.
	Codec Codec
	// name of the stream, used in errors.
	Name string
	// filter of NAL units.
	// It defaults to KeepForStreaming.
	Keep func(Codec, uint8) bool
	// maximum size of a NAL unit. Zero means no limit.
	MaxNALUSize int

	offset int
}

// Reset discards the position inside the current access unit.
func (f *Framer) Reset() {
	f.offset = 0
}

// Offset returns the position of the next NAL unit, relative to the access unit.
func (f *Framer) Offset() int {
	return f.offset
}

// Next extracts the next NAL unit of an access unit.
func (f *Framer) Next(au AccessUnit) (FramerResult, error) {
	region := Span{Offset: 0, Length: len(au.Data)}

	if !region.Contains(au.Span) || f.offset >= au.Span.Length {
		err := liberrors.ErrBoundsViolation{
			Tag:          f.Name,
			SourceOffset: region.Offset,
			SourceLength: region.Length,
			NALUOffset:   au.Span.Offset + f.offset,
			NALULength:   au.Span.Length - f.offset,
		}
		f.offset = 0
		return FramerResult{}, err
	}

	buf := au.Data[au.Span.Offset:au.Span.End()]

	n, consumed, err := Next(buf, f.offset, f.Codec)
	if err != nil {
		f.offset = 0
		return FramerResult{}, err
	}

	n.Span.Offset += au.Span.Offset

	if !ValidateSpan(n, au) {
		f.offset = 0
		return FramerResult{}, liberrors.ErrBoundsViolation{
			Tag:          f.Name,
			SourceOffset: au.Span.Offset,
			SourceLength: au.Span.Length,
			NALUOffset:   n.Span.Offset,
			NALULength:   n.Span.Length,
		}
	}

	if f.MaxNALUSize > 0 && len(n.Payload) > f.MaxNALUSize {
		f.offset = 0
		return FramerResult{}, liberrors.ErrParse{
			Offset: n.Span.Offset,
			Reason: fmt.Sprintf("NALU size (%d) is too big (maximum is %d)", len(n.Payload), f.MaxNALUSize),
		}
	}

	f.offset += consumed

	keep := f.Keep
	if keep == nil {
		keep = KeepForStreaming
	}

	res := FramerResult{
		NALU: n,
		Keep: keep(f.Codec, n.Type),
	}

	if IsSlice(f.Codec, n.Type) || f.offset >= au.Span.Length {
		res.Complete = true
		f.offset = 0
	}

	return res, nil
}
