// Package nalu contains utilities to extract NAL units from Annex-B access units.
package nalu

import (
	"github.com/sunrisecam/streamcore/pkg/liberrors"
)

// NALU is a NAL unit extracted from an access unit.
// It is a view of the memory it was extracted from and is valid
// until that memory is reused.
type NALU struct {
	// length of the start code that precedes the NAL unit, 3 or 4.
	StartCodeLen int
	// NAL unit type.
	Type uint8
	// forbidden_zero_bit.
	ForbiddenBit bool
	// nal_ref_idc. Always zero with H265.
	RefIDC uint8
	// position of the NAL unit, start code included.
	Span Span
	// NAL unit, start code excluded.
	Payload []byte

	prefixed []byte
}

// Bytes returns the NAL unit preceded by its original start code.
func (n NALU) Bytes() []byte {
	return n.prefixed
}

// StartCodeLen returns the length of the start code at the beginning of buf:
// 4 for 00 00 00 01, 3 for 00 00 01, 0 if there's no start code.
func StartCodeLen(buf []byte) int {
	if len(buf) >= 4 && buf[0] == 0 && buf[1] == 0 && buf[2] == 0 && buf[3] == 1 {
		return 4
	}
	if len(buf) >= 3 && buf[0] == 0 && buf[1] == 0 && buf[2] == 1 {
		return 3
	}
	return 0
}

// Next extracts the NAL unit that starts at offset.
// A start code must be present at offset. The NAL unit ends where the next
// start code begins or, if there's no other start code, at the end of buf.
// It returns the NAL unit and the number of consumed bytes, start code included.
func Next(buf []byte, offset int, codec Codec) (NALU, int, error) {
	if offset < 0 || offset >= len(buf) {
		return NALU{}, 0, liberrors.ErrParse{Offset: offset, Reason: "offset out of range"}
	}

	scl := StartCodeLen(buf[offset:])
	if scl == 0 {
		return NALU{}, 0, liberrors.ErrParse{Offset: offset, Reason: "start code not found"}
	}

	start := offset + scl
	end := findNextStartCode(buf, start)

	if end == start {
		return NALU{}, 0, liberrors.ErrParse{Offset: offset, Reason: "empty NAL unit"}
	}

	n := NALU{
		StartCodeLen: scl,
		Span:         Span{Offset: offset, Length: end - offset},
		Payload:      buf[start:end],
		prefixed:     buf[offset:end],
	}
	decodeHeader(&n, codec)

	return n, end - offset, nil
}

// findNextStartCode returns the position of the first start code after start,
// or len(buf). A start code preceded by more than one zero byte is a 4-byte
// start code, further zero bytes belong to the previous NAL unit.
func findNextStartCode(buf []byte, start int) int {
	zeroCount := 0

	for i := start; i < len(buf); i++ {
		switch buf[i] {
		case 0:
			zeroCount++

		case 1:
			if zeroCount >= 3 {
				return i - 3
			}
			if zeroCount == 2 {
				return i - 2
			}
			zeroCount = 0

		default:
			zeroCount = 0
		}
	}

	return len(buf)
}

func decodeHeader(n *NALU, codec Codec) {
	b := n.Payload[0]
	n.ForbiddenBit = (b & 0x80) != 0

	switch codec {
	case CodecH265:
		n.Type = (b & 0x7E) >> 1

	default:
		n.Type = b & 0x1F
		n.RefIDC = (b & 0x60) >> 5
	}
}

// Split extracts all NAL units of an access unit.
func Split(au []byte, codec Codec) ([]NALU, error) {
	if len(au) == 0 {
		return nil, liberrors.ErrParse{Offset: 0, Reason: "empty access unit"}
	}

	var ret []NALU
	offset := 0

	for offset < len(au) {
		n, consumed, err := Next(au, offset, codec)
		if err != nil {
			return nil, err
		}

		ret = append(ret, n)
		offset += consumed
	}

	return ret, nil
}
