package nalu

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// KeepForStreaming checks whether a NAL unit must be forwarded to streaming clients.
// Parameter sets and slices are kept, everything else is discarded.
func KeepForStreaming(codec Codec, typ uint8) bool {
	switch codec {
	case CodecH264:
		switch h264.NALUType(typ) {
		case h264.NALUTypeNonIDR, h264.NALUTypeIDR, h264.NALUTypeSPS, h264.NALUTypePPS:
			return true
		}

	case CodecH265:
		switch h265.NALUType(typ) {
		case h265.NALUType_TRAIL_R, h265.NALUType_IDR_W_RADL,
			h265.NALUType_VPS_NUT, h265.NALUType_SPS_NUT, h265.NALUType_PPS_NUT:
			return true
		}
	}

	return false
}

// IsSlice checks whether a NAL unit is a picture slice, that terminates
// the NAL units of interest of an access unit.
func IsSlice(codec Codec, typ uint8) bool {
	switch codec {
	case CodecH264:
		t := h264.NALUType(typ)
		return t == h264.NALUTypeNonIDR || t == h264.NALUTypeIDR

	case CodecH265:
		t := h265.NALUType(typ)
		return t == h265.NALUType_TRAIL_R || t == h265.NALUType_IDR_W_RADL
	}

	return false
}

// IsRandomAccess checks whether a NAL unit is an IDR slice.
func IsRandomAccess(codec Codec, typ uint8) bool {
	switch codec {
	case CodecH264:
		return h264.NALUType(typ) == h264.NALUTypeIDR

	case CodecH265:
		return h265.NALUType(typ) == h265.NALUType_IDR_W_RADL
	}

	return false
}
