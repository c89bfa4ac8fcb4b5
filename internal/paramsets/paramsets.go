// Package paramsets contains utilities to read parameter sets.
package paramsets

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/sunrisecam/streamcore/pkg/nalu"
)

// Info contains the properties of a stream that are declared in its SPS.
type Info struct {
	Width  int
	Height int
	FPS    float64
}

// IsSPS checks whether a NAL unit type is a SPS.
func IsSPS(codec nalu.Codec, typ uint8) bool {
	switch codec {
	case nalu.CodecH264:
		return h264.NALUType(typ) == h264.NALUTypeSPS

	case nalu.CodecH265:
		return h265.NALUType(typ) == h265.NALUType_SPS_NUT
	}

	return false
}

// ParseSPS decodes a SPS. The start code must not be present.
func ParseSPS(codec nalu.Codec, buf []byte) (Info, error) {
	switch codec {
	case nalu.CodecH264:
		var sps h264.SPS
		err := sps.Unmarshal(buf)
		if err != nil {
			return Info{}, err
		}
		return Info{Width: sps.Width(), Height: sps.Height(), FPS: sps.FPS()}, nil

	case nalu.CodecH265:
		var sps h265.SPS
		err := sps.Unmarshal(buf)
		if err != nil {
			return Info{}, err
		}
		return Info{Width: sps.Width(), Height: sps.Height(), FPS: sps.FPS()}, nil
	}

	return Info{}, fmt.Errorf("unsupported codec: %v", codec)
}
