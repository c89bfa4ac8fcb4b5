package nalu

// Codec is a video codec whose bitstream is made of NAL units.
type Codec int

// codecs.
const (
	CodecH264 Codec = iota + 1
	CodecH265
)

// String implements fmt.Stringer.
func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecH265:
		return "H265"
	}
	return "unknown"
}
