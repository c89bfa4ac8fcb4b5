package nalu

import (
	"bytes"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/stretchr/testify/require"

	"github.com/sunrisecam/streamcore/pkg/liberrors"
)

func TestStartCodeLen(t *testing.T) {
	for _, ca := range []struct {
		name string
		buf  []byte
		len  int
	}{
		{"4 bytes", []byte{0, 0, 0, 1, 0x67}, 4},
		{"3 bytes", []byte{0, 0, 1, 0x67}, 3},
		{"missing", []byte{0, 1, 0x67}, 0},
		{"zeroes", []byte{0, 0, 0, 0}, 0},
		{"empty", []byte{}, 0},
	} {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.len, StartCodeLen(ca.buf))
		})
	}
}

func TestTypeClassification(t *testing.T) {
	n, _, err := Next([]byte{0, 0, 0, 1, 0x67, 0x42}, 0, CodecH264)
	require.NoError(t, err)
	require.Equal(t, uint8(7), n.Type)
	require.Equal(t, uint8(3), n.RefIDC)
	require.Equal(t, false, n.ForbiddenBit)

	n, _, err = Next([]byte{0, 0, 0, 1, 0x40, 0x01}, 0, CodecH265)
	require.NoError(t, err)
	require.Equal(t, uint8(32), n.Type)
	require.Equal(t, uint8(0), n.RefIDC)

	n, _, err = Next([]byte{0, 0, 1, 0xE5}, 0, CodecH264)
	require.NoError(t, err)
	require.Equal(t, uint8(5), n.Type)
	require.Equal(t, true, n.ForbiddenBit)
}

func TestNext(t *testing.T) {
	buf := []byte{
		0, 0, 0, 1, 0x67, 0x01, 0x02,
		0, 0, 1, 0x68, 0x03,
		0, 0, 0, 1, 0x65, 0x04, 0x05, 0x06,
	}

	n, consumed, err := Next(buf, 0, CodecH264)
	require.NoError(t, err)
	require.Equal(t, 7, consumed)
	require.Equal(t, 4, n.StartCodeLen)
	require.Equal(t, Span{Offset: 0, Length: 7}, n.Span)
	require.Equal(t, []byte{0x67, 0x01, 0x02}, n.Payload)
	require.Equal(t, buf[:7], n.Bytes())

	n, consumed, err = Next(buf, 7, CodecH264)
	require.NoError(t, err)
	require.Equal(t, 5, consumed)
	require.Equal(t, 3, n.StartCodeLen)
	require.Equal(t, uint8(8), n.Type)

	// the last NAL unit extends to the end of the buffer.
	n, consumed, err = Next(buf, 12, CodecH264)
	require.NoError(t, err)
	require.Equal(t, 8, consumed)
	require.Equal(t, []byte{0x65, 0x04, 0x05, 0x06}, n.Payload)
}

func TestNextErrors(t *testing.T) {
	for _, ca := range []struct {
		name   string
		buf    []byte
		offset int
		err    string
	}{
		{
			"no start code",
			[]byte{0x67, 0, 0, 1, 0x68},
			0,
			"unable to parse NAL unit at offset 0: start code not found",
		},
		{
			"empty at end",
			[]byte{0, 0, 0, 1},
			0,
			"unable to parse NAL unit at offset 0: empty NAL unit",
		},
		{
			"empty before start code",
			[]byte{0, 0, 1, 0, 0, 1, 0x68},
			0,
			"unable to parse NAL unit at offset 0: empty NAL unit",
		},
		{
			"offset out of range",
			[]byte{0, 0, 1, 0x68},
			4,
			"unable to parse NAL unit at offset 4: offset out of range",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			_, _, err := Next(ca.buf, ca.offset, CodecH264)
			require.EqualError(t, err, ca.err)

			var parseErr liberrors.ErrParse
			require.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestSplitRoundTrip(t *testing.T) {
	for _, ca := range []struct {
		name string
		buf  []byte
	}{
		{
			"mixed start codes",
			[]byte{
				0, 0, 0, 1, 0x67, 0x42, 0xc0, 0x28,
				0, 0, 1, 0x68, 0xce, 0x3c, 0x80,
				0, 0, 0, 1, 0x06, 0x05,
				0, 0, 1, 0x65, 0x88, 0x84, 0x00, 0x33,
			},
		},
		{
			"trailing zeroes",
			[]byte{
				0, 0, 0, 1, 0x67, 0x42,
				0, 0, 0, 0, 1, 0x41, 0x9a,
			},
		},
		{
			"single",
			[]byte{0, 0, 1, 0x41},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			nalus, err := Split(ca.buf, CodecH264)
			require.NoError(t, err)

			var out []byte
			for _, n := range nalus {
				out = append(out, n.Bytes()...)
			}
			require.Equal(t, ca.buf, out)
		})
	}
}

func TestSplitMarshaled(t *testing.T) {
	in := h264.AnnexB{
		{0x67, 0x42, 0xc0, 0x28, 0xd9},
		{0x68, 0xce, 0x3c, 0x80},
		{0x65, 0x88, 0x84, 0x00, 0x33, 0xff},
	}

	buf, err := in.Marshal()
	require.NoError(t, err)

	nalus, err := Split(buf, CodecH264)
	require.NoError(t, err)
	require.Len(t, nalus, 3)

	for i, n := range nalus {
		require.Equal(t, []byte(in[i]), n.Payload)
	}

	require.Equal(t, buf, bytes.Join(func() [][]byte {
		ret := make([][]byte, len(nalus))
		for i, n := range nalus {
			ret[i] = n.Bytes()
		}
		return ret
	}(), nil))
}

func TestSplitErrors(t *testing.T) {
	_, err := Split(nil, CodecH264)
	require.EqualError(t, err, "unable to parse NAL unit at offset 0: empty access unit")

	_, err = Split([]byte{1, 2, 3}, CodecH264)
	require.EqualError(t, err, "unable to parse NAL unit at offset 0: start code not found")
}

func TestSpanContains(t *testing.T) {
	const base = 1000

	for _, ca := range []struct {
		name  string
		outer Span
		inner Span
		ok    bool
	}{
		{"inside", Span{base, 100}, Span{base + 10, 20}, true},
		{"equal", Span{base, 100}, Span{base, 100}, true},
		{"tail overflow", Span{base, 100}, Span{base + 90, 20}, false},
		{"before", Span{base, 100}, Span{base - 1, 10}, false},
		{"after", Span{base, 100}, Span{base + 100, 1}, false},
		{"empty inner", Span{base, 100}, Span{base, 0}, false},
		{"empty outer", Span{base, 0}, Span{base, 1}, false},
	} {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.ok, ca.outer.Contains(ca.inner))
		})
	}
}

func TestValidateSpan(t *testing.T) {
	au := AccessUnit{
		Data: make([]byte, 200),
		Span: Span{Offset: 50, Length: 100},
	}

	require.Equal(t, false, ValidateSpan(NALU{Span: Span{Offset: 140, Length: 20}}, au))
	require.Equal(t, true, ValidateSpan(NALU{Span: Span{Offset: 140, Length: 10}}, au))
}

func TestKeepForStreaming(t *testing.T) {
	var h264Kept []uint8
	var h265Kept []uint8

	for typ := 0; typ < 64; typ++ {
		if KeepForStreaming(CodecH264, uint8(typ)) {
			h264Kept = append(h264Kept, uint8(typ))
		}
		if KeepForStreaming(CodecH265, uint8(typ)) {
			h265Kept = append(h265Kept, uint8(typ))
		}
	}

	require.Equal(t, []uint8{1, 5, 7, 8}, h264Kept)
	require.Equal(t, []uint8{1, 19, 32, 33, 34}, h265Kept)
	require.Equal(t, false, KeepForStreaming(Codec(0), 1))
}

func TestCodecString(t *testing.T) {
	require.Equal(t, "H264", CodecH264.String())
	require.Equal(t, "H265", CodecH265.String())
	require.Equal(t, "unknown", Codec(9).String())
}
