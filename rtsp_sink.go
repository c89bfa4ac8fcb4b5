package streamcore

import (
	"crypto/rand"
	"fmt"

	"github.com/bluenviron/gortsplib/v5"
	"github.com/bluenviron/gortsplib/v5/pkg/base"
	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/bluenviron/gortsplib/v5/pkg/format"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/sunrisecam/streamcore/pkg/nalu"
)

const (
	rtspVideoClockRate = 90000
)

func randUint32() (uint32, error) {
	var b [4]byte
	_, err := rand.Read(b[:])
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// multiplyAndDivide computes v * m / d without overflowing.
func multiplyAndDivide(v, m, d uint64) uint64 {
	secs := v / d
	dec := v % d
	return (secs*m + dec*m/d)
}

type rtpEncoder interface {
	Encode([][]byte) ([]*rtp.Packet, error)
}

type rtpPacketWriter interface {
	WritePacketRTP(*description.Media, *rtp.Packet) error
}

type rtspServerHandler struct {
	s *RTSPSink
}

// called when a connection is opened.
func (h *rtspServerHandler) OnConnOpen(_ *gortsplib.ServerHandlerOnConnOpenCtx) {
	h.s.log.Debugf("conn opened")
}

// called when a connection is closed.
func (h *rtspServerHandler) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	h.s.log.Debugf("conn closed (%v)", ctx.Error)
}

// called when receiving a DESCRIBE request.
func (h *rtspServerHandler) OnDescribe(
	_ *gortsplib.ServerHandlerOnDescribeCtx,
) (*base.Response, *gortsplib.ServerStream, error) {
	return &base.Response{
		StatusCode: base.StatusOK,
	}, h.s.stream, nil
}

// called when receiving a SETUP request.
func (h *rtspServerHandler) OnSetup(
	_ *gortsplib.ServerHandlerOnSetupCtx,
) (*base.Response, *gortsplib.ServerStream, error) {
	return &base.Response{
		StatusCode: base.StatusOK,
	}, h.s.stream, nil
}

// called when receiving a PLAY request.
func (h *rtspServerHandler) OnPlay(_ *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	h.s.log.Infof("reader started playing")

	return &base.Response{
		StatusCode: base.StatusOK,
	}, nil
}

// RTSPSink is a Sink that serves the stream to RTSP readers.
// NAL units of each access unit are collected and written as RTP packets
// when the access unit ends.
type RTSPSink struct {
	// address of the RTSP listener.
	// It defaults to ":8554".
	Address string
	// codec of the stream.
	Codec nalu.Codec
	// Logger. It defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	log         logrus.FieldLogger
	server      *gortsplib.Server
	stream      *gortsplib.ServerStream
	desc        *description.Session
	writer      rtpPacketWriter
	encoder     rtpEncoder
	randomStart uint32
	au          [][]byte
}

// Initialize starts the RTSP server.
func (s *RTSPSink) Initialize() error {
	if s.Address == "" {
		s.Address = ":8554"
	}
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	s.log = s.Logger.WithField("sink", "rtsp")

	var forma format.Format
	var err error

	switch s.Codec {
	case nalu.CodecH264:
		f := &format.H264{
			PayloadTyp:        96,
			PacketizationMode: 1,
		}
		forma = f
		s.encoder, err = f.CreateEncoder()

	case nalu.CodecH265:
		f := &format.H265{
			PayloadTyp: 96,
		}
		forma = f
		s.encoder, err = f.CreateEncoder()

	default:
		return fmt.Errorf("unsupported codec: %v", s.Codec)
	}
	if err != nil {
		return err
	}

	s.randomStart, err = randUint32()
	if err != nil {
		return err
	}

	s.desc = &description.Session{
		Medias: []*description.Media{{
			Type:    description.MediaTypeVideo,
			Formats: []format.Format{forma},
		}},
	}

	// a writer is already present in tests.
	if s.writer != nil {
		return nil
	}

	s.server = &gortsplib.Server{
		Handler:     &rtspServerHandler{s: s},
		RTSPAddress: s.Address,
	}
	err = s.server.Start()
	if err != nil {
		return err
	}

	s.stream = &gortsplib.ServerStream{
		Server: s.server,
		Desc:   s.desc,
	}
	err = s.stream.Initialize()
	if err != nil {
		s.server.Close()
		return err
	}

	s.writer = s.stream

	s.log.Infof("RTSP server is ready on %s", s.Address)

	return nil
}

// Close closes the RTSP server.
func (s *RTSPSink) Close() {
	if s.stream != nil {
		s.stream.Close()
	}
	if s.server != nil {
		s.server.Close()
	}
}

// WriteNALU implements Sink.
func (s *RTSPSink) WriteNALU(ctx *SinkNALUCtx) error {
	s.au = append(s.au, ctx.NALU.Payload)
	return nil
}

// EndAccessUnit implements Sink.
func (s *RTSPSink) EndAccessUnit(ctx *SinkAccessUnitCtx) error {
	au := s.au
	s.au = s.au[:0]

	if ctx.Dropped || len(au) == 0 {
		return nil
	}

	packets, err := s.encoder.Encode(au)
	if err != nil {
		return err
	}

	// PTS is in microseconds
	ts := s.randomStart + uint32(multiplyAndDivide(ctx.Frame.PTS, rtspVideoClockRate, 1000000))

	medi := s.desc.Medias[0]

	for _, pkt := range packets {
		pkt.Timestamp = ts

		err = s.writer.WritePacketRTP(medi, pkt)
		if err != nil {
			return err
		}
	}

	return nil
}
