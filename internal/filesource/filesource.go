// Package filesource contains a producer that reads access units from an Annex-B file.
package filesource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sunrisecam/streamcore/internal/asyncprocessor"
	"github.com/sunrisecam/streamcore/internal/paramsets"
	"github.com/sunrisecam/streamcore/pkg/liberrors"
	"github.com/sunrisecam/streamcore/pkg/nalu"
	"github.com/sunrisecam/streamcore/pkg/slotqueue"
)

// ErrEndOfFile is returned through OnError when the file has been read
// entirely and Loop is false.
var ErrEndOfFile = errors.New("end of file")

// Stats are Source statistics.
type Stats struct {
	Published uint64
	Dropped   uint64
}

// Source reads an Annex-B H264 or H265 file and publishes its access units
// into a slot queue at the configured frame rate.
//
// Access units are delimited by VCL NAL units: a VCL NAL unit closes the
// access unit that contains it, together with the parameter sets that precede it.
type Source struct {
	//
	// parameters (all optional except Path, Queue and Codec)
	//

	// path of the file.
	Path string
	// queue to write to.
	Queue *slotqueue.Queue[[]byte]
	// codec of the file.
	Codec nalu.Codec
	// channel identifier, written into the Key field of frame descriptors.
	Channel int
	// frame rate. It defaults to the one in the SPS or, if missing, to 30.
	Framerate float64
	// restart from the beginning when the file ends.
	Loop bool
	// how long to wait for a free slot. Zero means that access units
	// are dropped immediately when there are no free slots.
	AcquireTimeout time.Duration
	// Logger. It defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	//
	// callbacks (all optional)
	//

	// called after an access unit has been published.
	// The buffer must not be modified.
	OnAccessUnit func(slotqueue.FrameDescriptor, []byte)
	// called when reading stops because of an error or because the file ended.
	OnError func(error)

	//
	// private
	//

	log       logrus.FieldLogger
	aus       [][]byte
	width     int
	height    int
	interval  time.Duration
	processor *asyncprocessor.Processor

	pos       int
	seq       uint64
	startTime time.Time

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Initialize reads the file and splits it into access units.
func (s *Source) Initialize() error {
	if s.Queue == nil {
		return fmt.Errorf("queue not provided")
	}

	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	s.log = s.Logger.WithFields(logrus.Fields{
		"source": s.Path,
		"codec":  s.Codec.String(),
	})

	buf, err := os.ReadFile(s.Path)
	if err != nil {
		return err
	}

	err = s.load(buf)
	if err != nil {
		return err
	}

	if s.Framerate <= 0 {
		s.Framerate = 30
	}
	s.interval = time.Duration(float64(time.Second) / s.Framerate)

	s.log.Infof("%d access units loaded, %dx%d, %.2f fps",
		len(s.aus), s.width, s.height, s.Framerate)

	s.processor = &asyncprocessor.Processor{
		Loop: s.runLoop,
		OnError: func(_ context.Context, err error) {
			if s.OnError != nil {
				s.OnError(err)
			} else if !errors.Is(err, ErrEndOfFile) {
				s.log.Errorf("source stopped: %v", err)
			}
		},
	}
	s.processor.Initialize()

	return nil
}

func (s *Source) load(buf []byte) error {
	if s.Codec != nalu.CodecH264 && s.Codec != nalu.CodecH265 {
		return fmt.Errorf("unsupported codec: %v", s.Codec)
	}

	nalus, err := nalu.Split(buf, s.Codec)
	if err != nil {
		return err
	}

	start := -1

	for _, n := range nalus {
		if start < 0 {
			start = n.Span.Offset
		}

		if paramsets.IsSPS(s.Codec, n.Type) && s.width == 0 {
			info, err2 := paramsets.ParseSPS(s.Codec, n.Payload)
			if err2 != nil {
				s.log.Warnf("unable to parse SPS: %v", err2)
			} else {
				s.width = info.Width
				s.height = info.Height
				if s.Framerate <= 0 && info.FPS > 0 {
					s.Framerate = info.FPS
				}
			}
		}

		if isVCL(s.Codec, n.Type) {
			s.aus = append(s.aus, buf[start:n.Span.End()])
			start = -1
		}
	}

	if len(s.aus) == 0 {
		return fmt.Errorf("no access units found")
	}

	return nil
}

func isVCL(codec nalu.Codec, typ uint8) bool {
	if codec == nalu.CodecH265 {
		return typ <= 31
	}
	return typ >= 1 && typ <= 5
}

// Start starts publishing access units.
func (s *Source) Start() {
	s.startTime = time.Now()
	s.processor.Start()
}

// Close stops the Source.
func (s *Source) Close() {
	s.processor.Close()
}

// Done returns a channel that is closed when the Source stops.
func (s *Source) Done() <-chan struct{} {
	return s.processor.Done()
}

// Stats returns Source statistics.
func (s *Source) Stats() Stats {
	return Stats{
		Published: s.published.Load(),
		Dropped:   s.dropped.Load(),
	}
}

func (s *Source) runLoop(ctx context.Context) error {
	if s.pos == len(s.aus) {
		if !s.Loop {
			return ErrEndOfFile
		}
		s.pos = 0
	}

	t := time.NewTimer(time.Until(s.startTime.Add(time.Duration(s.seq) * s.interval)))
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
		return nil
	}

	au := s.aus[s.pos]
	seq := s.seq
	s.pos++
	s.seq++

	err := s.publish(au, seq)
	if err != nil {
		var closedErr liberrors.ErrQueueClosed
		if errors.As(err, &closedErr) {
			return err
		}

		s.dropped.Add(1)
		s.log.Debugf("access unit %d dropped: %v", seq, err)
	}

	return nil
}

func (s *Source) publish(au []byte, seq uint64) error {
	slot, err := s.Queue.AcquireFree(s.AcquireTimeout)
	if err != nil {
		return err
	}

	if len(au) > len(slot.Items[0]) {
		s.Queue.ReleaseFree(slot, 0) //nolint:errcheck
		return fmt.Errorf("access unit size (%d) is greater than slot size (%d)",
			len(au), len(slot.Items[0]))
	}

	now := time.Now()

	copy(slot.Items[0], au)

	frame := slotqueue.FrameDescriptor{
		Type:      int(s.Codec),
		Key:       s.Channel,
		Seq:       seq,
		PTS:       uint64(float64(seq) * 1e6 / s.Framerate),
		Length:    len(au),
		Time:      now.Unix(),
		Framerate: int(s.Framerate + 0.5),
		Width:     s.width,
		Height:    s.height,
	}
	slot.Frame = frame

	err = s.Queue.TryPublishReady(slot)
	if err != nil {
		s.Queue.ReleaseFree(slot, 0) //nolint:errcheck
		return err
	}

	s.published.Add(1)

	if s.OnAccessUnit != nil {
		s.OnAccessUnit(frame, au)
	}

	return nil
}
