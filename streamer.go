package streamcore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sunrisecam/streamcore/internal/asyncprocessor"
	"github.com/sunrisecam/streamcore/pkg/liberrors"
	"github.com/sunrisecam/streamcore/pkg/nalu"
	"github.com/sunrisecam/streamcore/pkg/slotqueue"
)

// StreamerStats are Streamer statistics.
type StreamerStats struct {
	AccessUnits        uint64
	DroppedAccessUnits uint64
	NALUs              uint64
	SinkErrors         uint64
}

// Streamer reads access units from the ready queue of a slot queue,
// extracts their NAL units and forwards them to sinks.
// Each slot is released into the free queue once its access unit has been handled.
//
// The access unit of a slot is Items[0][:Frame.Length].
type Streamer struct {
	//
	// parameters (all optional except Queue and Codec)
	//

	// queue to read from.
	Queue *slotqueue.Queue[[]byte]
	// codec of the stream.
	Codec nalu.Codec
	// name of the stream, used in logs and errors.
	Name string
	// destinations of NAL units.
	Sinks []Sink
	// how long to wait for a ready slot before checking whether the streamer is closing.
	// It defaults to 100ms.
	PollInterval time.Duration
	// how long to wait when releasing a slot.
	// It defaults to 1s.
	ReleaseTimeout time.Duration
	// maximum size of a NAL unit. Larger NAL units cause the access unit to be dropped.
	// Zero means no limit.
	MaxNALUSize int
	// filter of NAL units.
	// It defaults to nalu.KeepForStreaming.
	Keep func(nalu.Codec, uint8) bool
	// Logger. It defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	//
	// callbacks (all optional)
	//

	// called when an access unit cannot be decoded.
	OnDecodeError func(error)

	//
	// private
	//

	log       logrus.FieldLogger
	framer    *nalu.Framer
	processor *asyncprocessor.Processor

	accessUnits        atomic.Uint64
	droppedAccessUnits atomic.Uint64
	nalus              atomic.Uint64
	sinkErrors         atomic.Uint64
}

// Initialize initializes a Streamer.
func (s *Streamer) Initialize() error {
	if s.Queue == nil {
		return fmt.Errorf("queue not provided")
	}

	if s.Codec != nalu.CodecH264 && s.Codec != nalu.CodecH265 {
		return fmt.Errorf("unsupported codec: %v", s.Codec)
	}

	if s.PollInterval == 0 {
		s.PollInterval = 100 * time.Millisecond
	}
	if s.ReleaseTimeout == 0 {
		s.ReleaseTimeout = 1 * time.Second
	}
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}

	s.log = s.Logger.WithFields(logrus.Fields{
		"stream": s.Name,
		"codec":  s.Codec.String(),
	})

	s.framer = &nalu.Framer{
		Codec:       s.Codec,
		Name:        s.Name,
		Keep:        s.Keep,
		MaxNALUSize: s.MaxNALUSize,
	}

	s.processor = &asyncprocessor.Processor{
		Loop: s.runLoop,
		OnError: func(_ context.Context, err error) {
			s.log.Errorf("streamer stopped: %v", err)
		},
	}
	s.processor.Initialize()

	return nil
}

// Start starts the Streamer.
func (s *Streamer) Start() {
	s.processor.Start()
}

// Close stops the Streamer.
// The queue is not closed.
func (s *Streamer) Close() {
	s.processor.Close()
}

// Stats returns Streamer statistics.
func (s *Streamer) Stats() StreamerStats {
	return StreamerStats{
		AccessUnits:        s.accessUnits.Load(),
		DroppedAccessUnits: s.droppedAccessUnits.Load(),
		NALUs:              s.nalus.Load(),
		SinkErrors:         s.sinkErrors.Load(),
	}
}

func (s *Streamer) runLoop(_ context.Context) error {
	slot, err := s.Queue.AcquireReady(s.PollInterval)
	if err != nil {
		var timeoutErr liberrors.ErrTimeout
		if errors.As(err, &timeoutErr) {
			return nil
		}
		return err
	}

	s.handleSlot(slot)

	err = s.Queue.ReleaseFree(slot, s.ReleaseTimeout)
	if err != nil {
		s.log.Errorf("unable to release slot %d: %v", slot.Index(), err)
	}

	return nil
}

func (s *Streamer) handleSlot(slot *slotqueue.Slot[[]byte]) {
	au := nalu.AccessUnit{
		Data: slot.Items[0],
		Span: nalu.Span{Offset: 0, Length: slot.Frame.Length},
	}

	s.framer.Reset()

	for {
		res, err := s.framer.Next(au)
		if err != nil {
			s.droppedAccessUnits.Add(1)

			if s.OnDecodeError != nil {
				s.OnDecodeError(err)
			} else {
				s.log.Warnf("access unit %d dropped: %v", slot.Frame.Seq, err)
			}

			s.endAccessUnit(slot.Frame, true)
			return
		}

		if res.Keep {
			s.nalus.Add(1)

			for _, sink := range s.Sinks {
				err = sink.WriteNALU(&SinkNALUCtx{
					Frame: slot.Frame,
					Codec: s.Codec,
					NALU:  res.NALU,
				})
				if err != nil {
					s.sinkErrors.Add(1)
					s.log.Warnf("unable to write NAL unit: %v", err)
				}
			}
		}

		if res.Complete {
			s.accessUnits.Add(1)
			s.endAccessUnit(slot.Frame, false)
			return
		}
	}
}

func (s *Streamer) endAccessUnit(frame slotqueue.FrameDescriptor, dropped bool) {
	for _, sink := range s.Sinks {
		err := sink.EndAccessUnit(&SinkAccessUnitCtx{
			Frame:   frame,
			Codec:   s.Codec,
			Dropped: dropped,
		})
		if err != nil {
			s.sinkErrors.Add(1)
			s.log.Warnf("unable to write access unit: %v", err)
		}
	}
}
