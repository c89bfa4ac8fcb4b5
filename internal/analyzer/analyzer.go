// Package analyzer contains a pipeline that inspects access units.
package analyzer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/sunrisecam/streamcore/internal/paramsets"
	"github.com/sunrisecam/streamcore/pkg/nalu"
	"github.com/sunrisecam/streamcore/pkg/pipeline"
	"github.com/sunrisecam/streamcore/pkg/slotqueue"
)

// Report describes an access unit.
type Report struct {
	Seq       uint64 `json:"seq"`
	PTS       uint64 `json:"pts"`
	Codec     string `json:"codec"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	NALUTypes []int  `json:"naluTypes"`
	KeyFrame  bool   `json:"keyFrame"`
	Size      int    `json:"size"`
}

// Stats are Analyzer statistics.
type Stats struct {
	Pipeline pipeline.Stats
	Oversize uint64
}

type input struct {
	frame slotqueue.FrameDescriptor
	buf   []byte
	n     int
}

// Analyzer produces a Report for each submitted access unit.
// Access units are copied into the pipeline, therefore the caller
// can reuse their memory as soon as Submit returns.
type Analyzer struct {
	// codec of the stream.
	Codec nalu.Codec
	// maximum size of access units.
	// It defaults to 1 MiB.
	MaxAccessUnitSize int
	// length of the pipeline queues. See pipeline.Pipeline.
	InputQueueLength  int
	OutputQueueLength int
	RotationCount     int
	// Logger. It defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	// called for each report, from a dedicated routine.
	OnReport func(*Report) error

	log      logrus.FieldLogger
	p        *pipeline.Pipeline[input, Report]
	info     paramsets.Info
	oversize atomic.Uint64
}

// Initialize initializes the Analyzer.
func (a *Analyzer) Initialize() error {
	if a.Codec != nalu.CodecH264 && a.Codec != nalu.CodecH265 {
		return fmt.Errorf("unsupported codec: %v", a.Codec)
	}

	if a.MaxAccessUnitSize == 0 {
		a.MaxAccessUnitSize = 1024 * 1024
	}
	if a.Logger == nil {
		a.Logger = logrus.StandardLogger()
	}
	a.log = a.Logger.WithField("component", "analyzer")

	a.p = &pipeline.Pipeline[input, Report]{
		Name:              "analyzer",
		InputQueueLength:  a.InputQueueLength,
		OutputQueueLength: a.OutputQueueLength,
		RotationCount:     a.RotationCount,
		Logger:            a.Logger,
		NewInput: func() input {
			return input{buf: make([]byte, a.MaxAccessUnitSize)}
		},
		Process: a.process,
		Consume: a.consume,
	}
	return a.p.Initialize()
}

// Start starts the Analyzer.
func (a *Analyzer) Start() {
	a.p.Start()
}

// Close stops the Analyzer.
func (a *Analyzer) Close() {
	a.p.Close()
}

// Stats returns Analyzer statistics.
func (a *Analyzer) Stats() Stats {
	return Stats{
		Pipeline: a.p.Stats(),
		Oversize: a.oversize.Load(),
	}
}

// Submit enqueues an access unit. It never blocks.
// It returns false if the access unit has been dropped.
func (a *Analyzer) Submit(frame slotqueue.FrameDescriptor, au []byte) bool {
	if len(au) > a.MaxAccessUnitSize {
		a.oversize.Add(1)
		a.log.Debugf("access unit %d is too big (%d > %d), skip it", frame.Seq, len(au), a.MaxAccessUnitSize)
		return false
	}

	return a.p.Submit(func(in *input) {
		in.frame = frame
		in.n = copy(in.buf, au)
	})
}

func (a *Analyzer) process(_ context.Context, in *input, out *Report) error {
	*out = Report{
		Seq:       in.frame.Seq,
		PTS:       in.frame.PTS,
		Codec:     a.Codec.String(),
		Width:     in.frame.Width,
		Height:    in.frame.Height,
		NALUTypes: out.NALUTypes[:0],
		Size:      in.n,
	}

	nalus, err := nalu.Split(in.buf[:in.n], a.Codec)
	if err != nil {
		return err
	}

	for _, n := range nalus {
		out.NALUTypes = append(out.NALUTypes, int(n.Type))

		if nalu.IsRandomAccess(a.Codec, n.Type) {
			out.KeyFrame = true
		}

		if paramsets.IsSPS(a.Codec, n.Type) {
			info, err2 := paramsets.ParseSPS(a.Codec, n.Payload)
			if err2 != nil {
				a.log.Warnf("unable to parse SPS: %v", err2)
			} else {
				a.info = info
			}
		}
	}

	if a.info.Width != 0 {
		out.Width = a.info.Width
		out.Height = a.info.Height
	}

	return nil
}

func (a *Analyzer) consume(_ context.Context, out *Report) error {
	if a.OnReport == nil {
		return nil
	}
	return a.OnReport(out)
}
