package streamcore

import (
	"github.com/sunrisecam/streamcore/pkg/nalu"
	"github.com/sunrisecam/streamcore/pkg/slotqueue"
)

// SinkNALUCtx is the context of Sink.WriteNALU.
type SinkNALUCtx struct {
	Frame slotqueue.FrameDescriptor
	Codec nalu.Codec
	// NAL unit. It points to slot memory and is valid
	// until EndAccessUnit returns.
	NALU nalu.NALU
}

// SinkAccessUnitCtx is the context of Sink.EndAccessUnit.
type SinkAccessUnitCtx struct {
	Frame slotqueue.FrameDescriptor
	Codec nalu.Codec
	// whether the access unit was damaged and NAL units
	// written until now must be discarded.
	Dropped bool
}

// Sink receives NAL units from a Streamer.
// Methods are called by a single routine.
type Sink interface {
	// called for each NAL unit that passed the filter.
	WriteNALU(*SinkNALUCtx) error

	// called when an access unit is complete or has been dropped.
	EndAccessUnit(*SinkAccessUnitCtx) error
}
