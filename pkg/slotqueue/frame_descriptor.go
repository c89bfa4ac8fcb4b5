package slotqueue

// FrameDescriptor describes the content of a slot.
// It is written by the producer before publishing the slot
// and must be considered read-only by the consumer.
type FrameDescriptor struct {
	// codec identifier.
	Type int

	// channel or pipeline identifier.
	Key int

	// sequence number.
	Seq uint64

	// presentation timestamp, in microseconds.
	PTS uint64

	// length of the payload, in bytes.
	Length int

	// wall clock time, in seconds.
	Time int64

	Framerate int
	Width     int
	Height    int
}
