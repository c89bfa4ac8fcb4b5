package slotqueue

// Slot is a reusable buffer that is owned by one of the free queue,
// the ready queue or the routine that acquired it.
type Slot[T any] struct {
	// items of the slot.
	Items []T

	// frame attached to the slot by the producer.
	Frame FrameDescriptor

	// whether the slot has been published at least once.
	Recycled bool

	index int
}

// Index returns the position of the slot inside the queue.
func (s *Slot[T]) Index() int {
	return s.index
}
