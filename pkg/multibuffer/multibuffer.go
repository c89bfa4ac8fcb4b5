// Package multibuffer contains a set of rotating buffers.
package multibuffer

// MultiBuffer implements software multi buffering, that allows to reuse
// existing buffers without creating new ones.
//
// The current buffer can be written while the buffers returned
// by the previous Len()-1 rotations are still being read by someone else.
type MultiBuffer[T any] struct {
	buffers []T
	cur     uint64
}

// New allocates a MultiBuffer with count buffers created by newBuf.
func New[T any](count int, newBuf func() T) *MultiBuffer[T] {
	buffers := make([]T, count)
	if newBuf != nil {
		for i := range buffers {
			buffers[i] = newBuf()
		}
	}

	return &MultiBuffer[T]{
		buffers: buffers,
	}
}

// NewBytes allocates a MultiBuffer of byte slices.
func NewBytes(count int, size int) *MultiBuffer[[]byte] {
	return New(count, func() []byte {
		return make([]byte, size)
	})
}

// Next gets the current buffer and sets the next buffer as the current one.
func (mb *MultiBuffer[T]) Next() T {
	ret := mb.buffers[mb.cur%uint64(len(mb.buffers))]
	mb.cur++
	return ret
}

// Current returns the current buffer.
func (mb *MultiBuffer[T]) Current() *T {
	return &mb.buffers[mb.Index()]
}

// Advance sets the next buffer as the current one.
func (mb *MultiBuffer[T]) Advance() {
	mb.cur++
}

// Index returns the index of the current buffer.
func (mb *MultiBuffer[T]) Index() int {
	return int(mb.cur % uint64(len(mb.buffers)))
}

// At returns the buffer with the given index.
func (mb *MultiBuffer[T]) At(i int) *T {
	return &mb.buffers[i]
}

// Len returns the number of buffers.
func (mb *MultiBuffer[T]) Len() int {
	return len(mb.buffers)
}
