// Package ringbuffer contains a bounded ring buffer.
package ringbuffer

import (
	"fmt"
	"sync"
	"time"
)

// RingBuffer is a bounded FIFO that can be shared between routines.
//
// Timeouts follow these rules:
//   - a negative timeout waits until the operation succeeds or the buffer is closed;
//   - a zero timeout performs a single non-blocking attempt;
//   - a positive timeout waits at most for the given duration.
type RingBuffer[T any] struct {
	mutex     sync.Mutex
	buffer    []T
	readIndex int
	count     int
	closed    bool
	event     *event
}

// New allocates a RingBuffer.
func New[T any](size int) (*RingBuffer[T], error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be greater than zero")
	}

	return &RingBuffer[T]{
		buffer: make([]T, size),
		event:  newEvent(),
	}, nil
}

// Close makes Pull() and Push() return false.
// Data that is still in the buffer can be retrieved with Drain().
func (r *RingBuffer[T]) Close() {
	r.mutex.Lock()
	r.closed = true
	r.mutex.Unlock()

	r.event.signal()
}

// Reset empties the buffer and restores its behavior after a Close().
func (r *RingBuffer[T]) Reset() {
	r.mutex.Lock()
	var zero T
	for i := range r.buffer {
		r.buffer[i] = zero
	}
	r.readIndex = 0
	r.count = 0
	r.closed = false
	r.mutex.Unlock()

	r.event.signal()
}

// Closed returns whether Close() has been called.
func (r *RingBuffer[T]) Closed() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.closed
}

// Len returns the number of entries in the buffer.
func (r *RingBuffer[T]) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.count
}

// Cap returns the size of the buffer.
func (r *RingBuffer[T]) Cap() int {
	return len(r.buffer)
}

// Push pushes data at the end of the buffer without waiting.
// It returns false if the buffer is full or closed.
func (r *RingBuffer[T]) Push(data T) bool {
	return r.PushTimeout(data, 0)
}

// PushTimeout pushes data at the end of the buffer,
// waiting for free space up to the given timeout.
func (r *RingBuffer[T]) PushTimeout(data T, timeout time.Duration) bool {
	var timer *time.Timer

	for {
		r.mutex.Lock()

		if r.closed {
			r.mutex.Unlock()
			return false
		}

		if r.count < len(r.buffer) {
			r.buffer[(r.readIndex+r.count)%len(r.buffer)] = data
			r.count++
			r.mutex.Unlock()
			r.event.signal()
			return true
		}

		if timeout == 0 {
			r.mutex.Unlock()
			return false
		}

		ch := r.event.wait()
		r.mutex.Unlock()

		if timer == nil && timeout > 0 {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}

		if !waitEvent(ch, timer) {
			return false
		}
	}
}

// Pull pulls data from the beginning of the buffer,
// waiting until data is available or the buffer is closed.
func (r *RingBuffer[T]) Pull() (T, bool) {
	return r.PullTimeout(-1)
}

// PullTimeout pulls data from the beginning of the buffer,
// waiting for data up to the given timeout.
func (r *RingBuffer[T]) PullTimeout(timeout time.Duration) (T, bool) {
	var timer *time.Timer

	for {
		r.mutex.Lock()

		if r.closed {
			r.mutex.Unlock()
			var zero T
			return zero, false
		}

		if r.count > 0 {
			data := r.popLocked()
			r.mutex.Unlock()
			r.event.signal()
			return data, true
		}

		if timeout == 0 {
			r.mutex.Unlock()
			var zero T
			return zero, false
		}

		ch := r.event.wait()
		r.mutex.Unlock()

		if timer == nil && timeout > 0 {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}

		if !waitEvent(ch, timer) {
			var zero T
			return zero, false
		}
	}
}

// Drain removes and returns every entry in the buffer, even after a Close().
func (r *RingBuffer[T]) Drain() []T {
	r.mutex.Lock()
	ret := make([]T, 0, r.count)
	for r.count > 0 {
		ret = append(ret, r.popLocked())
	}
	r.mutex.Unlock()

	r.event.signal()
	return ret
}

func (r *RingBuffer[T]) popLocked() T {
	var zero T
	data := r.buffer[r.readIndex]
	r.buffer[r.readIndex] = zero
	r.readIndex = (r.readIndex + 1) % len(r.buffer)
	r.count--
	return data
}

func waitEvent(ch <-chan struct{}, timer *time.Timer) bool {
	if timer == nil {
		<-ch
		return true
	}

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
