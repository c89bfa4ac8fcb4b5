package ringbuffer

import (
	"sync"
)

// event wakes up every routine waiting on it.
// A waiter must obtain the channel with wait() before releasing the lock
// that protects the condition it is waiting for, otherwise a signal can be missed.
type event struct {
	mutex sync.Mutex
	ch    chan struct{}
}

func newEvent() *event {
	return &event{
		ch: make(chan struct{}),
	}
}

func (e *event) signal() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	close(e.ch)
	e.ch = make(chan struct{})
}

func (e *event) wait() <-chan struct{} {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return e.ch
}
