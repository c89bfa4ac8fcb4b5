// Package asyncprocessor contains an asynchronous processor.
package asyncprocessor

import (
	"context"

	"github.com/sunrisecam/streamcore/pkg/ringbuffer"
)

// Processor runs work in a dedicated routine.
//
// If Loop is set, it is called repeatedly until the processor is closed
// or Loop returns an error. Otherwise, the processor executes the callbacks
// passed to Push() in order, allowing to detach the routine that produces data
// from the routine that writes it.
type Processor struct {
	// size of the callback buffer. Used when Loop is nil.
	BufferSize int
	// called repeatedly. Must return when the context is canceled.
	Loop func(context.Context) error
	// called when Loop or a callback returns an error.
	OnError func(context.Context, error)

	running   bool
	buffer    *ringbuffer.RingBuffer[func() error]
	ctx       context.Context
	ctxCancel func()

	done chan struct{}
}

// Initialize initializes the processor.
func (w *Processor) Initialize() {
	if w.Loop == nil {
		w.buffer, _ = ringbuffer.New[func() error](w.BufferSize)
	}
	w.ctx, w.ctxCancel = context.WithCancel(context.Background())
	w.done = make(chan struct{})
}

// Close closes the processor and waits for its routine to exit.
func (w *Processor) Close() {
	w.ctxCancel()

	if w.buffer != nil {
		w.buffer.Close()
	}

	if w.running {
		<-w.done
	}
}

// Start starts the processor.
func (w *Processor) Start() {
	w.running = true
	go w.run()
}

// Done returns a channel that is closed when the routine exits.
func (w *Processor) Done() <-chan struct{} {
	return w.done
}

func (w *Processor) run() {
	defer close(w.done)

	err := w.runInner()
	if err != nil && w.OnError != nil {
		w.OnError(w.ctx, err)
	}
}

func (w *Processor) runInner() error {
	if w.Loop != nil {
		for {
			select {
			case <-w.ctx.Done():
				return nil
			default:
			}

			err := w.Loop(w.ctx)
			if err != nil {
				return err
			}
		}
	}

	for {
		cb, ok := w.buffer.Pull()
		if !ok {
			return nil
		}

		err := cb()
		if err != nil {
			return err
		}
	}
}

// Push pushes a callback to the queue.
// It returns false if the queue is full.
func (w *Processor) Push(cb func() error) bool {
	return w.buffer.Push(cb)
}
