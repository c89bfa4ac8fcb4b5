// Package liberrors contains errors returned by the library.
package liberrors

import (
	"fmt"
	"time"
)

// ErrAllocation is returned when the resources of a slot item cannot be initialized.
type ErrAllocation struct {
	Slot int
	Item int
	Err  error
}

// Error implements the error interface.
func (e ErrAllocation) Error() string {
	return fmt.Sprintf("unable to initialize item %d of slot %d: %v", e.Item, e.Slot, e.Err)
}

// Unwrap returns the underlying error.
func (e ErrAllocation) Unwrap() error {
	return e.Err
}

// ErrTimeout is returned when a queue operation does not complete in time.
type ErrTimeout struct {
	Producer string
	Consumer string
	Op       string
	Waited   time.Duration
}

// Error implements the error interface.
func (e ErrTimeout) Error() string {
	return fmt.Sprintf("[%s -> %s] %s timed out after %v", e.Producer, e.Consumer, e.Op, e.Waited)
}

// ErrQueueFull is returned by non-blocking publishes when the destination queue is full.
type ErrQueueFull struct {
	Producer string
	Consumer string
}

// Error implements the error interface.
func (e ErrQueueFull) Error() string {
	return fmt.Sprintf("[%s -> %s] queue is full", e.Producer, e.Consumer)
}

// ErrQueueClosed is returned when operating on a closed queue.
type ErrQueueClosed struct{}

// Error implements the error interface.
func (e ErrQueueClosed) Error() string {
	return "queue is closed"
}

// ErrSlotNotOwned is returned when a slot is handed back by someone who does not hold it.
type ErrSlotNotOwned struct {
	Slot int
}

// Error implements the error interface.
func (e ErrSlotNotOwned) Error() string {
	return fmt.Sprintf("slot %d is not checked out", e.Slot)
}
