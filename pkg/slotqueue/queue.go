// Package slotqueue contains a bounded queue pair that transfers
// the ownership of preallocated slots between a producer and a consumer.
package slotqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sunrisecam/streamcore/pkg/liberrors"
	"github.com/sunrisecam/streamcore/pkg/ringbuffer"
)

type slotState int

const (
	slotStateFree slotState = iota
	slotStateReady
	slotStateCheckedOut
)

// Stats are queue statistics.
type Stats struct {
	Free       int
	Ready      int
	CheckedOut int
	Length     int
}

// Queue is a pair of bounded FIFOs, the free queue and the ready queue,
// that transfer the exclusive ownership of a fixed set of slots
// between a producer and a consumer.
//
// The producer acquires a slot from the free queue, fills it and publishes it
// into the ready queue. The consumer acquires it from the ready queue,
// reads it and releases it into the free queue.
//
// Every slot always belongs to exactly one of the free queue, the ready queue
// or the routine that acquired it.
type Queue[T any] struct {
	//
	// parameters (all optional except Length)
	//

	// name of the producer, used in logs.
	ProducerName string
	// name of the consumer, used in logs.
	ConsumerName string
	// number of slots.
	Length int
	// number of items per slot.
	// It defaults to 1.
	ItemCount int
	// initializes and releases slot items.
	Handler ItemHandler[T]
	// destination of log entries.
	// It defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	//
	// private
	//

	log    logrus.FieldLogger
	mutex  sync.Mutex
	slots  []*Slot[T]
	states []slotState
	free   *ringbuffer.RingBuffer[int]
	ready  *ringbuffer.RingBuffer[int]
	closed bool
}

// Initialize allocates slots and initializes their items.
// All slots are placed into the free queue.
func (q *Queue[T]) Initialize() error {
	if q.Length <= 0 {
		return fmt.Errorf("invalid queue length: %d", q.Length)
	}

	if q.ItemCount == 0 {
		q.ItemCount = 1
	}
	if q.ItemCount < 0 {
		return fmt.Errorf("invalid item count: %d", q.ItemCount)
	}

	if q.Logger == nil {
		q.Logger = logrus.StandardLogger()
	}
	q.log = q.Logger.WithFields(logrus.Fields{
		"producer": q.ProducerName,
		"consumer": q.ConsumerName,
	})

	// one entry of slack, so that the whole pool fits in either queue.
	q.free, _ = ringbuffer.New[int](q.Length + 1)
	q.ready, _ = ringbuffer.New[int](q.Length + 1)

	q.slots = make([]*Slot[T], q.Length)
	q.states = make([]slotState, q.Length)

	for i := range q.slots {
		s := &Slot[T]{
			Items: make([]T, q.ItemCount),
			index: i,
		}

		if q.Handler != nil {
			for j := range s.Items {
				err := q.Handler.InitItem(&s.Items[j])
				if err != nil {
					q.deinitItems(s.Items[:j])
					for _, prev := range q.slots[:i] {
						q.deinitItems(prev.Items)
					}
					q.slots = nil
					q.states = nil
					return liberrors.ErrAllocation{Slot: i, Item: j, Err: err}
				}
			}
		}

		q.slots[i] = s
		q.free.Push(i)
	}

	return nil
}

// Close drains both queues, releases the items of the drained slots
// and makes every pending and future operation fail with ErrQueueClosed.
//
// Slots that are checked out when Close is called are not released:
// routines that use the queue must be stopped before calling Close.
func (q *Queue[T]) Close() {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return
	}
	q.closed = true
	q.mutex.Unlock()

	q.free.Close()
	q.ready.Close()

	drained := append(q.free.Drain(), q.ready.Drain()...)
	for _, idx := range drained {
		q.deinitItems(q.slots[idx].Items)
	}

	q.log.Debugf("[%s -> %s] queue closed, %d slots released",
		q.ProducerName, q.ConsumerName, len(drained))
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	s := Stats{Length: q.Length}

	for _, st := range q.states {
		switch st {
		case slotStateFree:
			s.Free++
		case slotStateReady:
			s.Ready++
		default:
			s.CheckedOut++
		}
	}

	return s
}

// AcquireFree gets a slot from the free queue.
// It is called by the producer.
func (q *Queue[T]) AcquireFree(timeout time.Duration) (*Slot[T], error) {
	return q.acquire(q.free, "acquire free slot", timeout)
}

// PublishReady puts a slot into the ready queue.
// It is called by the producer.
// If an error is returned, the caller keeps the ownership of the slot.
func (q *Queue[T]) PublishReady(slot *Slot[T], timeout time.Duration) error {
	return q.push(slot, q.ready, slotStateReady, "publish ready slot", timeout)
}

// TryPublishReady puts a slot into the ready queue without waiting.
// If the ready queue is full, ErrQueueFull is returned
// and the caller keeps the ownership of the slot.
func (q *Queue[T]) TryPublishReady(slot *Slot[T]) error {
	return q.push(slot, q.ready, slotStateReady, "publish ready slot", 0)
}

// AcquireReady gets a slot from the ready queue.
// It is called by the consumer.
func (q *Queue[T]) AcquireReady(timeout time.Duration) (*Slot[T], error) {
	return q.acquire(q.ready, "acquire ready slot", timeout)
}

// ReleaseFree puts a slot back into the free queue.
// It is called by the consumer.
// If an error is returned, the caller keeps the ownership of the slot.
func (q *Queue[T]) ReleaseFree(slot *Slot[T], timeout time.Duration) error {
	return q.push(slot, q.free, slotStateFree, "release free slot", timeout)
}

func (q *Queue[T]) acquire(
	ring *ringbuffer.RingBuffer[int],
	op string,
	timeout time.Duration,
) (*Slot[T], error) {
	idx, ok := ring.PullTimeout(timeout)
	if !ok {
		if ring.Closed() {
			return nil, liberrors.ErrQueueClosed{}
		}

		if timeout != 0 {
			q.log.Debugf("[%s -> %s] %s failed, waited %v", q.ProducerName, q.ConsumerName, op, timeout)
		}

		return nil, liberrors.ErrTimeout{
			Producer: q.ProducerName,
			Consumer: q.ConsumerName,
			Op:       op,
			Waited:   timeout,
		}
	}

	q.mutex.Lock()
	q.states[idx] = slotStateCheckedOut
	q.mutex.Unlock()

	return q.slots[idx], nil
}

func (q *Queue[T]) push(
	slot *Slot[T],
	ring *ringbuffer.RingBuffer[int],
	state slotState,
	op string,
	timeout time.Duration,
) error {
	if slot == nil {
		return liberrors.ErrSlotNotOwned{Slot: -1}
	}

	q.mutex.Lock()

	if q.closed {
		q.mutex.Unlock()
		return liberrors.ErrQueueClosed{}
	}

	idx := slot.index
	if idx < 0 || idx >= len(q.slots) || q.slots[idx] != slot || q.states[idx] != slotStateCheckedOut {
		q.mutex.Unlock()
		return liberrors.ErrSlotNotOwned{Slot: idx}
	}

	q.states[idx] = state
	if state == slotStateReady {
		slot.Recycled = true
	}

	q.mutex.Unlock()

	if ring.PushTimeout(idx, timeout) {
		return nil
	}

	q.mutex.Lock()
	q.states[idx] = slotStateCheckedOut
	q.mutex.Unlock()

	if ring.Closed() {
		return liberrors.ErrQueueClosed{}
	}

	if timeout == 0 {
		return liberrors.ErrQueueFull{Producer: q.ProducerName, Consumer: q.ConsumerName}
	}

	q.log.Warnf("[%s -> %s] %s failed, waited %v", q.ProducerName, q.ConsumerName, op, timeout)

	return liberrors.ErrTimeout{
		Producer: q.ProducerName,
		Consumer: q.ConsumerName,
		Op:       op,
		Waited:   timeout,
	}
}

func (q *Queue[T]) deinitItems(items []T) {
	if q.Handler == nil {
		return
	}

	for j := range items {
		q.Handler.DeinitItem(&items[j])
	}
}
