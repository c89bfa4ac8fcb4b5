// Package pipeline contains a three-stage asynchronous pipeline
// with rotating output buffers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sunrisecam/streamcore/internal/asyncprocessor"
	"github.com/sunrisecam/streamcore/pkg/liberrors"
	"github.com/sunrisecam/streamcore/pkg/multibuffer"
	"github.com/sunrisecam/streamcore/pkg/slotqueue"
)

// Stats are pipeline statistics.
type Stats struct {
	Submitted     uint64
	Processed     uint64
	Consumed      uint64
	DroppedInput  uint64
	DroppedOutput uint64
	Errors        uint64

	Input  slotqueue.Stats
	Output slotqueue.Stats
}

type factoryHandler[T any] struct {
	newItem func() T
}

func (h *factoryHandler[T]) InitItem(item *T) error {
	if h.newItem != nil {
		*item = h.newItem()
	}
	return nil
}

func (h *factoryHandler[T]) DeinitItem(item *T) {
	var zero T
	*item = zero
}

// Pipeline decouples a producer from a slow processing stage.
//
//	producer -> Submit() -> input queue -> Process() -> output queue -> Consume()
//
// Process() and Consume() run in two dedicated routines.
// Outputs are written into a set of rotating buffers, so that Process() can write
// a new output while previous ones are still waiting for Consume().
//
// When a queue is full, the new item is dropped and the producer is never blocked.
type Pipeline[In, Out any] struct {
	//
	// parameters (all optional except Process)
	//

	// name of the pipeline, used in logs.
	Name string
	// number of slots between the producer and Process().
	// It defaults to 2.
	InputQueueLength int
	// number of slots between Process() and Consume().
	// It defaults to 3.
	OutputQueueLength int
	// number of rotating output buffers.
	// It must be greater than OutputQueueLength.
	// It defaults to 5.
	RotationCount int
	// how long stages wait for data before checking whether the pipeline is closing.
	// It defaults to 100ms.
	PollInterval time.Duration
	// allocates inputs. Defaults to zero values.
	NewInput func() In
	// allocates outputs. Defaults to zero values.
	NewOutput func() Out
	// Logger. It defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	//
	// stages
	//

	// fills an output with the result of an input.
	Process func(context.Context, *In, *Out) error
	// reads an output.
	Consume func(context.Context, *Out) error

	//
	// callbacks (all optional)
	//

	// called when an item is dropped.
	OnDrop func(Stage)
	// called when Process() or Consume() returns an error.
	OnError func(Stage, error)

	//
	// private
	//

	log      logrus.FieldLogger
	input    *slotqueue.Queue[In]
	output   *slotqueue.Queue[int]
	rotation *multibuffer.MultiBuffer[Out]
	worker   *asyncprocessor.Processor
	consumer *asyncprocessor.Processor

	submitted     atomic.Uint64
	processed     atomic.Uint64
	consumed      atomic.Uint64
	droppedInput  atomic.Uint64
	droppedOutput atomic.Uint64
	errorCount    atomic.Uint64
}

// Initialize initializes the pipeline.
func (p *Pipeline[In, Out]) Initialize() error {
	if p.Process == nil {
		return fmt.Errorf("process callback is required")
	}

	if p.InputQueueLength == 0 {
		p.InputQueueLength = 2
	}
	if p.OutputQueueLength == 0 {
		p.OutputQueueLength = 3
	}
	if p.RotationCount == 0 {
		p.RotationCount = 5
	}
	if p.PollInterval == 0 {
		p.PollInterval = 100 * time.Millisecond
	}
	if p.Logger == nil {
		p.Logger = logrus.StandardLogger()
	}

	if p.RotationCount <= p.OutputQueueLength {
		return fmt.Errorf("rotation count (%d) must be greater than output queue length (%d)",
			p.RotationCount, p.OutputQueueLength)
	}

	p.log = p.Logger.WithField("pipeline", p.Name)

	p.input = &slotqueue.Queue[In]{
		ProducerName: "producer",
		ConsumerName: p.Name + " process",
		Length:       p.InputQueueLength,
		Handler:      &factoryHandler[In]{newItem: p.NewInput},
		Logger:       p.Logger,
	}
	err := p.input.Initialize()
	if err != nil {
		return err
	}

	p.output = &slotqueue.Queue[int]{
		ProducerName: p.Name + " process",
		ConsumerName: p.Name + " consume",
		Length:       p.OutputQueueLength,
		Logger:       p.Logger,
	}
	err = p.output.Initialize()
	if err != nil {
		p.input.Close()
		return err
	}

	p.rotation = multibuffer.New(p.RotationCount, p.NewOutput)

	p.worker = &asyncprocessor.Processor{
		Loop: p.runProcess,
	}
	p.worker.Initialize()

	p.consumer = &asyncprocessor.Processor{
		Loop: p.runConsume,
	}
	p.consumer.Initialize()

	return nil
}

// Start starts the processing and consuming routines.
func (p *Pipeline[In, Out]) Start() {
	p.worker.Start()
	p.consumer.Start()
}

// Close stops the routines and then releases the queues.
func (p *Pipeline[In, Out]) Close() {
	p.worker.Close()
	p.consumer.Close()
	p.input.Close()
	p.output.Close()
}

// Submit passes a free input to fill and enqueues it.
// If no input is available or the input queue is full, the item is dropped
// and false is returned. Submit never blocks.
func (p *Pipeline[In, Out]) Submit(fill func(*In)) bool {
	slot, err := p.input.AcquireFree(0)
	if err != nil {
		p.drop(StageInput)
		return false
	}

	fill(&slot.Items[0])

	err = p.input.TryPublishReady(slot)
	if err != nil {
		p.input.ReleaseFree(slot, 0) //nolint:errcheck
		p.drop(StageInput)
		return false
	}

	p.submitted.Add(1)
	return true
}

// Stats returns pipeline statistics.
func (p *Pipeline[In, Out]) Stats() Stats {
	return Stats{
		Submitted:     p.submitted.Load(),
		Processed:     p.processed.Load(),
		Consumed:      p.consumed.Load(),
		DroppedInput:  p.droppedInput.Load(),
		DroppedOutput: p.droppedOutput.Load(),
		Errors:        p.errorCount.Load(),
		Input:         p.input.Stats(),
		Output:        p.output.Stats(),
	}
}

func (p *Pipeline[In, Out]) runProcess(ctx context.Context) error {
	slot, err := p.input.AcquireReady(p.PollInterval)
	if err != nil {
		return ignoreTimeout(err)
	}

	idx := p.rotation.Index()
	err = p.Process(ctx, &slot.Items[0], p.rotation.Current())

	rerr := p.input.ReleaseFree(slot, p.PollInterval)
	if rerr != nil {
		p.log.Errorf("unable to release input: %v", rerr)
	}

	if err != nil {
		p.reportError(StageProcess, err)
		return nil
	}

	p.processed.Add(1)

	oslot, err := p.output.AcquireFree(0)
	if err != nil {
		p.drop(StageOutput)
		return nil
	}

	oslot.Items[0] = idx

	err = p.output.TryPublishReady(oslot)
	if err != nil {
		p.output.ReleaseFree(oslot, 0) //nolint:errcheck
		p.drop(StageOutput)
		return nil
	}

	// the output has been handed off, the next one must not overwrite it.
	p.rotation.Advance()
	return nil
}

func (p *Pipeline[In, Out]) runConsume(ctx context.Context) error {
	slot, err := p.output.AcquireReady(p.PollInterval)
	if err != nil {
		return ignoreTimeout(err)
	}

	if p.Consume != nil {
		err = p.Consume(ctx, p.rotation.At(slot.Items[0]))
	}

	rerr := p.output.ReleaseFree(slot, p.PollInterval)
	if rerr != nil {
		p.log.Errorf("unable to release output: %v", rerr)
	}

	if err != nil {
		p.reportError(StageConsume, err)
		return nil
	}

	p.consumed.Add(1)
	return nil
}

func (p *Pipeline[In, Out]) drop(stage Stage) {
	switch stage {
	case StageInput:
		p.droppedInput.Add(1)
	default:
		p.droppedOutput.Add(1)
	}

	if p.OnDrop != nil {
		p.OnDrop(stage)
	} else {
		p.log.Warnf("%s queue full, skip it", stage)
	}
}

func (p *Pipeline[In, Out]) reportError(stage Stage, err error) {
	p.errorCount.Add(1)

	if p.OnError != nil {
		p.OnError(stage, err)
	} else {
		p.log.Errorf("%s: %v", stage, err)
	}
}

// idle ticks are not errors. A closed queue means the pipeline is closing.
func ignoreTimeout(err error) error {
	var timeoutErr liberrors.ErrTimeout
	if errors.As(err, &timeoutErr) {
		return nil
	}
	return err
}
