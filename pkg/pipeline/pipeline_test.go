package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testInput struct {
	seq  int
	data []byte
}

type testOutput struct {
	seq int
	sum int
}

func requireConservation(t *testing.T, s Stats) {
	require.Equal(t, s.Input.Length, s.Input.Free+s.Input.Ready+s.Input.CheckedOut)
	require.Equal(t, s.Output.Length, s.Output.Free+s.Output.Ready+s.Output.CheckedOut)
}

func TestInitializeErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		p    *Pipeline[testInput, testOutput]
		err  string
	}{
		{
			"missing process",
			&Pipeline[testInput, testOutput]{},
			"process callback is required",
		},
		{
			"rotation too short",
			&Pipeline[testInput, testOutput]{
				Process:           func(context.Context, *testInput, *testOutput) error { return nil },
				OutputQueueLength: 3,
				RotationCount:     3,
			},
			"rotation count (3) must be greater than output queue length (3)",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			err := ca.p.Initialize()
			require.EqualError(t, err, ca.err)
		})
	}
}

func TestDefaults(t *testing.T) {
	p := &Pipeline[testInput, testOutput]{
		Process: func(context.Context, *testInput, *testOutput) error { return nil },
	}
	err := p.Initialize()
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, 2, p.InputQueueLength)
	require.Equal(t, 3, p.OutputQueueLength)
	require.Equal(t, 5, p.RotationCount)
	require.Equal(t, 100*time.Millisecond, p.PollInterval)
}

func TestPipeline(t *testing.T) {
	var mutex sync.Mutex
	var received []testOutput
	done := make(chan struct{})

	p := &Pipeline[testInput, testOutput]{
		Name:         "test",
		PollInterval: 10 * time.Millisecond,
		NewInput: func() testInput {
			return testInput{data: make([]byte, 4)}
		},
		Process: func(_ context.Context, in *testInput, out *testOutput) error {
			out.seq = in.seq
			out.sum = 0
			for _, b := range in.data {
				out.sum += int(b)
			}
			return nil
		},
		Consume: func(_ context.Context, out *testOutput) error {
			mutex.Lock()
			defer mutex.Unlock()
			received = append(received, *out)
			if len(received) == 10 {
				close(done)
			}
			return nil
		},
	}
	err := p.Initialize()
	require.NoError(t, err)
	defer p.Close()

	p.Start()

	for i := 0; i < 10; i++ {
		for {
			ok := p.Submit(func(in *testInput) {
				in.seq = i
				copy(in.data, []byte{byte(i), 1, 1, 1})
			})
			if ok {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("outputs not received")
	}

	mutex.Lock()
	defer mutex.Unlock()

	for i, out := range received {
		require.Equal(t, testOutput{seq: i, sum: i + 3}, out)
	}

	s := p.Stats()
	require.Equal(t, uint64(10), s.Submitted)
	require.Equal(t, uint64(10), s.Processed)
	require.Equal(t, uint64(10), s.Consumed)
	require.Equal(t, uint64(0), s.DroppedOutput)
	requireConservation(t, s)
}

func TestDropOnFullInput(t *testing.T) {
	var drops []Stage

	p := &Pipeline[testInput, testOutput]{
		InputQueueLength: 2,
		Process:          func(context.Context, *testInput, *testOutput) error { return nil },
		OnDrop: func(s Stage) {
			drops = append(drops, s)
		},
	}
	err := p.Initialize()
	require.NoError(t, err)
	defer p.Close()

	// routines are not started, therefore inputs accumulate in the ready queue.
	for i := 0; i < 2; i++ {
		ok := p.Submit(func(in *testInput) { in.seq = i })
		require.Equal(t, true, ok)
	}

	start := time.Now()
	ok := p.Submit(func(*testInput) {
		t.Errorf("should not be called")
	})
	require.Equal(t, false, ok)
	require.Less(t, time.Since(start), 50*time.Millisecond)

	s := p.Stats()
	require.Equal(t, uint64(2), s.Submitted)
	require.Equal(t, uint64(1), s.DroppedInput)
	require.Equal(t, 2, s.Input.Ready)
	require.Equal(t, []Stage{StageInput}, drops)
	requireConservation(t, s)
}

func TestDropOnFullOutput(t *testing.T) {
	release := make(chan struct{})
	consuming := make(chan struct{}, 1)

	var mutex sync.Mutex
	var consumed []int

	p := &Pipeline[testInput, testOutput]{
		InputQueueLength:  1,
		OutputQueueLength: 2,
		RotationCount:     3,
		PollInterval:      10 * time.Millisecond,
		Process: func(_ context.Context, in *testInput, out *testOutput) error {
			out.seq = in.seq
			return nil
		},
		Consume: func(_ context.Context, out *testOutput) error {
			select {
			case consuming <- struct{}{}:
			default:
			}
			<-release

			mutex.Lock()
			consumed = append(consumed, out.seq)
			mutex.Unlock()
			return nil
		},
		OnDrop: func(Stage) {},
	}
	err := p.Initialize()
	require.NoError(t, err)
	defer p.Close()

	p.Start()

	submit := func(seq int) {
		for !p.Submit(func(in *testInput) { in.seq = seq }) {
			time.Sleep(2 * time.Millisecond)
		}
	}

	// first output is held by the consumer.
	submit(0)
	<-consuming

	// second output fills the output queue.
	submit(1)

	// following outputs must be dropped.
	for i := 2; i < 6; i++ {
		submit(i)
	}

	require.Eventually(t, func() bool {
		return p.Stats().Processed == 6
	}, 2*time.Second, 5*time.Millisecond)

	s := p.Stats()
	require.Equal(t, uint64(4), s.DroppedOutput)
	requireConservation(t, s)

	close(release)

	require.Eventually(t, func() bool {
		return p.Stats().Consumed == 2
	}, 2*time.Second, 5*time.Millisecond)

	mutex.Lock()
	require.Equal(t, []int{0, 1}, consumed)
	mutex.Unlock()

	requireConservation(t, p.Stats())
}

func TestErrors(t *testing.T) {
	errs := make(chan Stage, 10)

	p := &Pipeline[testInput, testOutput]{
		PollInterval: 10 * time.Millisecond,
		Process: func(_ context.Context, in *testInput, out *testOutput) error {
			if in.seq == 0 {
				return fmt.Errorf("inference failed")
			}
			out.seq = in.seq
			return nil
		},
		Consume: func(_ context.Context, _ *testOutput) error {
			return fmt.Errorf("post process failed")
		},
		OnError: func(s Stage, _ error) {
			errs <- s
		},
	}
	err := p.Initialize()
	require.NoError(t, err)
	defer p.Close()

	p.Start()

	ok := p.Submit(func(in *testInput) { in.seq = 0 })
	require.Equal(t, true, ok)
	require.Equal(t, StageProcess, <-errs)

	ok = p.Submit(func(in *testInput) { in.seq = 1 })
	require.Equal(t, true, ok)
	require.Equal(t, StageConsume, <-errs)

	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.Errors == 2 && s.Input.Free == 2 && s.Output.Free == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStageString(t *testing.T) {
	require.Equal(t, "input", StageInput.String())
	require.Equal(t, "consume", StageConsume.String())
	require.Equal(t, "unknown", Stage(10).String())
}
