package pipeline

// Stage is a pipeline stage or boundary.
type Stage int

// stages.
const (
	// boundary between the producer and the worker.
	StageInput Stage = iota
	// the worker.
	StageProcess
	// boundary between the worker and the consumer.
	StageOutput
	// the consumer.
	StageConsume
)

var stageNames = map[Stage]string{
	StageInput:   "input",
	StageProcess: "process",
	StageOutput:  "output",
	StageConsume: "consume",
}

// String implements fmt.Stringer.
func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return "unknown"
}
