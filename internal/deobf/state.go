package deobf

// State is the lifecycle state of a pass run.
type State int

// Pass states.
const (
	Scanning State = iota
	Emitting
	Done
	Failed
	Canceled
)

var stateNames = map[State]string{
	Scanning: "scanning",
	Emitting: "emitting",
	Done:     "done",
	Failed:   "failed",
	Canceled: "canceled",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Reporter receives state changes and progress of a run.
type Reporter interface {
	Report(state State, percent int)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(state State, percent int)

// Report calls f.
func (f ReporterFunc) Report(state State, percent int) {
	f(state, percent)
}

type nopReporter struct{}

func (nopReporter) Report(State, int) {}
