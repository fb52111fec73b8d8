package metrics

import "time"

// Recorder receives pipeline transition counts and run latencies.
type Recorder interface {
	IncTransition(state string)
	ObserveRunDuration(outcome string, duration time.Duration)
}

// NoopRecorder discards everything. Default when metrics are not wired.
type NoopRecorder struct{}

func (NoopRecorder) IncTransition(string)                     {}
func (NoopRecorder) ObserveRunDuration(string, time.Duration) {}
