package telemetry

import (
	"time"

	"github.com/ferralab/prepcore/internal/motion"
)

// Sample is one timestamped process data point.
type Sample struct {
	At          time.Time       `json:"at"`
	Voltage     float64         `json:"voltage"`
	Current     float64         `json:"current"`
	Temperature float64         `json:"temperature"`
	Position    motion.Position `json:"position"`
}

// Sink ingests samples fire-and-forget. Implementations must never block
// the caller or surface errors into the workflow.
type Sink interface {
	Append(sample Sample)
}

// MultiSink fans samples out to several sinks.
type MultiSink []Sink

func (m MultiSink) Append(sample Sample) {
	for _, sink := range m {
		sink.Append(sample)
	}
}

// Discard drops every sample.
var Discard Sink = discard{}

type discard struct{}

func (discard) Append(Sample) {}
