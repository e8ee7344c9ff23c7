package telemetry

import (
	"log/slog"
	"time"
)

// Recorder is the sink for ingestion outcome counts and durations.
// Services take one by constructor so tests can assert on what was
// recorded; NopRecorder is the default when the caller doesn't care.
type Recorder interface {
	// Count reports the count of an event, e.g. "import.laps-skipped".
	Count(id string, n int64)
	// Duration reports how long a unit of work took, e.g. "import.event".
	Duration(id string, d time.Duration)
}

type NopRecorder struct{}

func (NopRecorder) Count(string, int64)            {}
func (NopRecorder) Duration(string, time.Duration) {}

// SlogRecorder forwards counts and durations to the default slog
// logger at debug level.
type SlogRecorder struct{}

func (SlogRecorder) Count(id string, n int64) {
	slog.Debug("count", "id", id, "n", n)
}

func (SlogRecorder) Duration(id string, d time.Duration) {
	slog.Debug("duration", "id", id, "d", d.String())
}
