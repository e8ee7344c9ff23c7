package chrono

import "time"

// API abstracts wall-clock access so time-driven code can be driven
// deterministically in tests. Timing data is always UTC.
type API interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type StandardImpl struct{}

func NewStandardImpl() StandardImpl {
	return StandardImpl{}
}

func (StandardImpl) Now() time.Time {
	return time.Now().UTC()
}

func (StandardImpl) NewTicker(d time.Duration) Ticker {
	return standardTicker{ticker: time.NewTicker(d)}
}

type standardTicker struct {
	ticker *time.Ticker
}

func (t standardTicker) Chan() <-chan time.Time {
	return t.ticker.C
}

func (t standardTicker) Stop() {
	t.ticker.Stop()
}
