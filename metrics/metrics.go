// Package metrics defines a concurrently-accessible metrics collector for
// session vitals (requests served, bytes moved, pending-request high-water
// marks) and a bridge that exposes a live snapshot through expvar for
// process-wide observability.
package metrics

import (
	"encoding/json"
	"expvar"
	"sync"
)

// A Metrics value collects counters and maximum-value trackers. A nil
// *Metrics is valid, and discards all metrics. The methods of a *Metrics
// are safe for concurrent use by multiple goroutines.
type Metrics struct {
	mu      sync.Mutex
	counter map[string]int64
	maxVal  map[string]int64
}

// New creates a new, empty metrics collector.
func New() *Metrics {
	return &Metrics{counter: make(map[string]int64), maxVal: make(map[string]int64)}
}

// Count adds n to the current value of the counter named, defining the
// counter if it does not already exist.
func (m *Metrics) Count(name string, n int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.counter[name] += n
	}
}

// SetMaxValue sets the maximum value metric named to the greater of n and
// its current value, defining the value if it does not already exist.
func (m *Metrics) SetMaxValue(name string, n int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if n > m.maxVal[name] {
			m.maxVal[name] = n
		}
	}
}

// CountAndSetMax adds n to the current value of the counter named, and
// also updates a max value tracker with the same name in a single step.
func (m *Metrics) CountAndSetMax(name string, n int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if n > m.maxVal[name] {
			m.maxVal[name] = n
		}
		m.counter[name] += n
	}
}

// Snapshot copies an atomic snapshot of the counters and max value
// trackers into the provided non-nil maps.
func (m *Metrics) Snapshot(counters, maxValues map[string]int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		for name, val := range m.counter {
			counters[name] = val
		}
		for name, val := range m.maxVal {
			maxValues[name] = val
		}
	}
}

// Publish registers m under name in the process-wide expvar registry and
// returns the published map, so a process embedding several sessions can
// expose each one's vitals at /debug/vars without the session package
// reaching into expvar itself. Publish panics if name is already
// registered, matching expvar.Publish's own behavior.
func (m *Metrics) Publish(name string) *expvar.Map {
	ev := new(expvar.Map)
	ev.Init()
	ev.Set("counters", expvar.Func(func() any {
		counters := make(map[string]int64)
		m.Snapshot(counters, make(map[string]int64))
		return counters
	}))
	ev.Set("max_values", expvar.Func(func() any {
		maxValues := make(map[string]int64)
		m.Snapshot(make(map[string]int64), maxValues)
		return maxValues
	}))
	expvar.Publish(name, ev)
	return ev
}

// expvarFunc adapts a function returning a JSON-marshalable value to the
// expvar.Var interface.
type expvarFunc func() any

func (f expvarFunc) String() string {
	bits, err := json.Marshal(f())
	if err != nil {
		return "null"
	}
	return string(bits)
}
