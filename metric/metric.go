// Package metric measures the render path of synth sessions.
//
// Counters are published with expvar under
// midisynth.render.<session id>.<counter> so they show up on /debug/vars.
package metric

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const renderLabel = "midisynth.render"

const (
	// CallbackCounter measures number of render callbacks.
	CallbackCounter = "Callbacks"
	// FrameCounter measures number of rendered frames.
	FrameCounter = "Frames"
	// SilentCounter counts callbacks filled with silence because no bank was loaded.
	SilentCounter = "Silent"
	// FailureCounter counts callbacks where the engine failed and silence was produced.
	FailureCounter = "Failures"
	// OverrunCounter counts callbacks which took longer than their buffer period.
	OverrunCounter = "Overruns"
	// LastCounter is the duration of the latest callback.
	LastCounter = "Last"
	// MaxCounter is the longest callback duration.
	MaxCounter = "Max"
)

var (
	meters = struct {
		sync.Mutex
		m map[string]*Meter
	}{
		m: make(map[string]*Meter),
	}

	counters = []string{
		CallbackCounter,
		FrameCounter,
		SilentCounter,
		FailureCounter,
		OverrunCounter,
		LastCounter,
		MaxCounter,
	}
)

// Meter captures render callback counters of a single session.
// All methods are safe for concurrent use and don't allocate.
type Meter struct {
	sampleRate int
	callbacks  *expvar.Int
	frames     *expvar.Int
	silent     *expvar.Int
	failures   *expvar.Int
	overruns   *expvar.Int
	last       *duration
	max        *duration
}

// Outcome of a render callback.
type Outcome int

// Render outcomes.
const (
	Rendered Outcome = iota
	Silent
	Failed
)

// New returns the meter for provided id. Meters are published once and
// reused if the same id is requested again. expvar can't unpublish, so
// every new id stays in memory until the process exits.
func New(id string, sampleRate int) *Meter {
	meters.Lock()
	defer meters.Unlock()
	if m, ok := meters.m[id]; ok {
		m.sampleRate = sampleRate
		return m
	}
	m := &Meter{
		sampleRate: sampleRate,
		callbacks:  expvar.NewInt(key(id, CallbackCounter)),
		frames:     expvar.NewInt(key(id, FrameCounter)),
		silent:     expvar.NewInt(key(id, SilentCounter)),
		failures:   expvar.NewInt(key(id, FailureCounter)),
		overruns:   expvar.NewInt(key(id, OverrunCounter)),
		last:       &duration{},
		max:        &duration{},
	}
	expvar.Publish(key(id, LastCounter), m.last)
	expvar.Publish(key(id, MaxCounter), m.max)
	meters.m[id] = m
	return m
}

// Measure records a finished callback. Nil meter is a no-op.
func (m *Meter) Measure(frames int, outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.callbacks.Add(1)
	m.frames.Add(int64(frames))
	switch outcome {
	case Silent:
		m.silent.Add(1)
	case Failed:
		m.failures.Add(1)
	}
	m.last.set(elapsed)
	m.max.raise(elapsed)
	if frames > 0 && elapsed > DurationOf(m.sampleRate, frames) {
		m.overruns.Add(1)
	}
}

// Get metrics values for provided id.
func Get(id string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(id, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// DurationOf returns time duration of provided number of frames.
func DurationOf(sampleRate int, frames int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(sampleRate))
}

func key(id, counter string) string {
	return fmt.Sprintf("%s.%s.%s", renderLabel, id, counter)
}

// duration allows to format time.Duration metric values.
type duration struct {
	d int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%q", time.Duration(atomic.LoadInt64(&v.d)).String())
}

func (v *duration) set(value time.Duration) {
	atomic.StoreInt64(&v.d, int64(value))
}

// raise stores value if it's bigger than the current one.
func (v *duration) raise(value time.Duration) {
	for {
		current := atomic.LoadInt64(&v.d)
		if int64(value) <= current || atomic.CompareAndSwapInt64(&v.d, current, int64(value)) {
			return
		}
	}
}
