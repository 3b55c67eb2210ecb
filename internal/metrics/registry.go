// Package metrics aggregates named counters and latency timers and renders them as text.
package metrics

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultSamples is the number of samples a timer retains.
const DefaultSamples = 1000

var renderedPercentiles = []struct {
	suffix string
	p      float64
}{
	{"p50", 0.50},
	{"p95", 0.95},
	{"p99", 0.99},
}

// ring keeps the most recent samples; the oldest one is overwritten once full.
type ring struct {
	buf  []float64
	next int
	full bool
}

func (r *ring) push(v float64) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) values() []float64 {
	if r.full {
		return slices.Clone(r.buf)
	}
	return slices.Clone(r.buf[:r.next])
}

// Registry holds counters and timers. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	capacity int
	counters map[string]int64
	timers   map[string]*ring
}

// NewRegistry creates an empty registry with DefaultSamples per timer.
func NewRegistry() *Registry {
	return NewRegistryWithCapacity(DefaultSamples)
}

// NewRegistryWithCapacity creates a registry whose timers retain capacity samples.
func NewRegistryWithCapacity(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultSamples
	}
	return &Registry{
		capacity: capacity,
		counters: make(map[string]int64),
		timers:   make(map[string]*ring),
	}
}

// Incr adds one to the named counter.
func (r *Registry) Incr(name string) {
	r.Add(name, 1)
}

// Add adds n to the named counter.
func (r *Registry) Add(name string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += n
}

// Counter returns the current value of a counter.
func (r *Registry) Counter(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// Observe records a duration for the named timer in milliseconds.
// Negative durations are dropped.
func (r *Registry) Observe(name string, d time.Duration) {
	r.ObserveMillis(name, float64(d)/float64(time.Millisecond))
}

// ObserveMillis records a raw millisecond sample. NaN, infinite and negative values are dropped.
func (r *Registry) ObserveMillis(name string, ms float64) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[name]
	if !ok {
		t = &ring{buf: make([]float64, r.capacity)}
		r.timers[name] = t
	}
	t.push(ms)
}

// Since observes the time elapsed since start. Meant for defer.
func (r *Registry) Since(name string, start time.Time) {
	r.Observe(name, time.Since(start))
}

// Percentile returns the nearest-rank percentile p (0..1] of a timer, or 0 without samples.
func (r *Registry) Percentile(name string, p float64) float64 {
	r.mu.Lock()
	t, ok := r.timers[name]
	var samples []float64
	if ok {
		samples = t.values()
	}
	r.mu.Unlock()

	slices.Sort(samples)
	return nearestRank(samples, p)
}

// nearestRank expects sorted samples.
func nearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p * float64(n)))
	idx = max(1, min(idx, n))
	return sorted[idx-1]
}

// Render emits every counter, then p50/p95/p99 gauges for every timer, names sorted.
func (r *Registry) Render() string {
	r.mu.Lock()
	counters := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	timers := make(map[string][]float64, len(r.timers))
	for k, t := range r.timers {
		timers[k] = t.values()
	}
	r.mu.Unlock()

	var b strings.Builder
	for _, name := range sortedKeys(counters) {
		fmt.Fprintf(&b, "# TYPE %s counter\n", name)
		fmt.Fprintf(&b, "%s %d\n", name, counters[name])
	}
	for _, name := range sortedKeys(timers) {
		samples := timers[name]
		slices.Sort(samples)
		for _, pc := range renderedPercentiles {
			metric := name + "_" + pc.suffix
			fmt.Fprintf(&b, "# TYPE %s gauge\n", metric)
			if len(samples) == 0 {
				fmt.Fprintf(&b, "%s 0\n", metric)
				continue
			}
			fmt.Fprintf(&b, "%s %.3f\n", metric, nearestRank(samples, pc.p))
		}
	}
	return b.String()
}

// Declare registers a timer with no samples so it renders before its first observation.
func (r *Registry) Declare(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.timers[name]; !ok {
		r.timers[name] = &ring{buf: make([]float64, r.capacity)}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
