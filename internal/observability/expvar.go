package observability

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// ExpvarRecorder publishes totals through expvar for deployments that do not
// scrape Prometheus.
type ExpvarRecorder struct {
	name string

	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	targets   map[string]map[string]int64
}

// ExpvarSnapshot is a read-only view of an ExpvarRecorder.
type ExpvarSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Targets     map[string]map[string]int64 `json:"target_writes_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarRecorder publishes a recorder under name, generating one when empty.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		name = fmt.Sprintf("taxroll_metrics_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		targets:   make(map[string]map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar key.
func (r *ExpvarRecorder) Name() string { return r.name }

// Snapshot copies the current totals.
func (r *ExpvarRecorder) Snapshot() ExpvarSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	return ExpvarSnapshot{
		DurationsMS: durations,
		Results:     copyCounts(r.results),
		Targets:     copyCounts(r.targets),
		RecordedAt:  time.Now().UTC(),
	}
}

func copyCounts(src map[string]map[string]int64) map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(src))
	for k, inner := range src {
		cp := make(map[string]int64, len(inner))
		for s, n := range inner {
			cp[s] = n
		}
		out[k] = cp
	}
	return out
}

func bump(m map[string]map[string]int64, key, st string) {
	if _, ok := m[key]; !ok {
		m[key] = make(map[string]int64, 2)
	}
	m[key][st]++
}

// Observe implements Recorder.
func (r *ExpvarRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	r.durations[operation] += float64(duration) / float64(time.Millisecond)
	bump(r.results, operation, status(success))
	r.mu.Unlock()
}

// ObserveTargetWrite implements replication.WriteObserver.
func (r *ExpvarRecorder) ObserveTargetWrite(target string, err error, _ time.Duration) {
	r.mu.Lock()
	bump(r.targets, target, status(err == nil))
	r.mu.Unlock()
}
