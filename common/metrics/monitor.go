// Package metrics records operation latency samples and summarizes them
// against a latency and success-rate SLA.
package metrics

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/lyzr/toolcrib/common/clock"
	"github.com/lyzr/toolcrib/common/models"
)

// SLA is the pass/fail threshold for a report
type SLA struct {
	MaxAvgLatency  time.Duration
	MinSuccessRate float64
}

// DefaultSLA is avg < 500ms and success > 95%
var DefaultSLA = SLA{MaxAvgLatency: 500 * time.Millisecond, MinSuccessRate: 0.95}

// Token marks the start of one timed operation
type Token struct {
	Kind    string
	Started time.Time
}

// Sample is one completed operation
type Sample struct {
	Kind       string    `json:"kind"`
	DurationMs float64   `json:"durationMs"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	At         time.Time `json:"at"`
}

// Report summarizes samples of one kind (or all kinds when Kind is "")
type Report struct {
	Kind        string  `json:"kind"`
	Count       int     `json:"count"`
	AvgMs       float64 `json:"avgMs"`
	MinMs       float64 `json:"minMs"`
	MaxMs       float64 `json:"maxMs"`
	P50Ms       float64 `json:"p50Ms"`
	P95Ms       float64 `json:"p95Ms"`
	P99Ms       float64 `json:"p99Ms"`
	SuccessRate float64 `json:"successRate"`
	MeetsSLA    bool    `json:"meetsSla"`
}

// PerformanceMonitor keeps the last N samples in a ring buffer
type PerformanceMonitor struct {
	mu    sync.Mutex
	clk   clock.Clock
	sla   SLA
	ring  []Sample
	next  int
	count int
}

// NewPerformanceMonitor creates a monitor holding at most capacity samples
func NewPerformanceMonitor(capacity int, sla SLA, clk clock.Clock) *PerformanceMonitor {
	if capacity <= 0 {
		capacity = 1000
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &PerformanceMonitor{
		clk:  clk,
		sla:  sla,
		ring: make([]Sample, capacity),
	}
}

// Start begins timing an operation
func (m *PerformanceMonitor) Start(kind string) Token {
	return Token{Kind: kind, Started: m.clk.Now()}
}

// End records the sample for tok and returns its duration in milliseconds
func (m *PerformanceMonitor) End(tok Token, success bool, errKind string) float64 {
	if tok.Started.IsZero() {
		return 0
	}
	now := m.clk.Now()
	ms := float64(now.Sub(tok.Started)) / float64(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.next] = Sample{Kind: tok.Kind, DurationMs: ms, Success: success, ErrorKind: errKind, At: now}
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	return ms
}

// Track times fn and records its outcome. Domain errors are recorded by kind.
func (m *PerformanceMonitor) Track(kind string, fn func() error) error {
	tok := m.Start(kind)
	err := fn()
	if err == nil {
		m.End(tok, true, "")
		return nil
	}
	errKind := string(models.KindOf(err))
	if errKind == "" {
		errKind = "internal"
	}
	m.End(tok, false, errKind)
	return err
}

// Samples returns the buffered samples, oldest first, filtered by kind
func (m *PerformanceMonitor) Samples(kind string) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samplesLocked(kind)
}

func (m *PerformanceMonitor) samplesLocked(kind string) []Sample {
	out := make([]Sample, 0, m.count)
	start := (m.next - m.count + len(m.ring)) % len(m.ring)
	for i := 0; i < m.count; i++ {
		s := m.ring[(start+i)%len(m.ring)]
		if kind == "" || s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Report summarizes the buffered samples of kind ("" for all)
func (m *PerformanceMonitor) Report(kind string) Report {
	return summarize(kind, m.Samples(kind), m.sla)
}

// Reports returns one report per recorded kind, sorted by kind
func (m *PerformanceMonitor) Reports() []Report {
	samples := m.Samples("")
	byKind := make(map[string][]Sample)
	for _, s := range samples {
		byKind[s.Kind] = append(byKind[s.Kind], s)
	}
	out := make([]Report, 0, len(byKind))
	for k, ss := range byKind {
		out = append(out, summarize(k, ss, m.sla))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Purge drops samples older than retention and returns how many went
func (m *PerformanceMonitor) Purge(retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, errors.New("retention must be positive")
	}
	cutoff := m.clk.Now().Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.samplesLocked("")
	kept := all[:0]
	for _, s := range all {
		if !s.At.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	purged := len(all) - len(kept)

	ring := make([]Sample, len(m.ring))
	copy(ring, kept)
	m.ring = ring
	m.count = len(kept)
	m.next = len(kept) % len(ring)
	return purged, nil
}

func summarize(kind string, samples []Sample, sla SLA) Report {
	r := Report{Kind: kind, Count: len(samples)}
	if len(samples) == 0 {
		return r
	}

	durations := make([]float64, len(samples))
	var sum float64
	ok := 0
	for i, s := range samples {
		durations[i] = s.DurationMs
		sum += s.DurationMs
		if s.Success {
			ok++
		}
	}
	sort.Float64s(durations)

	r.AvgMs = sum / float64(len(samples))
	r.MinMs = durations[0]
	r.MaxMs = durations[len(durations)-1]
	r.P50Ms = percentile(durations, 50)
	r.P95Ms = percentile(durations, 95)
	r.P99Ms = percentile(durations, 99)
	r.SuccessRate = float64(ok) / float64(len(samples))

	maxAvgMs := float64(sla.MaxAvgLatency) / float64(time.Millisecond)
	r.MeetsSLA = r.AvgMs < maxAvgMs && r.SuccessRate > sla.MinSuccessRate
	return r
}

// percentile uses the nearest-rank method on sorted input
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
