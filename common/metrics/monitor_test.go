package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lyzr/toolcrib/common/clock"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func record(m *PerformanceMonitor, clk *clock.Fake, kind string, d time.Duration, ok bool) {
	tok := m.Start(kind)
	clk.Advance(d)
	m.End(tok, ok, "")
}

func TestEndReturnsDurationMs(t *testing.T) {
	clk := clock.NewFake(t0)
	m := NewPerformanceMonitor(10, DefaultSLA, clk)

	tok := m.Start("checkout")
	clk.Advance(250 * time.Millisecond)
	assert.Equal(t, 250.0, m.End(tok, true, ""))

	assert.Equal(t, 0.0, m.End(Token{}, true, ""), "zero token records nothing")
	assert.Len(t, m.Samples(""), 1)
}

func TestReportPercentilesAndSLA(t *testing.T) {
	clk := clock.NewFake(t0)
	m := NewPerformanceMonitor(1000, DefaultSLA, clk)

	for i := 1; i <= 100; i++ {
		record(m, clk, "checkout", time.Duration(i)*time.Millisecond, true)
	}

	r := m.Report("checkout")
	assert.Equal(t, 100, r.Count)
	assert.InDelta(t, 50.5, r.AvgMs, 1e-9)
	assert.Equal(t, 1.0, r.MinMs)
	assert.Equal(t, 100.0, r.MaxMs)
	assert.Equal(t, 50.0, r.P50Ms)
	assert.Equal(t, 95.0, r.P95Ms)
	assert.Equal(t, 99.0, r.P99Ms)
	assert.Equal(t, 1.0, r.SuccessRate)
	assert.True(t, r.MeetsSLA)
}

func TestSLAFailsOnSuccessRate(t *testing.T) {
	clk := clock.NewFake(t0)
	m := NewPerformanceMonitor(100, DefaultSLA, clk)

	// exactly 95% is not above the threshold
	for i := 0; i < 20; i++ {
		record(m, clk, "checkin", time.Millisecond, i != 0)
	}
	r := m.Report("checkin")
	assert.InDelta(t, 0.95, r.SuccessRate, 1e-9)
	assert.False(t, r.MeetsSLA)
}

func TestSLAFailsOnLatency(t *testing.T) {
	clk := clock.NewFake(t0)
	m := NewPerformanceMonitor(100, DefaultSLA, clk)
	record(m, clk, "scan", 500*time.Millisecond, true)

	assert.False(t, m.Report("scan").MeetsSLA, "avg must be strictly under the limit")
}

func TestEmptyReport(t *testing.T) {
	m := NewPerformanceMonitor(10, DefaultSLA, clock.NewFake(t0))
	r := m.Report("none")
	assert.Equal(t, 0, r.Count)
	assert.False(t, r.MeetsSLA)
}

func TestRingBufferKeepsLastN(t *testing.T) {
	clk := clock.NewFake(t0)
	m := NewPerformanceMonitor(3, DefaultSLA, clk)
	for i := 1; i <= 5; i++ {
		record(m, clk, fmt.Sprintf("k%d", i), time.Millisecond, true)
	}

	samples := m.Samples("")
	require.Len(t, samples, 3)
	assert.Equal(t, []string{"k3", "k4", "k5"}, []string{samples[0].Kind, samples[1].Kind, samples[2].Kind})
}

func TestPurgeIsExplicit(t *testing.T) {
	clk := clock.NewFake(t0)
	m := NewPerformanceMonitor(10, DefaultSLA, clk)
	record(m, clk, "old", time.Millisecond, true)

	clk.Advance(8 * 24 * time.Hour)
	record(m, clk, "new", time.Millisecond, true)
	assert.Len(t, m.Samples(""), 2, "nothing is dropped without a purge")

	n, err := m.Purge(7 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	samples := m.Samples("")
	require.Len(t, samples, 1)
	assert.Equal(t, "new", samples[0].Kind)

	// the ring keeps working after compaction
	record(m, clk, "after", time.Millisecond, true)
	assert.Len(t, m.Samples(""), 2)

	_, err = m.Purge(0)
	assert.Error(t, err)
}

func TestTrackRecordsErrorKind(t *testing.T) {
	m := NewPerformanceMonitor(10, DefaultSLA, clock.NewFake(t0))

	err := m.Track("checkout", func() error { return models.Conflict("asset is in-use") })
	assert.ErrorIs(t, err, models.ErrConflict)
	_ = m.Track("checkout", func() error { return errors.New("disk on fire") })
	_ = m.Track("checkout", func() error { return nil })

	s := m.Samples("checkout")
	require.Len(t, s, 3)
	assert.Equal(t, "conflict", s[0].ErrorKind)
	assert.Equal(t, "internal", s[1].ErrorKind)
	assert.True(t, s[2].Success)
}

func TestReportsGroupsByKind(t *testing.T) {
	clk := clock.NewFake(t0)
	m := NewPerformanceMonitor(10, DefaultSLA, clk)
	record(m, clk, "b", time.Millisecond, true)
	record(m, clk, "a", time.Millisecond, true)
	record(m, clk, "b", time.Millisecond, true)

	rs := m.Reports()
	require.Len(t, rs, 2)
	assert.Equal(t, "a", rs[0].Kind)
	assert.Equal(t, 2, rs[1].Count)
}

func TestCaptureHostInfo(t *testing.T) {
	info := CaptureHostInfo()
	assert.NotEmpty(t, info.OS)
	assert.Positive(t, info.CPULogical)
}
