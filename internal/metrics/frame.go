// Package metrics summarizes frame loop runs.
package metrics

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/sceneview/internal/loop"
)

// Metric accumulates one number over a run of frames.
type Metric interface {
	Name() string
	Observe(f loop.Frame)
	Value() float64
	Reset()
}

// FrameTime reports a percentile of frame durations in milliseconds. A
// percentile of 50 is the median.
type FrameTime struct {
	name       string
	percentile float64
	samples    []float64
}

func NewFrameTime(percentile float64) *FrameTime {
	name := "frame_ms_p" + strconv.FormatFloat(percentile, 'f', -1, 64)
	return &FrameTime{name: name, percentile: percentile}
}

func (m *FrameTime) Name() string { return m.name }

func (m *FrameTime) Observe(f loop.Frame) {
	m.samples = append(m.samples, toMillis(f.Duration))
}

func (m *FrameTime) Value() float64 {
	return Percentile(m.samples, m.percentile)
}

func (m *FrameTime) Reset() { m.samples = m.samples[:0] }

// MeanFrameTime is the average frame duration in milliseconds.
type MeanFrameTime struct {
	sum     float64
	samples int
}

func NewMeanFrameTime() *MeanFrameTime { return &MeanFrameTime{} }

func (m *MeanFrameTime) Name() string { return "frame_ms_mean" }

func (m *MeanFrameTime) Observe(f loop.Frame) {
	m.sum += toMillis(f.Duration)
	m.samples++
}

func (m *MeanFrameTime) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *MeanFrameTime) Reset() { m.sum, m.samples = 0, 0 }

// StepRatio is the fraction of frames that advanced the simulation.
type StepRatio struct {
	stepped int
	samples int
}

func NewStepRatio() *StepRatio { return &StepRatio{} }

func (m *StepRatio) Name() string { return "step_ratio" }

func (m *StepRatio) Observe(f loop.Frame) {
	m.samples++
	if f.Stepped {
		m.stepped++
	}
}

func (m *StepRatio) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return float64(m.stepped) / float64(m.samples)
}

func (m *StepRatio) Reset() { m.stepped, m.samples = 0, 0 }

// Percentile uses nearest-rank on a sorted copy; empty input yields 0.
func Percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

func toMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// Collector feeds every frame to a set of metrics.
type Collector struct {
	metrics   []Metric
	durations []float64
}

func NewCollector(ms ...Metric) *Collector {
	return &Collector{metrics: ms}
}

// Observe has the signature loop.Controller.OnFrame expects.
func (c *Collector) Observe(f loop.Frame) {
	c.durations = append(c.durations, toMillis(f.Duration))
	for _, m := range c.metrics {
		m.Observe(f)
	}
}

// Durations returns the frame times seen so far, in milliseconds.
func (c *Collector) Durations() []float64 { return c.durations }

func (c *Collector) Values() map[string]float64 {
	out := make(map[string]float64, len(c.metrics))
	for _, m := range c.metrics {
		out[m.Name()] = m.Value()
	}
	return out
}

func (c *Collector) Reset() {
	c.durations = c.durations[:0]
	for _, m := range c.metrics {
		m.Reset()
	}
}
