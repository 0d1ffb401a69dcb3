package monitor

import (
	"sync"
	"time"
)

// Recorder receives step and run metrics from the search and reconcile paths.
type Recorder interface {
	RecordStep(m StepMetrics)
	RecordRun(m RunMetrics)
}

type stepTotals struct {
	count     int
	failures  int
	duration  time.Duration
	lastError string
}

type runTotals struct {
	count    int
	degraded int
	items    int
	errors   int
	duration time.Duration
}

// InMemoryCollector aggregates metrics in process since start or the last Reset.
type InMemoryCollector struct {
	mu        sync.RWMutex
	steps     map[string]*stepTotals
	runs      map[string]*runTotals
	startTime time.Time
}

func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		steps:     make(map[string]*stepTotals),
		runs:      make(map[string]*runTotals),
		startTime: time.Now(),
	}
}

func (c *InMemoryCollector) RecordStep(m StepMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := m.Op + "." + m.Step
	t, ok := c.steps[key]
	if !ok {
		t = &stepTotals{}
		c.steps[key] = t
	}
	t.count++
	t.duration += m.Duration
	if !m.Success {
		t.failures++
		t.lastError = m.Error
	}
}

func (c *InMemoryCollector) RecordRun(m RunMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.runs[m.Op]
	if !ok {
		t = &runTotals{}
		c.runs[m.Op] = t
	}
	t.count++
	t.items += m.Items
	t.errors += m.Errors
	t.duration += m.Duration
	if m.Degraded {
		t.degraded++
	}
}

func (c *InMemoryCollector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Summary{
		Since: c.startTime,
		Runs:  make(map[string]RunSummary, len(c.runs)),
		Steps: make(map[string]StepSummary, len(c.steps)),
	}
	for k, t := range c.runs {
		s.Runs[k] = RunSummary{
			Count:        t.count,
			Degraded:     t.degraded,
			Items:        t.items,
			Errors:       t.errors,
			AvgLatencyMs: avgMillis(t.duration, t.count),
		}
	}
	for k, t := range c.steps {
		s.Steps[k] = StepSummary{
			Count:        t.count,
			Failures:     t.failures,
			AvgLatencyMs: avgMillis(t.duration, t.count),
			LastError:    t.lastError,
		}
	}
	return s
}

func (c *InMemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = make(map[string]*stepTotals)
	c.runs = make(map[string]*runTotals)
	c.startTime = time.Now()
}

func avgMillis(d time.Duration, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(d.Milliseconds()) / float64(n)
}

type NoOpCollector struct{}

func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (c *NoOpCollector) RecordStep(m StepMetrics) {}

func (c *NoOpCollector) RecordRun(m RunMetrics) {}
