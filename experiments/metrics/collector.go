package metrics

import (
	"sync/atomic"
	"time"
)

// SearchMetric captures the instrumentation of one Search call.
type SearchMetric struct {
	Goroutines     int
	BatchSize      int
	Cutoff         int
	Exploration    float64
	Duration       time.Duration
	Episodes       int
	Rollouts       int64
	FailedRollouts int64
	FullRollouts   int64 // rollouts that reached a terminal state before the cutoff
	TreeReused     bool
}

// Collector accumulates counters during a search. Implementations must be
// safe for concurrent use by all iteration pipelines.
type Collector interface {
	Start(goroutines, batch, cutoff int, exploration float64)
	SetTreeReused(reused bool)
	AddEpisode()
	AddRollouts(n int64)
	AddFailedRollouts(n int64)
	AddFullRollouts(n int64)
	Complete() SearchMetric
}

type collector struct {
	goroutines  int
	batch       int
	cutoff      int
	exploration float64
	startTime   time.Time
	episodes    atomic.Int64
	rollouts    atomic.Int64
	failed      atomic.Int64
	full        atomic.Int64
	treeReused  atomic.Bool
}

// NewCollector returns a recording collector backed by atomic counters.
func NewCollector() Collector {
	return &collector{}
}

func (c *collector) Start(goroutines, batch, cutoff int, exploration float64) {
	c.goroutines = goroutines
	c.batch = batch
	c.cutoff = cutoff
	c.exploration = exploration
	c.startTime = time.Now()
	c.episodes.Store(0)
	c.rollouts.Store(0)
	c.failed.Store(0)
	c.full.Store(0)
}

func (c *collector) SetTreeReused(reused bool) {
	c.treeReused.Store(reused)
}

func (c *collector) AddEpisode() {
	c.episodes.Add(1)
}

func (c *collector) AddRollouts(n int64) {
	c.rollouts.Add(n)
}

func (c *collector) AddFailedRollouts(n int64) {
	c.failed.Add(n)
}

func (c *collector) AddFullRollouts(n int64) {
	c.full.Add(n)
}

func (c *collector) Complete() SearchMetric {
	return SearchMetric{
		Goroutines:     c.goroutines,
		BatchSize:      c.batch,
		Cutoff:         c.cutoff,
		Exploration:    c.exploration,
		Duration:       time.Since(c.startTime),
		Episodes:       int(c.episodes.Load()),
		Rollouts:       c.rollouts.Load(),
		FailedRollouts: c.failed.Load(),
		FullRollouts:   c.full.Load(),
		TreeReused:     c.treeReused.Load(),
	}
}

type dummyCollector struct{}

// NewDummyCollector returns a no-op collector, the default when metrics are
// not requested.
func NewDummyCollector() Collector {
	return dummyCollector{}
}

func (dummyCollector) Start(int, int, int, float64) {}
func (dummyCollector) SetTreeReused(bool)           {}
func (dummyCollector) AddEpisode()                  {}
func (dummyCollector) AddRollouts(int64)            {}
func (dummyCollector) AddFailedRollouts(int64)      {}
func (dummyCollector) AddFullRollouts(int64)        {}
func (dummyCollector) Complete() SearchMetric       { return SearchMetric{} }
