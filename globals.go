package main

import (
	"sync/atomic"
	"time"
)

// counters are the gateway's in-process metrics. They live on the Server,
// not at package level.
type counters struct {
	active      atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	rateLimited atomic.Int64
	processing  atomic.Int64 // total nanoseconds spent on completed downloads
	startedAt   time.Time
}

func newCounters() *counters {
	return &counters{startedAt: time.Now()}
}

func (c *counters) begin() {
	c.active.Add(1)
}

func (c *counters) succeed(elapsed time.Duration) {
	c.active.Add(-1)
	c.completed.Add(1)
	c.processing.Add(int64(elapsed))
}

func (c *counters) fail(kind FailureKind) {
	c.active.Add(-1)
	c.failed.Add(1)
	if kind == FailureRateLimited {
		c.rateLimited.Add(1)
	}
}

func (c *counters) successRate() float64 {
	completed := c.completed.Load()
	total := completed + c.failed.Load()
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

func (c *counters) avgProcessingSeconds() float64 {
	completed := c.completed.Load()
	if completed == 0 {
		return 0
	}
	return time.Duration(c.processing.Load() / completed).Seconds()
}
