package service

import "sync"

// RunSummary reports what a single runner invocation did.
type RunSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// summaryCollector accumulates a RunSummary across concurrent workers.
type summaryCollector struct {
	mu      sync.Mutex
	summary RunSummary
}

func (c *summaryCollector) addSucceeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Processed++
	c.summary.Succeeded++
}

func (c *summaryCollector) addFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Processed++
	c.summary.Failed++
}

func (c *summaryCollector) addSkipped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Processed++
	c.summary.Skipped++
}

func (c *summaryCollector) result() RunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}
