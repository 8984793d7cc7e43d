package nsu

import "sync"

// LogAggregationQueue buffers per-container log-aggregation report
// payloads produced between heartbeats; the heartbeat loop drains it into
// each request when log aggregation is enabled.
type LogAggregationQueue struct {
	mu      sync.Mutex
	reports [][]byte
}

// NewLogAggregationQueue creates an empty queue.
func NewLogAggregationQueue() *LogAggregationQueue {
	return &LogAggregationQueue{}
}

// Enqueue appends a report payload.
func (q *LogAggregationQueue) Enqueue(report []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reports = append(q.reports, report)
}

// Drain returns and clears all buffered reports.
func (q *LogAggregationQueue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.reports
	q.reports = nil
	return drained
}

// Len reports how many reports are currently buffered.
func (q *LogAggregationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reports)
}
