package nsu

import (
	"sync"

	"github.com/cuemby/nsu-agent/pkg/metrics"
	"github.com/cuemby/nsu-agent/pkg/types"
)

// PendingCompletionBuffer holds COMPLETE container statuses that must be
// re-reported on every heartbeat until the controller acknowledges a
// round that included them. It is accessed only from the heartbeat loop
// goroutine and the status collector it calls, so it needs no locking of
// its own for that access pattern; the mutex here only guards against the
// metrics/test code reading Len concurrently.
type PendingCompletionBuffer struct {
	mu      sync.Mutex
	pending map[types.ContainerID]types.ContainerStatus
}

// NewPendingCompletionBuffer creates an empty buffer.
func NewPendingCompletionBuffer() *PendingCompletionBuffer {
	return &PendingCompletionBuffer{pending: make(map[types.ContainerID]types.ContainerStatus)}
}

// Add records a newly completed container's status for re-reporting.
func (b *PendingCompletionBuffer) Add(status types.ContainerStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[status.ContainerID] = status.Clone()
	metrics.PendingCompletionBacklog.Set(float64(len(b.pending)))
}

// Entries returns every currently pending completion, to be appended to
// the outgoing NodeStatus on each tick.
func (b *PendingCompletionBuffer) Entries() []types.ContainerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.ContainerStatus, 0, len(b.pending))
	for _, status := range b.pending {
		out = append(out, status)
	}
	return out
}

// Clear empties the buffer once a heartbeat round has been acknowledged
// without a missed-heartbeat condition.
func (b *PendingCompletionBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = make(map[types.ContainerID]types.ContainerStatus)
	metrics.PendingCompletionBacklog.Set(0)
}

// Len reports how many completions are currently outstanding.
func (b *PendingCompletionBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
