package nsu

import (
	"github.com/cuemby/nsu-agent/pkg/rmapi"
	"github.com/cuemby/nsu-agent/pkg/types"
)

// StatusCollector builds the per-tick NodeStatus snapshot the heartbeat
// loop attaches to each nodeHeartbeat call, folding container completion
// into the Pending-Completion Buffer and the Recently-Stopped Cache along
// the way.
type StatusCollector struct {
	containment Containment
	pending     *PendingCompletionBuffer
	stopped     *RecentlyStoppedCache
	keepAlive   *KeepAliveTracker
}

// NewStatusCollector wires the four containment-facing components a
// snapshot is built from.
func NewStatusCollector(containment Containment, pending *PendingCompletionBuffer, stopped *RecentlyStoppedCache, keepAlive *KeepAliveTracker) *StatusCollector {
	return &StatusCollector{
		containment: containment,
		pending:     pending,
		stopped:     stopped,
		keepAlive:   keepAlive,
	}
}

// Collect builds one NodeStatus snapshot, stamping it with responseID (the
// heartbeat loop's lastHeartbeatId, echoed back so the controller can
// detect a retransmit).
func (c *StatusCollector) Collect(responseID int64) rmapi.NodeStatus {
	var outgoing []types.ContainerStatus

	for _, status := range c.containment.Snapshot() {
		if status.State == types.ContainerStateComplete {
			c.pending.Add(status)
			c.stopped.Add(status.ContainerID)
			continue
		}
		outgoing = append(outgoing, status)
	}

	outgoing = append(outgoing, c.pending.Entries()...)

	containerUtil, nodeUtil := c.containment.Utilization()

	return rmapi.NodeStatus{
		ResponseID:              responseID,
		Health:                  c.containment.HealthStatus(),
		ContainerStatuses:       outgoing,
		IncreasedContainers:     c.containment.DrainIncreasedContainers(),
		ContainersUtilization:   containerUtil,
		NodeUtilization:         nodeUtil,
		OpportunisticContainers: c.containment.OpportunisticContainersStatus(),
		KeepAliveApplications:   c.keepAlive.CreateKeepAliveList(c.containment.RunningApplications()),
	}
}
