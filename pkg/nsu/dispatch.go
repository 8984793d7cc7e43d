package nsu

import (
	"github.com/cuemby/nsu-agent/pkg/events"
	"github.com/cuemby/nsu-agent/pkg/rmapi"
	"github.com/cuemby/nsu-agent/pkg/types"
)

// dispatchAdapter is a pure translator from heartbeat-response fields into
// typed events on the local bus. It carries no state beyond the sink it
// publishes onto.
type dispatchAdapter struct {
	bus *events.Broker
}

func newDispatchAdapter(bus *events.Broker) *dispatchAdapter {
	return &dispatchAdapter{bus: bus}
}

func (d *dispatchAdapter) completedContainers(ids []types.ContainerID) {
	if len(ids) == 0 {
		return
	}
	d.bus.Publish(&events.Event{
		Type:         events.EventCompletedContainers,
		ContainerIDs: ids,
		Reason:       events.ReasonByResourceManager,
	})
}

func (d *dispatchAdapter) completedApps(ids []types.ApplicationID) {
	if len(ids) == 0 {
		return
	}
	d.bus.Publish(&events.Event{
		Type:           events.EventCompletedApps,
		ApplicationIDs: ids,
		Reason:         events.ReasonByResourceManager,
	})
}

func (d *dispatchAdapter) updateContainers(statuses []types.ContainerStatus) {
	if len(statuses) == 0 {
		return
	}
	d.bus.Publish(&events.Event{
		Type:       events.EventUpdateContainers,
		Containers: statuses,
	})
}

func (d *dispatchAdapter) signalContainers(ids []types.ContainerID) {
	if len(ids) == 0 {
		return
	}
	d.bus.Publish(&events.Event{
		Type:         events.EventSignalContainers,
		ContainerIDs: ids,
	})
}

func (d *dispatchAdapter) shutdown(message string) {
	d.bus.Publish(&events.Event{
		Type:    events.EventNodeShutdown,
		Message: message,
	})
}

func (d *dispatchAdapter) resync(message string) {
	d.bus.Publish(&events.Event{
		Type:    events.EventNodeResync,
		Message: message,
	})
}

// applyResponse runs every dispatch step the heartbeat loop's normal
// (non-SHUTDOWN, non-RESYNC) branch fans out to a single heartbeat
// response.
func (d *dispatchAdapter) applyResponse(resp *rmapi.NodeHeartbeatResponse, containment Containment) {
	d.completedContainers(resp.ContainersToCleanup)

	if len(resp.ApplicationsToCleanup) > 0 {
		d.completedApps(resp.ApplicationsToCleanup)
	}

	d.updateContainers(resp.ContainersToUpdate)
	d.signalContainers(resp.ContainersToSignal)

	if resp.ContainerQueuingLimit != nil {
		containment.UpdateQueuingLimit(*resp.ContainerQueuingLimit)
	}
}
