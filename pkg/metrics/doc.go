/*
Package metrics defines the Prometheus metrics exposed by the node status
updater and the liveness/readiness helpers served alongside them.

Metrics are package-level vars registered at init() and updated in place by
the components that own the numbers: the registrar observes
RegistrationDuration, the heartbeat loop observes HeartbeatDuration and sets
MissedHeartbeats/LastHeartbeatID, the Pending-Completion Buffer and the
Recently-Stopped Cache set PendingCompletionBacklog and
RecentlyStoppedCacheSize, and so on. There is no
pull-based collector — a central poller made sense for a manager holding
cluster-wide state, but the node status updater already has each number in
hand at the point it changes, so it pushes.

	timer := metrics.NewTimer()
	resp, err := tracker.NodeHeartbeat(ctx, req)
	timer.ObserveDuration(metrics.HeartbeatDuration)

Handler exposes /metrics for Prometheus scraping. HealthHandler, ReadyHandler,
and LivenessHandler expose standard health endpoints; RegisterComponent marks
a subsystem healthy or unhealthy as it starts up and runs.
*/
package metrics
