/*
Package types defines the core domain model shared by the node status
updater: node identity and resources, container identifiers and status,
application lifecycle phase, and the small value types (utilization,
opportunistic-container summary, queuing limit, collector data) that
flow from the containment subsystem into each heartbeat.

These are plain value types with no I/O or locking of their own; package
nsu owns the concurrency discipline around them.
*/
package types
