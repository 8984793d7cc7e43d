/*
Package events is the local event bus the dispatch adapter publishes onto
and the containment subsystem subscribes to. Delivery is best-effort: a
slow or absent subscriber never blocks the heartbeat loop, since
broadcast drops instead of blocking on a full subscriber buffer.
*/
package events
