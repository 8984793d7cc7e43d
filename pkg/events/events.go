package events

import (
	"sync"
	"time"

	"github.com/cuemby/nsu-agent/pkg/types"
)

// EventType identifies the kind of directive the dispatch adapter has
// translated from a heartbeat or registration response.
type EventType string

const (
	// EventCompletedContainers fires for containersToCleanup entries the
	// controller wants torn down locally.
	EventCompletedContainers EventType = "cmgr.completed_containers"
	// EventCompletedApps fires for applicationsToCleanup.
	EventCompletedApps EventType = "cmgr.completed_apps"
	// EventUpdateContainers fires for containersToUpdate.
	EventUpdateContainers EventType = "cmgr.update_containers"
	// EventSignalContainers fires for containersToSignalList.
	EventSignalContainers EventType = "cmgr.signal_containers"
	// EventNodeShutdown fires on a SHUTDOWN directive or unrecoverable
	// connect failure.
	EventNodeShutdown EventType = "node.shutdown"
	// EventNodeResync fires on a RESYNC directive.
	EventNodeResync EventType = "node.resync"
)

// CleanupReason records who asked for a container or application to be
// cleaned up, carried on Event so subscribers can distinguish a
// controller-driven cleanup from a locally-driven one.
type CleanupReason string

const (
	ReasonByResourceManager CleanupReason = "BY_RESOURCEMANAGER"
)

// Event is a single directive emitted by the dispatch adapter onto the
// local bus that the containment subsystem subscribes to.
type Event struct {
	Type           EventType
	Timestamp      time.Time
	ContainerIDs   []types.ContainerID
	ApplicationIDs []types.ApplicationID
	Containers     []types.ContainerStatus
	Reason         CleanupReason
	Message        string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans a single stream of events out to any number of subscribers,
// dropping a delivery to a subscriber whose buffer is full rather than
// blocking the dispatch adapter.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, drop rather than block the dispatcher
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
