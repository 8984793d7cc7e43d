package nsu

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/nsu-agent/pkg/rmapi"
	"github.com/cuemby/nsu-agent/pkg/security"
	"github.com/cuemby/nsu-agent/pkg/types"
)

// ContainmentSync is the top-level "synchronized(context)" monitor spec.md
// §4.1/§5/§9 describe: Registrar.Register holds it across reading the
// container/application snapshot, calling the controller, and publishing
// the resulting rmIdentifier, so a concurrent container admission
// (SetContainer, MarkIncreased) observes either the pre-registration or the
// post-registration cut, never something in between. PublishRMIdentifier is
// normally called that way, under Lock; HeartbeatLoop also calls it
// directly (without the monitor) to clear the identifier to 0 on RESYNC,
// which has no admission race to guard against. RMIdentifier is safe to
// call at any time.
type ContainmentSync interface {
	Lock()
	Unlock()
	PublishRMIdentifier(id int64)
	RMIdentifier() int64
}

// Containment is the consumed "Context" capability: the containment
// subsystem's container/application maps and the monitors and secret
// managers the node status updater reads from and writes into. Container
// execution itself is out of scope for this agent; Containment is the
// seam a real container runtime plugs into.
type Containment interface {
	ContainmentSync

	// Snapshot returns a clone of every container currently tracked
	// locally. COMPLETE entries whose application has reached a terminal
	// phase are removed from the live map as part of taking the snapshot,
	// mirroring the status collector's fold-in-removal behavior.
	Snapshot() []types.ContainerStatus

	// ApplicationState reports the last known lifecycle phase of an
	// application, or false if the application is unknown locally.
	ApplicationState(id types.ApplicationID) (types.ApplicationState, bool)

	// ContainerExists reports whether id is still present in the live
	// container map, used by the Recently-Stopped Cache's GC pass to
	// confirm an entry is eligible for eviction (spec.md §3 invariant c).
	ContainerExists(id types.ContainerID) bool

	// DrainIncreasedContainers returns and clears the set of containers
	// whose resource allocation grew since the last drain.
	DrainIncreasedContainers() []types.ContainerStatus

	// RemoveContainers deletes the given containers from the live map,
	// used for containersToBeRemovedFromNM.
	RemoveContainers(ids []types.ContainerID)

	// UpdateContainers applies controller-pushed updates to local
	// container records (containersToUpdate).
	UpdateContainers(statuses []types.ContainerStatus)

	// RemoveFromStateStore deletes a container's recovery-state-store
	// entry. Failures are logged by the caller, never fatal.
	RemoveFromStateStore(id types.ContainerID) error

	// OpportunisticContainersStatus reports the current queue summary
	// attached to every NodeStatus snapshot.
	OpportunisticContainersStatus() types.OpportunisticContainersStatus

	// UpdateQueuingLimit applies a controller-issued ceiling on queued
	// opportunistic containers.
	UpdateQueuingLimit(limit types.ContainerQueuingLimit)

	// Utilization returns the container-aggregate and whole-node
	// utilization snapshots.
	Utilization() (containers types.Utilization, node types.Utilization)

	// HealthStatus returns the node's last health-check outcome.
	HealthStatus() types.NodeHealthStatus

	// Decommissioned/SetDecommissioned track whether a SHUTDOWN directive
	// has already been applied to this node.
	Decommissioned() bool
	SetDecommissioned(bool)

	// ContainerTokenSecrets and NMTokenSecrets are the two master-key
	// managers the Registrar and Heartbeat Loop install rotated keys into.
	ContainerTokenSecrets() *security.SecretManager
	NMTokenSecrets() *security.SecretManager

	// KnownCollectors and RegisteringCollectors back the timeline-v2
	// collector-address merge step of the heartbeat loop.
	KnownCollectors() map[types.ApplicationID]types.AppCollectorData
	RegisteringCollectors() []types.AppCollectorData
	MergeCollector(data types.AppCollectorData)
	RunningApplications() []types.ApplicationID

	// InstallSystemCredentials stores the controller-pushed per-application
	// credential payloads (heartbeat response's systemCredentialsForApps)
	// so local token minting can use them without another round trip.
	InstallSystemCredentials(creds []rmapi.SystemCredential)
}

// LocalContainment is an in-memory Containment used by tests and by
// `nsu-agent simulate`; it holds exactly the state the spec attributes to
// the containment subsystem, guarded the way worker.go guards its
// containers map (an RWMutex around the live map), plus the separate
// registrationMu monitor ContainmentSync exposes to Register.
type LocalContainment struct {
	mu sync.RWMutex

	// registrationMu is the top-level ContainmentSync monitor; it is
	// distinct from mu because Register holds it across a round trip to
	// the controller, far longer than any mu-protected critical section.
	registrationMu sync.Mutex
	rmIdentifier   atomic.Int64

	containers   map[types.ContainerID]types.ContainerStatus
	applications map[types.ApplicationID]types.ApplicationState
	increased    []types.ContainerStatus

	opportunistic types.OpportunisticContainersStatus
	queuingLimit  types.ContainerQueuingLimit

	containerUtil types.Utilization
	nodeUtil      types.Utilization
	health        types.NodeHealthStatus

	decommissioned bool

	containerTokenSecrets *security.SecretManager
	nmTokenSecrets        *security.SecretManager

	knownCollectors       map[types.ApplicationID]types.AppCollectorData
	registeringCollectors []types.AppCollectorData

	systemCredentials map[types.ApplicationID][]byte

	stateStore *BoltStateStore
}

// NewLocalContainment creates an empty containment state with fresh,
// unkeyed secret managers.
func NewLocalContainment() *LocalContainment {
	return &LocalContainment{
		containers:            make(map[types.ContainerID]types.ContainerStatus),
		applications:          make(map[types.ApplicationID]types.ApplicationState),
		containerTokenSecrets: security.NewSecretManager(types.MasterKeyContainerToken),
		nmTokenSecrets:        security.NewSecretManager(types.MasterKeyNMToken),
		knownCollectors:       make(map[types.ApplicationID]types.AppCollectorData),
		health:                types.NodeHealthStatus{IsNodeHealthy: true},
		systemCredentials:     make(map[types.ApplicationID][]byte),
	}
}

// Lock acquires the ContainmentSync monitor. See ContainmentSync for why
// this is a separate mutex from mu.
func (c *LocalContainment) Lock() {
	c.registrationMu.Lock()
}

// Unlock releases the ContainmentSync monitor.
func (c *LocalContainment) Unlock() {
	c.registrationMu.Unlock()
}

// PublishRMIdentifier stores the controller-assigned identifier so it is
// visible to any reader before Register's caller releases the monitor.
func (c *LocalContainment) PublishRMIdentifier(id int64) {
	c.rmIdentifier.Store(id)
}

// RMIdentifier returns the last published identifier, 0 before the first
// successful registration or after a RESYNC invalidates it.
func (c *LocalContainment) RMIdentifier() int64 {
	return c.rmIdentifier.Load()
}

// SetContainer installs or overwrites a container's status, as the
// containment subsystem would on container admission or a runtime
// callback. It also serializes against the ContainmentSync monitor: an
// admission racing a registration in flight blocks until the registration
// either completes or fails, so it never lands in the gap between the
// snapshot Register read and the rmIdentifier it publishes. Exposed for
// tests/simulate driving local state.
func (c *LocalContainment) SetContainer(status types.ContainerStatus) {
	c.registrationMu.Lock()
	defer c.registrationMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.containers[status.ContainerID] = status.Clone()
}

// SetApplicationState records an application's lifecycle phase.
func (c *LocalContainment) SetApplicationState(id types.ApplicationID, state types.ApplicationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applications[id] = state
}

// MarkIncreased records a container as having grown its allocation,
// surfaced on the next DrainIncreasedContainers call. Serialized against
// the ContainmentSync monitor for the same reason as SetContainer.
func (c *LocalContainment) MarkIncreased(status types.ContainerStatus) {
	c.registrationMu.Lock()
	defer c.registrationMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.increased = append(c.increased, status.Clone())
}

func (c *LocalContainment) Snapshot() []types.ContainerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.ContainerStatus, 0, len(c.containers))
	for id, status := range c.containers {
		out = append(out, status.Clone())
		if status.State == types.ContainerStateComplete {
			if appState, ok := c.applications[id.AttemptID.ApplicationID]; ok && appState.IsTerminal() {
				delete(c.containers, id)
			}
		}
	}
	return out
}

func (c *LocalContainment) ApplicationState(id types.ApplicationID) (types.ApplicationState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.applications[id]
	return state, ok
}

func (c *LocalContainment) ContainerExists(id types.ContainerID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.containers[id]
	return ok
}

func (c *LocalContainment) DrainIncreasedContainers() []types.ContainerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	drained := c.increased
	c.increased = nil
	return drained
}

func (c *LocalContainment) RemoveContainers(ids []types.ContainerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.containers, id)
	}
}

func (c *LocalContainment) UpdateContainers(statuses []types.ContainerStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, status := range statuses {
		c.containers[status.ContainerID] = status.Clone()
	}
}

// SetStateStore attaches a recovery state store that RemoveFromStateStore
// writes completion tombstones into. Without one, RemoveFromStateStore is
// a no-op, matching a node with recovery disabled.
func (c *LocalContainment) SetStateStore(store *BoltStateStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateStore = store
}

// RemoveFromStateStore writes a completion tombstone through the attached
// state store, or does nothing if none is attached.
func (c *LocalContainment) RemoveFromStateStore(id types.ContainerID) error {
	c.mu.RLock()
	store := c.stateStore
	c.mu.RUnlock()
	if store == nil {
		return nil
	}
	return store.RemoveFromStateStore(id)
}

func (c *LocalContainment) OpportunisticContainersStatus() types.OpportunisticContainersStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opportunistic
}

func (c *LocalContainment) UpdateQueuingLimit(limit types.ContainerQueuingLimit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queuingLimit = limit
}

func (c *LocalContainment) Utilization() (types.Utilization, types.Utilization) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.containerUtil, c.nodeUtil
}

func (c *LocalContainment) HealthStatus() types.NodeHealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

func (c *LocalContainment) Decommissioned() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.decommissioned
}

func (c *LocalContainment) SetDecommissioned(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decommissioned = v
}

func (c *LocalContainment) ContainerTokenSecrets() *security.SecretManager {
	return c.containerTokenSecrets
}

func (c *LocalContainment) NMTokenSecrets() *security.SecretManager {
	return c.nmTokenSecrets
}

func (c *LocalContainment) KnownCollectors() map[types.ApplicationID]types.AppCollectorData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[types.ApplicationID]types.AppCollectorData, len(c.knownCollectors))
	for k, v := range c.knownCollectors {
		out[k] = v
	}
	return out
}

func (c *LocalContainment) RegisteringCollectors() []types.AppCollectorData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.AppCollectorData(nil), c.registeringCollectors...)
}

func (c *LocalContainment) MergeCollector(data types.AppCollectorData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.knownCollectors[data.ApplicationID]
	if !ok || existing.HappensBefore(data) {
		c.knownCollectors[data.ApplicationID] = data
	}
}

// InstallSystemCredentials overwrites each application's stored credential
// payload with the controller's latest push.
func (c *LocalContainment) InstallSystemCredentials(creds []rmapi.SystemCredential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cred := range creds {
		c.systemCredentials[cred.ApplicationID] = cred.Credential
	}
}

// SystemCredential returns the last credential payload installed for id, if
// any. Exposed for tests and for a real token-minting path to consult.
func (c *LocalContainment) SystemCredential(id types.ApplicationID) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cred, ok := c.systemCredentials[id]
	return cred, ok
}

func (c *LocalContainment) RunningApplications() []types.ApplicationID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.ApplicationID, 0, len(c.applications))
	for id, state := range c.applications {
		if !state.IsTerminal() {
			out = append(out, id)
		}
	}
	return out
}
