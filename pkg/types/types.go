package types

import "time"

// NodeID is the opaque, stable identifier of a worker node (host + port).
// It is created once at agent startup and never changes afterward.
type NodeID string

// Resource is a capacity pair tracked both as advertised (totalResource)
// and detected (physicalResource) capacity.
type Resource struct {
	MemoryMiB uint64
	VCores    uint32
}

// Add returns the element-wise sum of r and other.
func (r Resource) Add(other Resource) Resource {
	return Resource{
		MemoryMiB: r.MemoryMiB + other.MemoryMiB,
		VCores:    r.VCores + other.VCores,
	}
}

// ApplicationID identifies a controller-scheduled application.
type ApplicationID string

// ApplicationAttemptID identifies one attempt of an application.
type ApplicationAttemptID struct {
	ApplicationID ApplicationID
	AttemptNumber uint32
}

// ContainerID identifies a single container, ordered first by its owning
// application attempt and then by sequence number so that two IDs from the
// same attempt compare in launch order.
type ContainerID struct {
	AttemptID ApplicationAttemptID
	Sequence  uint64
}

// Less reports whether id sorts before other.
func (id ContainerID) Less(other ContainerID) bool {
	if id.AttemptID.ApplicationID != other.AttemptID.ApplicationID {
		return id.AttemptID.ApplicationID < other.AttemptID.ApplicationID
	}
	if id.AttemptID.AttemptNumber != other.AttemptID.AttemptNumber {
		return id.AttemptID.AttemptNumber < other.AttemptID.AttemptNumber
	}
	return id.Sequence < other.Sequence
}

// ContainerState is the lifecycle state of a container as tracked locally.
type ContainerState string

const (
	ContainerStateNew       ContainerState = "NEW"
	ContainerStateRunning   ContainerState = "RUNNING"
	ContainerStateComplete  ContainerState = "COMPLETE"
	ContainerStatePaused    ContainerState = "PAUSED"
	ContainerStateScheduled ContainerState = "SCHEDULED"
)

// ContainerStatus is the status snapshot of a single container as reported
// to the controller.
type ContainerStatus struct {
	ContainerID     ContainerID
	State           ContainerState
	Diagnostics     string
	ExitStatus      int32
	Capability      []string
	IsOpportunistic bool
}

// Clone returns a deep-enough copy of the status for safe handoff across
// goroutine boundaries (the Capability slice is copied, not aliased).
func (s ContainerStatus) Clone() ContainerStatus {
	clone := s
	if s.Capability != nil {
		clone.Capability = append([]string(nil), s.Capability...)
	}
	return clone
}

// ApplicationState is the phase of an application as known locally, used to
// decide when a completed container may be garbage-collected.
type ApplicationState string

const (
	ApplicationStateRunning                 ApplicationState = "RUNNING"
	ApplicationStateFinishingContainersWait  ApplicationState = "FINISHING_CONTAINERS_WAIT"
	ApplicationStateResourcesCleaningUp      ApplicationState = "APPLICATION_RESOURCES_CLEANINGUP"
	ApplicationStateFinished                 ApplicationState = "FINISHED"
)

// IsTerminal reports whether the application has reached a phase from which
// its completed containers are eligible for local removal.
func (s ApplicationState) IsTerminal() bool {
	switch s {
	case ApplicationStateFinishingContainersWait, ApplicationStateResourcesCleaningUp, ApplicationStateFinished:
		return true
	default:
		return false
	}
}

// NodeHealthStatus mirrors the node's last health-check outcome.
type NodeHealthStatus struct {
	IsNodeHealthy  bool
	HealthReport   string
	LastReportTime time.Time
}

// Utilization reports aggregate CPU/memory usage, either for the
// container-managed slice of the node or the whole node.
type Utilization struct {
	CPUUtilization float32
	PMemUsedMiB    uint64
	VMemUsedMiB    uint64
}

// OpportunisticContainersStatus summarizes queued/running opportunistic
// (over-subscribed) container counts, attached verbatim to each heartbeat.
type OpportunisticContainersStatus struct {
	RunningOpportunisticContainers int32
	QueuedOpportunisticContainers  int32
	WaitQueueLength                int32
}

// ContainerQueuingLimit is a controller-issued ceiling on how many
// opportunistic containers this node may queue locally.
type ContainerQueuingLimit struct {
	MaxQueueLength int32
}

// AppCollectorData is a (timeline collector address, write-generation) pair
// used to resolve happens-before ordering among collector updates for a
// single application.
type AppCollectorData struct {
	ApplicationID ApplicationID
	CollectorAddr string
	RMIdentifier  int64
	Version       int64
}

// HappensBefore reports whether other strictly supersedes d, following the
// controller-epoch-then-version ordering used to decide whether an
// incoming collector address update should replace the known one.
func (d AppCollectorData) HappensBefore(other AppCollectorData) bool {
	if d.RMIdentifier != other.RMIdentifier {
		return d.RMIdentifier < other.RMIdentifier
	}
	return d.Version < other.Version
}

// MasterKeyKind distinguishes the two rotating symmetric keys the
// controller hands out.
type MasterKeyKind string

const (
	MasterKeyContainerToken MasterKeyKind = "container-token"
	MasterKeyNMToken        MasterKeyKind = "node-token"
)

// MasterKey is a rotating symmetric key used to mint and validate security
// tokens. KeyID identifies which rotation the key belongs to; Bytes is the
// raw key material. security.SecretManager keeps only the latest key, so
// payloads sealed under a previous key no longer open after a rotation.
type MasterKey struct {
	KeyID int64
	Bytes []byte
}
