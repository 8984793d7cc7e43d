package rmapi

import (
	"time"

	"github.com/cuemby/nsu-agent/pkg/types"
)

// NodeAction is the controller's instruction attached to a registration or
// heartbeat response.
type NodeAction string

const (
	NodeActionNormal   NodeAction = "NORMAL"
	NodeActionShutdown NodeAction = "SHUTDOWN"
	NodeActionResync   NodeAction = "RESYNC"
)

// NodeStatus is the per-tick snapshot the status collector builds and the
// heartbeat loop attaches to each nodeHeartbeat call.
type NodeStatus struct {
	ResponseID                   int64
	Health                       types.NodeHealthStatus
	ContainerStatuses            []types.ContainerStatus
	IncreasedContainers          []types.ContainerStatus
	ContainersUtilization        types.Utilization
	NodeUtilization              types.Utilization
	OpportunisticContainers      types.OpportunisticContainersStatus
	KeepAliveApplications        []types.ApplicationID
}

// RegisterNodeManagerRequest is the one-shot registration handshake.
type RegisterNodeManagerRequest struct {
	// RegistrationID correlates this attempt across the agent's own logs
	// and the controller's, independent of the rmIdentifier the
	// controller only assigns once the attempt succeeds.
	RegistrationID    string
	NodeID            types.NodeID
	HTTPPort          int32
	TotalResource     types.Resource
	PhysicalResource  types.Resource
	Version           string
	ContainerReports  []types.ContainerStatus
	RunningApps       []types.ApplicationID
	NodeLabels        []string
}

// RegisterNodeManagerResponse is the controller's reply to registration.
type RegisterNodeManagerResponse struct {
	RMIdentifier              int64
	RMVersion                 string
	NodeAction                NodeAction
	DiagnosticsMessage        string
	ContainerTokenMasterKey   *types.MasterKey
	NMTokenMasterKey          *types.MasterKey
	Resource                  *types.Resource
	AreNodeLabelsAcceptedByRM bool
}

// SystemCredential is a per-application credential payload the controller
// pushes down so the agent can mint tokens locally without another round
// trip.
type SystemCredential struct {
	ApplicationID types.ApplicationID
	Credential    []byte
}

// NodeHeartbeatRequest carries the latest NodeStatus snapshot plus the
// currently installed master keys (so the controller can detect a node
// that fell behind on a rotation) and any newly-registering timeline
// collectors.
type NodeHeartbeatRequest struct {
	NodeID                 types.NodeID
	Status                 NodeStatus
	ContainerTokenKeyID    int64
	NMTokenKeyID           int64
	NodeLabels             []string
	RegisteringCollectors  []types.AppCollectorData
	LogAggregationReports  [][]byte
}

// NodeHeartbeatResponse is the controller's reply to a heartbeat, carrying
// the directives the dispatch adapter translates into local events.
type NodeHeartbeatResponse struct {
	ResponseID                    int64
	NodeAction                    NodeAction
	DiagnosticsMessage            string
	NextHeartbeatInterval         time.Duration
	ContainerTokenMasterKey       *types.MasterKey
	NMTokenMasterKey              *types.MasterKey
	ContainersToCleanup           []types.ContainerID
	ApplicationsToCleanup         []types.ApplicationID
	ContainersToBeRemovedFromNM   []types.ContainerID
	ContainersToUpdate            []types.ContainerStatus
	ContainersToSignal            []types.ContainerID
	SystemCredentialsForApps      []SystemCredential
	AppCollectors                 []types.AppCollectorData
	ContainerQueuingLimit         *types.ContainerQueuingLimit
	AreNodeLabelsAcceptedByRM     bool
}

// UnRegisterNodeManagerRequest is the best-effort graceful-shutdown notice.
type UnRegisterNodeManagerRequest struct {
	NodeID types.NodeID
}
