// Package rmfake is an in-memory stand-in for the cluster controller's
// ResourceTracker service, grounded in the register/heartbeat handlers of
// pkg/api/server.go and the epoch/expiry bookkeeping of
// pkg/manager/token.go. It backs the node status updater's tests and the
// `nsu-agent simulate` subcommand, letting either drive a registration and
// a sequence of heartbeats without a real controller.
package rmfake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/nsu-agent/pkg/rmapi"
	"github.com/cuemby/nsu-agent/pkg/types"
)

// nodeRecord is what the fake controller remembers about a registered node.
type nodeRecord struct {
	rmIdentifier   int64
	lastResponseID int64
	registeredAt   time.Time
}

// Controller is a mutex-guarded in-memory ResourceTracker. It satisfies
// rmapi.ResourceTracker.
type Controller struct {
	mu    sync.Mutex
	nodes map[types.NodeID]*nodeRecord
	epoch int64

	rmVersion string

	// Scripted behavior, set by test code between calls.
	nextRegisterAction rmapi.NodeAction
	nextAction         rmapi.NodeAction
	nextInterval       time.Duration
	nextContainerKey   *types.MasterKey
	nextNMKey          *types.MasterKey
	cleanupContainers  []types.ContainerID
	cleanupApps        []types.ApplicationID
	removeContainers   []types.ContainerID
	updateContainers   []types.ContainerStatus
	signalContainers   []types.ContainerID
	systemCredentials  []rmapi.SystemCredential
}

// NewController creates an empty fake controller at epoch 1.
func NewController() *Controller {
	return &Controller{
		nodes:              make(map[types.NodeID]*nodeRecord),
		epoch:              1,
		rmVersion:          "3.0.0",
		nextRegisterAction: rmapi.NodeActionNormal,
		nextAction:         rmapi.NodeActionNormal,
		nextInterval:       10 * time.Second,
	}
}

// SetNextRegisterAction scripts the NodeAction the next
// RegisterNodeManager response will carry (NORMAL by default). Used to
// exercise the registrar's SHUTDOWN-at-registration path.
func (c *Controller) SetNextRegisterAction(action rmapi.NodeAction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextRegisterAction = action
}

// SetRMVersion scripts the version this controller reports back on
// registration, used to exercise the minimum-version gate.
func (c *Controller) SetRMVersion(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rmVersion = version
}

// SetNextAction scripts the NodeAction the next heartbeat response will
// carry (NORMAL by default).
func (c *Controller) SetNextAction(action rmapi.NodeAction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextAction = action
}

// SetNextInterval scripts the nextHeartBeatInterval the next response
// carries.
func (c *Controller) SetNextInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextInterval = d
}

// RotateContainerTokenKey schedules a fresh container-token master key on
// the next heartbeat response.
func (c *Controller) RotateContainerTokenKey(key *types.MasterKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextContainerKey = key
}

// RotateNMTokenKey schedules a fresh node-token master key on the next
// heartbeat response.
func (c *Controller) RotateNMTokenKey(key *types.MasterKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextNMKey = key
}

// ScheduleCleanup queues containers/applications to be reported for
// cleanup on the next heartbeat response.
func (c *Controller) ScheduleCleanup(containers []types.ContainerID, apps []types.ApplicationID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupContainers = containers
	c.cleanupApps = apps
}

// ScheduleRemoveFromNM queues containersToBeRemovedFromNM entries for the
// next heartbeat response.
func (c *Controller) ScheduleRemoveFromNM(containers []types.ContainerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeContainers = containers
}

// ScheduleSystemCredentials queues systemCredentialsForApps entries for the
// next heartbeat response.
func (c *Controller) ScheduleSystemCredentials(creds []rmapi.SystemCredential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemCredentials = creds
}

// RegisterNodeManager implements rmapi.ResourceTracker.
func (c *Controller) RegisterNodeManager(ctx context.Context, req *rmapi.RegisterNodeManagerRequest) (*rmapi.RegisterNodeManagerResponse, error) {
	if req.NodeID == "" {
		return nil, fmt.Errorf("rmfake: empty node id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.nodes[req.NodeID] = &nodeRecord{
		rmIdentifier: c.epoch,
		registeredAt: time.Now(),
	}

	return &rmapi.RegisterNodeManagerResponse{
		RMIdentifier:              c.epoch,
		RMVersion:                 c.rmVersion,
		NodeAction:                c.nextRegisterAction,
		ContainerTokenMasterKey:   &types.MasterKey{KeyID: 1, Bytes: fixedTestKey(1)},
		NMTokenMasterKey:          &types.MasterKey{KeyID: 1, Bytes: fixedTestKey(2)},
		AreNodeLabelsAcceptedByRM: true,
	}, nil
}

// NodeHeartbeat implements rmapi.ResourceTracker.
func (c *Controller) NodeHeartbeat(ctx context.Context, req *rmapi.NodeHeartbeatRequest) (*rmapi.NodeHeartbeatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.nodes[req.NodeID]
	if !ok {
		return nil, fmt.Errorf("rmfake: node %s not registered", req.NodeID)
	}

	rec.lastResponseID++

	resp := &rmapi.NodeHeartbeatResponse{
		ResponseID:                  rec.lastResponseID,
		NodeAction:                  c.nextAction,
		NextHeartbeatInterval:       c.nextInterval,
		ContainerTokenMasterKey:     c.nextContainerKey,
		NMTokenMasterKey:            c.nextNMKey,
		ContainersToCleanup:         c.cleanupContainers,
		ApplicationsToCleanup:       c.cleanupApps,
		ContainersToBeRemovedFromNM: c.removeContainers,
		ContainersToUpdate:          c.updateContainers,
		ContainersToSignal:          c.signalContainers,
		SystemCredentialsForApps:    c.systemCredentials,
		AreNodeLabelsAcceptedByRM:   true,
	}

	// Rotations and cleanup directives are one-shot: once reported, clear
	// them so the next heartbeat goes back to steady state unless the test
	// schedules something new.
	c.nextContainerKey = nil
	c.nextNMKey = nil
	c.cleanupContainers = nil
	c.cleanupApps = nil
	c.removeContainers = nil
	c.systemCredentials = nil

	return resp, nil
}

// UnRegisterNodeManager implements rmapi.ResourceTracker.
func (c *Controller) UnRegisterNodeManager(ctx context.Context, req *rmapi.UnRegisterNodeManagerRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, req.NodeID)
	return nil
}

func fixedTestKey(salt byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = salt
	}
	return key
}
