package rmapi

import "context"

// ResourceTracker is the node-facing half of the controller's
// ResourceTracker service: the three calls the node status updater makes
// over the lifetime of a node.
type ResourceTracker interface {
	RegisterNodeManager(ctx context.Context, req *RegisterNodeManagerRequest) (*RegisterNodeManagerResponse, error)
	NodeHeartbeat(ctx context.Context, req *NodeHeartbeatRequest) (*NodeHeartbeatResponse, error)
	UnRegisterNodeManager(ctx context.Context, req *UnRegisterNodeManagerRequest) error
}
