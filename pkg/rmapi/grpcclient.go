package rmapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// Full method names for the controller's ResourceTracker service. There is
// no generated client here (see doc.go); Invoke is called against these
// directly, the same low-level path grpc.ClientConn's generated stubs use
// under the hood.
const (
	methodRegisterNodeManager   = "/resourcetracker.ResourceTrackerService/RegisterNodeManager"
	methodNodeHeartbeat         = "/resourcetracker.ResourceTrackerService/NodeHeartbeat"
	methodUnRegisterNodeManager = "/resourcetracker.ResourceTrackerService/UnRegisterNodeManager"
)

// GRPCResourceTracker implements ResourceTracker over an established
// *grpc.ClientConn. Dialing, TLS, and retry/backoff policy are the
// caller's responsibility; this type only knows how to shape the three
// calls.
type GRPCResourceTracker struct {
	conn *grpc.ClientConn
}

// NewGRPCResourceTracker wraps an already-dialed connection.
func NewGRPCResourceTracker(conn *grpc.ClientConn) *GRPCResourceTracker {
	return &GRPCResourceTracker{conn: conn}
}

func (c *GRPCResourceTracker) RegisterNodeManager(ctx context.Context, req *RegisterNodeManagerRequest) (*RegisterNodeManagerResponse, error) {
	resp := &RegisterNodeManagerResponse{}
	if err := c.conn.Invoke(ctx, methodRegisterNodeManager, req, resp); err != nil {
		return nil, fmt.Errorf("rmapi: registerNodeManager: %w", err)
	}
	return resp, nil
}

func (c *GRPCResourceTracker) NodeHeartbeat(ctx context.Context, req *NodeHeartbeatRequest) (*NodeHeartbeatResponse, error) {
	resp := &NodeHeartbeatResponse{}
	if err := c.conn.Invoke(ctx, methodNodeHeartbeat, req, resp); err != nil {
		return nil, fmt.Errorf("rmapi: nodeHeartbeat: %w", err)
	}
	return resp, nil
}

func (c *GRPCResourceTracker) UnRegisterNodeManager(ctx context.Context, req *UnRegisterNodeManagerRequest) error {
	if err := c.conn.Invoke(ctx, methodUnRegisterNodeManager, req, &struct{}{}); err != nil {
		return fmt.Errorf("rmapi: unRegisterNodeManager: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *GRPCResourceTracker) Close() error {
	return c.conn.Close()
}
