/*
Package rmapi is the consumed "Controller ResourceTracker" capability: the
three RPCs the node status updater calls on the cluster controller
(registerNodeManager, nodeHeartbeat, unRegisterNodeManager) and the request
and response messages they carry.

ResourceTracker is a plain Go interface rather than a generated gRPC
client/server pair, because the wire schema this agent talks is owned by
the controller side of the cluster, not by this repository — there is
nothing here to generate stubs from. GRPCResourceTracker implements the
interface over a *grpc.ClientConn using ClientConn.Invoke directly against
a fixed method set, the same low-level call the generated stubs would
make, so the gRPC dependency is exercised for real without fabricating a
protobuf schema. The request and response messages are plain Go structs;
none of them uses a protobuf type. Package rmfake provides an in-memory ResourceTracker for
tests and for `nsu-agent simulate`.
*/
package rmapi
