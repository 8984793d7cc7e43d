package nsu

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/nsu-agent/pkg/events"
	"github.com/cuemby/nsu-agent/pkg/rmapi"
	"github.com/cuemby/nsu-agent/pkg/rmapi/rmfake"
	"github.com/cuemby/nsu-agent/pkg/types"
)

type testRig struct {
	loop        *HeartbeatLoop
	controller  *rmfake.Controller
	containment *LocalContainment
	bus         *events.Broker
	sub         events.Subscriber
	pending     *PendingCompletionBuffer
	stopped     *RecentlyStoppedCache
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	controller := rmfake.NewController()
	containment := NewLocalContainment()
	bus := events.NewBroker()
	bus.Start()
	t.Cleanup(bus.Stop)
	sub := bus.Subscribe()
	t.Cleanup(func() { bus.Unsubscribe(sub) })

	pending := NewPendingCompletionBuffer()
	stoppedCache := NewRecentlyStoppedCache(time.Hour)
	keepAlive := NewKeepAliveTracker(false, time.Minute)
	collector := NewStatusCollector(containment, pending, stoppedCache, keepAlive)
	labels := NewCentralizedLabelsHandler()
	logAgg := NewLogAggregationQueue()

	cfg := testConfig()

	ctx := context.Background()
	regResp, err := controller.RegisterNodeManager(ctx, &rmapi.RegisterNodeManagerRequest{NodeID: "node-1"})
	if err != nil {
		t.Fatalf("RegisterNodeManager() error = %v", err)
	}

	loop := NewHeartbeatLoop(cfg, controller, containment, collector, labels, bus, stoppedCache, pending, keepAlive, logAgg, "node-1", regResp.RMIdentifier)

	return &testRig{
		loop:        loop,
		controller:  controller,
		containment: containment,
		bus:         bus,
		sub:         sub,
		pending:     pending,
		stopped:     stoppedCache,
	}
}

func (r *testRig) expectEvent(t *testing.T, want events.EventType) *events.Event {
	t.Helper()
	select {
	case ev := <-r.sub:
		if ev.Type != want {
			t.Fatalf("got event %v, want %v", ev.Type, want)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event %v", want)
		return nil
	}
}

func (r *testRig) expectNoEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.sub:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// S1: happy path.
func TestHeartbeatLoop_S1HappyPath(t *testing.T) {
	rig := newTestRig(t)
	rig.controller.SetNextInterval(1000 * time.Millisecond)
	rig.controller.ScheduleCleanup([]types.ContainerID{containerID(1)}, nil)

	terminal := rig.loop.tick(context.Background())
	if terminal {
		t.Fatal("tick() reported terminal on a normal response")
	}

	if rig.loop.RMIdentifier() == 0 {
		t.Error("expected rmIdentifier to remain set after a normal heartbeat")
	}
	if got := rig.loop.currentInterval(); got != 1000*time.Millisecond {
		t.Errorf("currentInterval() = %v, want 1s", got)
	}
	if rig.loop.lastHeartbeatID != 1 {
		t.Errorf("lastHeartbeatID = %d, want 1", rig.loop.lastHeartbeatID)
	}

	ev := rig.expectEvent(t, events.EventCompletedContainers)
	if ev.Reason != events.ReasonByResourceManager {
		t.Errorf("Reason = %v, want ReasonByResourceManager", ev.Reason)
	}
	if len(ev.ContainerIDs) != 1 || ev.ContainerIDs[0] != containerID(1) {
		t.Errorf("ContainerIDs = %v, want [%v]", ev.ContainerIDs, containerID(1))
	}
}

// S2: a container completes, the heartbeat that would report it fails,
// the next one succeeds; both carry its status. The recovering round only
// resets missed and keeps the completion buffered; the following clean
// round clears the pending buffer.
func TestHeartbeatLoop_S2MissedThenRecovered(t *testing.T) {
	rig := newTestRig(t)
	rig.containment.SetApplicationState("app-1", types.ApplicationStateRunning)
	rig.containment.SetContainer(types.ContainerStatus{ContainerID: containerID(7), State: types.ContainerStateComplete})

	// Force the first tick to fail by unregistering the node out from
	// under the loop so the fake controller returns an error.
	if err := rig.controller.UnRegisterNodeManager(context.Background(), &rmapi.UnRegisterNodeManagerRequest{NodeID: "node-1"}); err != nil {
		t.Fatalf("UnRegisterNodeManager() error = %v", err)
	}

	terminal := rig.loop.tick(context.Background())
	if terminal {
		t.Fatal("an ordinary heartbeat error must not be treated as terminal")
	}
	if !rig.loop.missed {
		t.Error("expected missed=true after a failed heartbeat")
	}
	if rig.pending.Len() != 1 {
		t.Errorf("pending.Len() = %d, want 1 (c7's completion buffered even though the RPC failed)", rig.pending.Len())
	}

	// Re-register so the next heartbeat succeeds.
	if _, err := rig.controller.RegisterNodeManager(context.Background(), &rmapi.RegisterNodeManagerRequest{NodeID: "node-1"}); err != nil {
		t.Fatalf("RegisterNodeManager() error = %v", err)
	}

	terminal = rig.loop.tick(context.Background())
	if terminal {
		t.Fatal("the recovering heartbeat must not be terminal")
	}
	if rig.loop.missed {
		t.Error("expected missed=false after the recovering heartbeat")
	}
	if rig.pending.Len() != 1 {
		t.Errorf("pending.Len() = %d, want 1 (the recovering heartbeat keeps completions buffered)", rig.pending.Len())
	}

	terminal = rig.loop.tick(context.Background())
	if terminal {
		t.Fatal("a clean heartbeat must not be terminal")
	}
	if rig.pending.Len() != 0 {
		t.Errorf("pending.Len() = %d, want 0 once a heartbeat succeeds without a prior miss", rig.pending.Len())
	}
}

// S3: SHUTDOWN directive.
func TestHeartbeatLoop_S3Shutdown(t *testing.T) {
	rig := newTestRig(t)
	rig.controller.SetNextAction(rmapi.NodeActionShutdown)

	terminal := rig.loop.tick(context.Background())
	if !terminal {
		t.Fatal("expected tick() to report terminal on SHUTDOWN")
	}
	if !rig.containment.Decommissioned() {
		t.Error("expected the node to be marked decommissioned")
	}
	rig.expectEvent(t, events.EventNodeShutdown)
}

// S4: RESYNC directive.
func TestHeartbeatLoop_S4Resync(t *testing.T) {
	rig := newTestRig(t)
	rig.pending.Add(types.ContainerStatus{ContainerID: containerID(1), State: types.ContainerStateComplete})
	rig.controller.SetNextAction(rmapi.NodeActionResync)

	terminal := rig.loop.tick(context.Background())
	if !terminal {
		t.Fatal("expected tick() to report terminal on RESYNC")
	}
	if rig.loop.RMIdentifier() != 0 {
		t.Error("expected rmIdentifier to be invalidated on RESYNC")
	}
	if rig.pending.Len() != 0 {
		t.Error("expected the pending-completion buffer to be cleared on RESYNC")
	}
	rig.expectEvent(t, events.EventNodeResync)
}

// S5: key rotation.
func TestHeartbeatLoop_S5KeyRotation(t *testing.T) {
	rig := newTestRig(t)
	key := &types.MasterKey{KeyID: 77, Bytes: make([]byte, 32)}
	rig.controller.RotateContainerTokenKey(key)

	rig.loop.tick(context.Background())

	if rig.containment.ContainerTokenSecrets().CurrentKeyID() != 77 {
		t.Errorf("ContainerTokenSecrets().CurrentKeyID() = %d, want 77", rig.containment.ContainerTokenSecrets().CurrentKeyID())
	}
}

// S6: label rejection.
func TestHeartbeatLoop_S6LabelRejection(t *testing.T) {
	controller := rmfake.NewController()
	containment := NewLocalContainment()
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	pending := NewPendingCompletionBuffer()
	stoppedCache := NewRecentlyStoppedCache(time.Hour)
	keepAlive := NewKeepAliveTracker(false, time.Minute)
	collector := NewStatusCollector(containment, pending, stoppedCache, keepAlive)
	labels := NewDistributedLabelsHandler(NewStaticLabelProvider([]string{"x"}), time.Hour)
	logAgg := NewLogAggregationQueue()

	ctx := context.Background()
	regResp, err := controller.RegisterNodeManager(ctx, &rmapi.RegisterNodeManagerRequest{NodeID: "node-1"})
	if err != nil {
		t.Fatalf("RegisterNodeManager() error = %v", err)
	}

	loop := NewHeartbeatLoop(testConfig(), controller, containment, collector, labels, bus, stoppedCache, pending, keepAlive, logAgg, "node-1", regResp.RMIdentifier)

	loop.tick(ctx) // first tick sends {x}, controller acks true by default

	// The fake always acks labels and exposes no way to script a rejection,
	// so keep the next heartbeat NORMAL, feed the rejection to the ack path
	// directly, and validate that labels are withheld within the resync
	// window since nothing changed.
	controller.SetNextAction(rmapi.NodeActionNormal)
	distributed := labels.(*DistributedLabelsHandler)
	distributed.VerifyHeartbeatAck(false, "centralized")

	got := distributed.LabelsForHeartbeat()
	if got != nil {
		t.Errorf("LabelsForHeartbeat() = %v, want nil within the resync window since the label set hasn't changed", got)
	}
}

// appsToCleanup must be registered in the keep-alive tracker and
// systemCredentialsForApps installed into containment before the
// completed-apps event is dispatched.
func TestHeartbeatLoop_AppsToCleanupAndSystemCredentials(t *testing.T) {
	controller := rmfake.NewController()
	containment := NewLocalContainment()
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	pending := NewPendingCompletionBuffer()
	stoppedCache := NewRecentlyStoppedCache(time.Hour)
	keepAlive := NewKeepAliveTracker(true, time.Minute)
	collector := NewStatusCollector(containment, pending, stoppedCache, keepAlive)
	labels := NewCentralizedLabelsHandler()
	logAgg := NewLogAggregationQueue()

	ctx := context.Background()
	regResp, err := controller.RegisterNodeManager(ctx, &rmapi.RegisterNodeManagerRequest{NodeID: "node-1"})
	if err != nil {
		t.Fatalf("RegisterNodeManager() error = %v", err)
	}

	loop := NewHeartbeatLoop(testConfig(), controller, containment, collector, labels, bus, stoppedCache, pending, keepAlive, logAgg, "node-1", regResp.RMIdentifier)

	controller.ScheduleCleanup(nil, []types.ApplicationID{"app-1"})
	controller.ScheduleSystemCredentials([]rmapi.SystemCredential{{ApplicationID: "app-1", Credential: []byte("token")}})

	if terminal := loop.tick(ctx); terminal {
		t.Fatal("a normal heartbeat must not be terminal")
	}

	if keepAlive.Len() != 1 {
		t.Errorf("keepAlive.Len() = %d, want 1 after appsToCleanup registered app-1", keepAlive.Len())
	}

	cred, ok := containment.SystemCredential("app-1")
	if !ok || string(cred) != "token" {
		t.Errorf("SystemCredential(app-1) = (%q, %v), want (\"token\", true)", cred, ok)
	}

	ev := <-sub
	if ev.Type != events.EventCompletedApps {
		t.Errorf("event type = %v, want EventCompletedApps", ev.Type)
	}
}

// GC must not evict a recently-stopped container whose application has
// not yet reached a terminal phase, even though the entry has expired.
func TestHeartbeatLoop_GCRespectsLiveContainerAndAppState(t *testing.T) {
	controller := rmfake.NewController()
	containment := NewLocalContainment()
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	pending := NewPendingCompletionBuffer()
	// Zero retention: every entry is immediately expiry-eligible, isolating
	// the test to the liveness/app-state half of GC's eligibility check.
	stoppedCache := NewRecentlyStoppedCache(0)
	keepAlive := NewKeepAliveTracker(false, time.Minute)
	collector := NewStatusCollector(containment, pending, stoppedCache, keepAlive)
	labels := NewCentralizedLabelsHandler()
	logAgg := NewLogAggregationQueue()

	ctx := context.Background()
	regResp, err := controller.RegisterNodeManager(ctx, &rmapi.RegisterNodeManagerRequest{NodeID: "node-1"})
	if err != nil {
		t.Fatalf("RegisterNodeManager() error = %v", err)
	}
	loop := NewHeartbeatLoop(testConfig(), controller, containment, collector, labels, bus, stoppedCache, pending, keepAlive, logAgg, "node-1", regResp.RMIdentifier)

	containment.SetApplicationState("app-1", types.ApplicationStateRunning)
	containment.SetContainer(types.ContainerStatus{ContainerID: containerID(9), State: types.ContainerStateComplete})

	if terminal := loop.tick(ctx); terminal {
		t.Fatal("a normal heartbeat must not be terminal")
	}

	if !stoppedCache.Contains(containerID(9)) {
		t.Error("entry must survive GC while its application has not reached a terminal phase")
	}

	containment.SetApplicationState("app-1", types.ApplicationStateFinished)

	if terminal := loop.tick(ctx); terminal {
		t.Fatal("a normal heartbeat must not be terminal")
	}

	if stoppedCache.Contains(containerID(9)) {
		t.Error("entry must be GC'd once its application reaches FINISHED and the container is no longer live")
	}
}
