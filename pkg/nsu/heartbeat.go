package nsu

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/nsu-agent/pkg/events"
	"github.com/cuemby/nsu-agent/pkg/log"
	"github.com/cuemby/nsu-agent/pkg/metrics"
	"github.com/cuemby/nsu-agent/pkg/nsuconfig"
	"github.com/cuemby/nsu-agent/pkg/rmapi"
	"github.com/cuemby/nsu-agent/pkg/types"
)

// LoopState is the heartbeat loop's externally observable state.
type LoopState string

const (
	StateConnected LoopState = "CONNECTED"
	StateMissed    LoopState = "MISSED"
	StateStopped   LoopState = "STOPPED"
	StateFailed    LoopState = "FAILED"
)

// ErrConnectFailed marks an error from the ResourceTracker client as a
// connect failure (as opposed to an ordinary missed-heartbeat exception);
// the heartbeat loop treats it as fatal rather than retryable.
var ErrConnectFailed = errors.New("nsu: controller unreachable")

// HeartbeatLoop is the single background actor described in spec.md §4.5.
// It is the sole mutator of lastHeartbeatId, missed, nextInterval and
// rmIdentifier once running; Registrar touches rmIdentifier only before
// the loop starts or while the loop is stopped for a reboot.
type HeartbeatLoop struct {
	cfg         nsuconfig.Config
	tracker     rmapi.ResourceTracker
	containment Containment
	collector   *StatusCollector
	labels      NodeLabelsHandler
	dispatch    *dispatchAdapter
	recently    *RecentlyStoppedCache
	pending     *PendingCompletionBuffer
	keepAlive   *KeepAliveTracker
	logAgg      *LogAggregationQueue
	nodeID      types.NodeID

	mu              sync.Mutex
	state           LoopState
	rmIdentifier    int64
	lastHeartbeatID int64
	missed          bool
	nextInterval    time.Duration
	stopped         bool
	failedToConnect bool

	wakeCh chan struct{}
	doneCh chan struct{}
}

// NewHeartbeatLoop wires the collaborators one iteration reads from and
// writes into. rmIdentifier comes from a successful Registrar.Register
// call; the initial interval is cfg.HeartbeatInterval() until the first
// response supplies one.
func NewHeartbeatLoop(
	cfg nsuconfig.Config,
	tracker rmapi.ResourceTracker,
	containment Containment,
	collector *StatusCollector,
	labels NodeLabelsHandler,
	bus *events.Broker,
	recently *RecentlyStoppedCache,
	pending *PendingCompletionBuffer,
	keepAlive *KeepAliveTracker,
	logAgg *LogAggregationQueue,
	nodeID types.NodeID,
	rmIdentifier int64,
) *HeartbeatLoop {
	return &HeartbeatLoop{
		cfg:             cfg,
		tracker:         tracker,
		containment:     containment,
		collector:       collector,
		labels:          labels,
		dispatch:        newDispatchAdapter(bus),
		recently:        recently,
		pending:         pending,
		keepAlive:       keepAlive,
		logAgg:          logAgg,
		nodeID:          nodeID,
		state:           StateConnected,
		rmIdentifier:    rmIdentifier,
		lastHeartbeatID: 0,
		nextInterval:    cfg.HeartbeatInterval(),
		wakeCh:          make(chan struct{}, 1),
		doneCh:          make(chan struct{}),
	}
}

// State returns the loop's current externally observable state.
func (h *HeartbeatLoop) State() LoopState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// RMIdentifier returns the identifier quoted on every RPC, 0 once
// invalidated by a RESYNC directive.
func (h *HeartbeatLoop) RMIdentifier() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rmIdentifier
}

// Run executes the loop until Stop is called, ctx is cancelled, or a tick
// reports a terminal outcome (SHUTDOWN, RESYNC, or a connect failure).
// It is meant to be launched with `go loop.Run(ctx)` and is idempotent to
// call exactly once per HeartbeatLoop instance.
func (h *HeartbeatLoop) Run(ctx context.Context) {
	defer close(h.doneCh)

	for {
		if h.isStopped() {
			h.setState(StateStopped)
			return
		}

		terminal := h.tick(ctx)
		if terminal {
			return
		}

		interval := h.currentInterval()
		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-h.wakeCh:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Stop requests the loop to exit at the next check and wakes it if it is
// currently waiting on the interval timer.
func (h *HeartbeatLoop) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.sendOutOfBandHeartBeat()
}

// Done returns a channel closed once Run has returned.
func (h *HeartbeatLoop) Done() <-chan struct{} {
	return h.doneCh
}

// sendOutOfBandHeartBeat wakes the loop out of its interval wait, used by
// Stop and by the reboot sequence. A full buffer means a wakeup is already
// pending, so the send is dropped rather than blocking.
func (h *HeartbeatLoop) sendOutOfBandHeartBeat() {
	select {
	case h.wakeCh <- struct{}{}:
	default:
	}
}

func (h *HeartbeatLoop) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *HeartbeatLoop) currentInterval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextInterval
}

func (h *HeartbeatLoop) setState(s LoopState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// tick runs exactly one heartbeat iteration and reports whether the loop
// must exit (SHUTDOWN, RESYNC, or an unrecoverable connect failure).
func (h *HeartbeatLoop) tick(ctx context.Context) bool {
	hbLog := log.WithComponent("heartbeat")
	timer := metrics.NewTimer()

	h.mu.Lock()
	lastID := h.lastHeartbeatID
	rmID := h.rmIdentifier
	h.mu.Unlock()

	req := &rmapi.NodeHeartbeatRequest{
		NodeID:                h.nodeID,
		Status:                h.collector.Collect(lastID),
		ContainerTokenKeyID:   h.containment.ContainerTokenSecrets().CurrentKeyID(),
		NMTokenKeyID:          h.containment.NMTokenSecrets().CurrentKeyID(),
		NodeLabels:            h.labels.LabelsForHeartbeat(),
		RegisteringCollectors: h.containment.RegisteringCollectors(),
	}
	if h.cfg.LogAggregationEnabled {
		req.LogAggregationReports = h.logAgg.Drain()
	}

	resp, err := h.tracker.NodeHeartbeat(ctx, req)
	if err != nil {
		timer.ObserveDuration(metrics.HeartbeatDuration)
		if errors.Is(err, ErrConnectFailed) {
			metrics.HeartbeatsTotal.WithLabelValues("connect_failed").Inc()
			h.dispatch.shutdown("controller unreachable")
			h.mu.Lock()
			h.failedToConnect = true
			h.mu.Unlock()
			h.setState(StateFailed)
			hbLog.Error().Err(err).Int64("rmIdentifier", rmID).Msg("heartbeat connect failed, giving up")
			return true
		}

		metrics.HeartbeatsTotal.WithLabelValues("error").Inc()
		h.mu.Lock()
		h.missed = true
		h.mu.Unlock()
		metrics.MissedHeartbeats.Inc()
		h.setState(StateMissed)
		hbLog.Warn().Err(err).Msg("heartbeat round failed, will retry next interval")
		return false
	}

	timer.ObserveDuration(metrics.HeartbeatDuration)
	metrics.HeartbeatsTotal.WithLabelValues("success").Inc()

	h.applyInterval(resp.NextHeartbeatInterval)
	h.containment.ContainerTokenSecrets().SetMasterKey(resp.ContainerTokenMasterKey)
	h.containment.NMTokenSecrets().SetMasterKey(resp.NMTokenMasterKey)

	if resp.NodeAction == rmapi.NodeActionShutdown {
		h.containment.SetDecommissioned(true)
		h.dispatch.shutdown(resp.DiagnosticsMessage)
		h.setState(StateStopped)
		hbLog.Info().Str("diagnostics", resp.DiagnosticsMessage).Msg("controller directed SHUTDOWN")
		return true
	}

	if resp.NodeAction == rmapi.NodeActionResync {
		h.mu.Lock()
		h.rmIdentifier = 0
		h.mu.Unlock()
		h.containment.PublishRMIdentifier(0)
		h.pending.Clear()
		h.dispatch.resync(resp.DiagnosticsMessage)
		hbLog.Warn().Str("diagnostics", resp.DiagnosticsMessage).Msg("controller directed RESYNC")
		return true
	}

	h.labels.VerifyHeartbeatAck(resp.AreNodeLabelsAcceptedByRM, resp.DiagnosticsMessage)

	if len(resp.ContainersToBeRemovedFromNM) > 0 {
		h.containment.RemoveContainers(resp.ContainersToBeRemovedFromNM)
		for _, id := range resp.ContainersToBeRemovedFromNM {
			if err := h.containment.RemoveFromStateStore(id); err != nil {
				hbLog.Warn().Err(err).Interface("container", id).Msg("failed to remove container from recovery state store")
			}
		}
	}

	h.mu.Lock()
	wasMissed := h.missed
	h.mu.Unlock()

	if !wasMissed {
		h.pending.Clear()
	} else {
		h.mu.Lock()
		h.missed = false
		h.mu.Unlock()
		metrics.MissedHeartbeats.Set(0)
		hbLog.Info().Msg("recovered from a missed heartbeat, pending completions remain buffered")
	}

	for _, appID := range resp.ApplicationsToCleanup {
		h.keepAlive.Register(appID)
	}
	if len(resp.SystemCredentialsForApps) > 0 {
		h.containment.InstallSystemCredentials(resp.SystemCredentialsForApps)
	}

	h.dispatch.applyResponse(resp, h.containment)

	h.recently.GC(func(id types.ContainerID) bool {
		if h.containment.ContainerExists(id) {
			return false
		}
		appState, ok := h.containment.ApplicationState(id.AttemptID.ApplicationID)
		return !ok || appState.IsTerminal()
	})

	h.mu.Lock()
	h.lastHeartbeatID = resp.ResponseID
	h.mu.Unlock()
	metrics.LastHeartbeatID.Set(float64(resp.ResponseID))

	if h.cfg.TimelineV2Enabled {
		for _, data := range resp.AppCollectors {
			h.containment.MergeCollector(data)
		}
	}

	h.setState(StateConnected)
	return false
}

func (h *HeartbeatLoop) applyInterval(d time.Duration) {
	if d <= 0 {
		d = h.cfg.HeartbeatInterval()
	}
	h.mu.Lock()
	h.nextInterval = d
	h.mu.Unlock()
	metrics.NextHeartbeatIntervalSeconds.Set(d.Seconds())
}
