package nsu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/nsu-agent/pkg/events"
	"github.com/cuemby/nsu-agent/pkg/log"
	"github.com/cuemby/nsu-agent/pkg/nsuconfig"
	"github.com/cuemby/nsu-agent/pkg/rmapi"
	"github.com/cuemby/nsu-agent/pkg/types"
)

// Service is the node status updater as a whole: the Registrar, the
// Status Collector and its containment-facing components, and the
// Heartbeat Loop they feed, wired per spec.md §4.8's Init/Start/Stop
// lifecycle.
type Service struct {
	cfg         nsuconfig.Config
	tracker     rmapi.ResourceTracker
	containment Containment
	bus         *events.Broker
	nodeID      types.NodeID

	totalResource    types.Resource
	physicalResource types.Resource

	labels    NodeLabelsHandler
	pending   *PendingCompletionBuffer
	stopped   *RecentlyStoppedCache
	keepAlive *KeepAliveTracker
	collector *StatusCollector
	logAgg    *LogAggregationQueue
	registrar *Registrar

	// shutdownMu serializes Stop/Reboot/UnRegister, mirroring the
	// spec's shutdownMonitor discipline.
	shutdownMu sync.Mutex
	loop       *HeartbeatLoop
	registered bool
	stoppedSvc bool
}

// NewService runs the Init phase: validate configuration, build the
// node-labels handler and the containment-facing components, and record
// the resource figures a plugin chain would have amended before this
// call.
func NewService(cfg nsuconfig.Config, tracker rmapi.ResourceTracker, containment Containment, bus *events.Broker, nodeID types.NodeID, totalResource, physicalResource types.Resource) (*Service, error) {
	if cfg.DurationToTrackStoppedContainers < 0 {
		return nil, fmt.Errorf("nsu: durationToTrackStoppedContainersMs must be >= 0")
	}

	var labels NodeLabelsHandler
	if cfg.DistributedNodeLabels {
		labels = NewDistributedLabelsHandler(NewStaticLabelProvider(nil), time.Duration(cfg.NodeLabelsResyncIntervalMS)*time.Millisecond)
	} else {
		labels = NewCentralizedLabelsHandler()
	}

	pending := NewPendingCompletionBuffer()
	stoppedCache := NewRecentlyStoppedCache(cfg.StoppedContainerRetention())
	keepAlive := NewKeepAliveTracker(cfg.KeepAliveEnabled(), cfg.HeartbeatInterval())
	collector := NewStatusCollector(containment, pending, stoppedCache, keepAlive)

	registrar := NewRegistrar(cfg, tracker, containment, labels, totalResource, physicalResource)

	return &Service{
		cfg:              cfg,
		tracker:          tracker,
		containment:      containment,
		bus:              bus,
		nodeID:           nodeID,
		totalResource:    totalResource,
		physicalResource: physicalResource,
		labels:           labels,
		pending:          pending,
		stopped:          stoppedCache,
		keepAlive:        keepAlive,
		collector:        collector,
		logAgg:           NewLogAggregationQueue(),
		registrar:        registrar,
	}, nil
}

// SetLabelProvider swaps the distributed handler's backing provider; a
// no-op when the centralized variant is in effect. Exposed so the agent
// entrypoint can wire a real inventory/metadata source after NewService.
func (s *Service) SetLabelProvider(provider LabelProvider) {
	if d, ok := s.labels.(*DistributedLabelsHandler); ok {
		d.provider = provider
	}
}

// Start runs the Start phase: register with the controller, then launch
// the heartbeat loop goroutine. It must be called after the node ID is
// final, and at most once per Service.
func (s *Service) Start(ctx context.Context) error {
	result, err := s.registrar.Register(ctx, s.nodeID)
	if err != nil {
		return err
	}

	s.shutdownMu.Lock()
	s.totalResource = result.TotalResource
	s.loop = NewHeartbeatLoop(s.cfg, s.tracker, s.containment, s.collector, s.labels, s.bus, s.stopped, s.pending, s.keepAlive, s.logAgg, s.nodeID, result.RMIdentifier)
	s.registered = true
	s.shutdownMu.Unlock()

	go s.loop.Run(ctx)
	return nil
}

// Stop implements the spec's stop guard: an unregister call is sent only
// when the node was registered, is not already stopped, recovery is not
// running in supervised mode, the node was not decommissioned by a
// SHUTDOWN directive, and the loop did not exit on a connect failure.
func (s *Service) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.stoppedSvc {
		return nil
	}
	s.stoppedSvc = true

	if s.loop != nil {
		s.loop.Stop()
		<-s.loop.Done()
	}

	if !s.shouldUnregisterLocked() {
		return nil
	}

	if err := s.tracker.UnRegisterNodeManager(ctx, &rmapi.UnRegisterNodeManagerRequest{NodeID: s.nodeID}); err != nil {
		log.WithComponent("lifecycle").Warn().Err(err).Msg("unRegisterNodeManager failed, continuing shutdown anyway")
	}
	return nil
}

func (s *Service) shouldUnregisterLocked() bool {
	if !s.registered || s.cfg.RecoverySupervised || s.containment.Decommissioned() {
		return false
	}
	if s.loop != nil && s.loop.State() == StateFailed {
		return false
	}
	return true
}

// Reboot runs the reboot sequence from spec.md §4.7: stop the running
// loop, re-register, and start a fresh one. It holds the same
// shutdownMonitor lock Stop uses, so at most one of Stop/Reboot runs at a
// time.
func (s *Service) Reboot(ctx context.Context) error {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.stoppedSvc {
		return nil
	}

	if s.loop != nil {
		s.loop.Stop()
		<-s.loop.Done()
	}

	result, err := s.registrar.Register(ctx, s.nodeID)
	if err != nil {
		return fmt.Errorf("nsu: reboot re-registration failed: %w", err)
	}

	s.totalResource = result.TotalResource
	s.loop = NewHeartbeatLoop(s.cfg, s.tracker, s.containment, s.collector, s.labels, s.bus, s.stopped, s.pending, s.keepAlive, s.logAgg, s.nodeID, result.RMIdentifier)
	s.registered = true
	go s.loop.Run(ctx)
	return nil
}

// SendOutOfBandHeartBeat wakes the currently running loop ahead of its
// scheduled interval, e.g. after a caller detects a fatal local health
// condition.
func (s *Service) SendOutOfBandHeartBeat() {
	s.shutdownMu.Lock()
	loop := s.loop
	s.shutdownMu.Unlock()
	if loop != nil {
		loop.sendOutOfBandHeartBeat()
	}
}

// Loop exposes the running heartbeat loop for callers that need its
// state, e.g. a health endpoint. It is nil before Start completes.
func (s *Service) Loop() *HeartbeatLoop {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return s.loop
}
