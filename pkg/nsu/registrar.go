package nsu

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cuemby/nsu-agent/pkg/log"
	"github.com/cuemby/nsu-agent/pkg/metrics"
	"github.com/cuemby/nsu-agent/pkg/nsuconfig"
	"github.com/cuemby/nsu-agent/pkg/rmapi"
	"github.com/cuemby/nsu-agent/pkg/types"
)

// Registrar runs the one-shot registration handshake described in the
// spec's Registrar component: it is invoked once at startup and again,
// synchronously, at the start of every reboot sequence.
type Registrar struct {
	cfg         nsuconfig.Config
	tracker     rmapi.ResourceTracker
	containment Containment
	labels      NodeLabelsHandler

	httpPort         int32
	totalResource    types.Resource
	physicalResource types.Resource
}

// NewRegistrar wires the collaborators a registration attempt reads from
// and writes into.
func NewRegistrar(cfg nsuconfig.Config, tracker rmapi.ResourceTracker, containment Containment, labels NodeLabelsHandler, totalResource, physicalResource types.Resource) *Registrar {
	return &Registrar{
		cfg:              cfg,
		tracker:          tracker,
		containment:      containment,
		labels:           labels,
		httpPort:         cfg.HTTPPort,
		totalResource:    totalResource,
		physicalResource: physicalResource,
	}
}

// Result is everything a successful registration hands back to the
// service lifecycle: the identifier to quote on every subsequent RPC, and
// the resource figure in effect after any controller-issued override.
type Result struct {
	RMIdentifier  int64
	TotalResource types.Resource
}

// Register executes the handshake described in spec.md's Registrar
// section. It holds the containment subsystem's ContainmentSync monitor
// across the whole sequence: reading the container/application snapshot,
// calling the controller, and publishing the resulting rmIdentifier. A
// concurrent container admission (LocalContainment.SetContainer et al.)
// blocks on the same monitor, so it always lands either entirely before
// the snapshot or entirely after the identifier is published, never in
// the gap between them.
func (r *Registrar) Register(ctx context.Context, nodeID types.NodeID) (Result, error) {
	r.containment.Lock()
	defer r.containment.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RegistrationDuration)

	registrationID := uuid.New().String()

	req := &rmapi.RegisterNodeManagerRequest{
		RegistrationID:   registrationID,
		NodeID:           nodeID,
		HTTPPort:         r.httpPort,
		TotalResource:    r.totalResource,
		PhysicalResource: r.physicalResource,
		Version:          r.cfg.Version,
		ContainerReports: r.containment.Snapshot(),
		RunningApps:      r.containment.RunningApplications(),
		NodeLabels:       r.labels.LabelsForRegistration(),
	}

	resp, err := r.tracker.RegisterNodeManager(ctx, req)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("nsu: registration failed: %w", err)
	}

	if resp.NodeAction == rmapi.NodeActionShutdown {
		metrics.RegistrationsTotal.WithLabelValues("shutdown").Inc()
		return Result{}, fmt.Errorf("nsu: controller directed SHUTDOWN at registration: %s", resp.DiagnosticsMessage)
	}

	if !r.cfg.MeetsMinimumVersion(resp.RMVersion) {
		metrics.RegistrationsTotal.WithLabelValues("version_rejected").Inc()
		return Result{}, fmt.Errorf("nsu: controller version %q does not meet configured minimum %q", resp.RMVersion, r.cfg.ResourceManagerMinimumVersion)
	}

	r.containment.PublishRMIdentifier(resp.RMIdentifier)
	r.containment.ContainerTokenSecrets().SetMasterKey(resp.ContainerTokenMasterKey)
	r.containment.NMTokenSecrets().SetMasterKey(resp.NMTokenMasterKey)

	total := r.totalResource
	if resp.Resource != nil {
		total = *resp.Resource
		log.WithComponent("registrar").Info().
			Uint64("memoryMiB", total.MemoryMiB).
			Uint32("vcores", total.VCores).
			Msg("controller overrode advertised node resource at registration")
	}

	r.labels.VerifyRegistrationAck(resp.AreNodeLabelsAcceptedByRM, resp.DiagnosticsMessage)

	log.WithComponent("registrar").Info().
		Str("nodeId", string(nodeID)).
		Str("registrationId", registrationID).
		Int64("rmIdentifier", resp.RMIdentifier).
		Bool("labelsAccepted", resp.AreNodeLabelsAcceptedByRM).
		Msg("registered with controller")

	metrics.RegistrationsTotal.WithLabelValues("success").Inc()

	return Result{RMIdentifier: resp.RMIdentifier, TotalResource: total}, nil
}
