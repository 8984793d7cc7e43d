package nsu

import (
	"sync"
	"time"

	"github.com/cuemby/nsu-agent/pkg/log"
	"github.com/cuemby/nsu-agent/pkg/metrics"
)

// LabelProvider supplies the current set of node labels; a real
// implementation would read them from hardware inventory, cloud metadata,
// or an operator-managed file. It is an external collaborator the
// Distributed handler consults each tick.
type LabelProvider interface {
	Labels() ([]string, error)
}

// NodeLabelsHandler is the capability set shared by the centralized and
// distributed variants: produce labels for registration/heartbeat, and
// validate the controller's acceptance of what was sent.
type NodeLabelsHandler interface {
	LabelsForRegistration() []string
	LabelsForHeartbeat() []string
	VerifyRegistrationAck(accepted bool, diagnostics string)
	VerifyHeartbeatAck(accepted bool, diagnostics string)
}

// CentralizedLabelsHandler is used when the controller manages node
// labels itself; this agent never sends any and never validates an ack.
type CentralizedLabelsHandler struct{}

func NewCentralizedLabelsHandler() *CentralizedLabelsHandler { return &CentralizedLabelsHandler{} }

func (h *CentralizedLabelsHandler) LabelsForRegistration() []string { return nil }
func (h *CentralizedLabelsHandler) LabelsForHeartbeat() []string    { return nil }
func (h *CentralizedLabelsHandler) VerifyRegistrationAck(bool, string) {}
func (h *CentralizedLabelsHandler) VerifyHeartbeatAck(bool, string)    {}

// DistributedLabelsHandler consults a LabelProvider each tick and only
// resends labels when they changed or the resync interval elapsed.
type DistributedLabelsHandler struct {
	provider       LabelProvider
	resyncInterval time.Duration

	mu               sync.Mutex
	previous         []string
	sent             bool
	lastSendEpoch    time.Time
}

// NewDistributedLabelsHandler creates a handler backed by provider,
// resending an unchanged label set at least every resyncInterval.
func NewDistributedLabelsHandler(provider LabelProvider, resyncInterval time.Duration) *DistributedLabelsHandler {
	return &DistributedLabelsHandler{provider: provider, resyncInterval: resyncInterval}
}

func validLabelName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	for _, r := range name {
		if r == ' ' || r == ',' {
			return false
		}
	}
	return true
}

func sameLabelSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, l := range a {
		set[l] = true
	}
	for _, l := range b {
		if !set[l] {
			return false
		}
	}
	return true
}

func (h *DistributedLabelsHandler) labelsForTick() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, err := h.provider.Labels()
	if err != nil {
		current = nil
	}

	changed := !sameLabelSet(h.previous, current)
	resyncDue := h.lastSendEpoch.IsZero() || time.Since(h.lastSendEpoch) >= h.resyncInterval

	if !changed && !resyncDue {
		h.sent = false
		return nil
	}

	for _, name := range current {
		if !validLabelName(name) {
			log.WithComponent("labels").Warn().Str("label", name).Msg("dropping invalid label set for this round")
			h.sent = false
			return nil
		}
	}

	h.previous = append([]string(nil), current...)
	h.sent = true
	h.lastSendEpoch = time.Now()
	return current
}

func (h *DistributedLabelsHandler) LabelsForRegistration() []string { return h.labelsForTick() }
func (h *DistributedLabelsHandler) LabelsForHeartbeat() []string    { return h.labelsForTick() }

func (h *DistributedLabelsHandler) verifyAck(accepted bool, diagnostics string) {
	h.mu.Lock()
	sent := h.sent
	h.mu.Unlock()

	if !sent {
		return
	}

	metricsLogger := log.WithComponent("labels")
	if accepted {
		metricsLogger.Debug().Msg("node labels accepted by controller")
	} else {
		metrics.NodeLabelsSyncFailuresTotal.Inc()
		metricsLogger.Warn().Str("diagnostics", diagnostics).Msg("node labels rejected by controller")
	}
}

func (h *DistributedLabelsHandler) VerifyRegistrationAck(accepted bool, diagnostics string) {
	h.verifyAck(accepted, diagnostics)
}

func (h *DistributedLabelsHandler) VerifyHeartbeatAck(accepted bool, diagnostics string) {
	h.verifyAck(accepted, diagnostics)
}

// StaticLabelProvider is a LabelProvider returning a fixed set, useful for
// tests and for `nsu-agent simulate`.
type StaticLabelProvider struct {
	labels []string
}

func NewStaticLabelProvider(labels []string) *StaticLabelProvider {
	return &StaticLabelProvider{labels: labels}
}

func (p *StaticLabelProvider) Labels() ([]string, error) {
	return append([]string(nil), p.labels...), nil
}

// labelsEqual gives package-internal callers the same set-equality rule
// the handler itself uses (e.g. tests asserting label silence).
func labelsEqual(a, b []string) bool { return sameLabelSet(a, b) }
