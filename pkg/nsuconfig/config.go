// Package nsuconfig loads and validates the node status updater's
// configuration, following the YAML-file-plus-struct-tags convention
// cmd/warren/apply.go uses for resource manifests.
package nsuconfig

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// MinimumVersionPolicy is the configured floor on the controller's
// advertised version, compared against at registration.
type MinimumVersionPolicy string

const (
	// MinimumVersionNone disables the version gate entirely.
	MinimumVersionNone MinimumVersionPolicy = "NONE"
	// MinimumVersionEqualToNM requires the controller to match this
	// agent's own version exactly.
	MinimumVersionEqualToNM MinimumVersionPolicy = "EqualToNM"
)

// Config is the node status updater's static configuration.
type Config struct {
	NodeID   string `yaml:"nodeId"`
	HTTPPort int32  `yaml:"httpPort"`

	ControllerAddress string `yaml:"controllerAddress"`

	// DurationToTrackStoppedContainers is the retention window, in
	// milliseconds, the Recently-Stopped Cache uses for each entry. Must be
	// non-negative.
	DurationToTrackStoppedContainers int64 `yaml:"durationToTrackStoppedContainersMs"`

	// VmemPmemRatio bounds virtual memory usage as a multiple of physical
	// memory when reporting utilization.
	VmemPmemRatio float64 `yaml:"vmemPmemRatio"`

	// NMExpiryIntervalMS is the default heartbeat interval used until the
	// controller supplies one, and the floor applied to a controller value
	// that is zero or negative.
	NMExpiryIntervalMS int64 `yaml:"nmExpiryIntervalMs"`

	// ResourceManagerMinimumVersion gates registration: NONE disables the
	// check, EqualToNM requires an exact match with Version, anything else
	// is parsed as a semantic version floor.
	ResourceManagerMinimumVersion string `yaml:"resourceManagerMinimumVersion"`

	// Version is this agent's own version string, used both to report to
	// the controller and to resolve EqualToNM.
	Version string `yaml:"version"`

	LogAggregationEnabled bool `yaml:"logAggregationEnabled"`
	SecurityEnabled        bool `yaml:"securityEnabled"`

	RecoveryEnabled    bool `yaml:"recoveryEnabled"`
	RecoverySupervised bool `yaml:"recoverySupervised"`

	// RecoveryStateStorePath is the bolt file RemoveFromStateStore writes
	// completion tombstones into. Only consulted when RecoveryEnabled is
	// set; empty leaves the state store unattached (RemoveFromStateStore
	// becomes a no-op).
	RecoveryStateStorePath string `yaml:"recoveryStateStorePath"`

	// NodeLabelsResyncIntervalMS bounds how long the distributed
	// node-labels handler goes before resending an unchanged label set.
	NodeLabelsResyncIntervalMS int64 `yaml:"nodeLabelsResyncIntervalMs"`

	// DistributedNodeLabels selects the Node-Labels Handler variant; when
	// false the centralized (no-op) variant is used.
	DistributedNodeLabels bool `yaml:"distributedNodeLabels"`

	// TimelineV2Enabled turns on the heartbeat loop's collector-address
	// merge step (registeringCollectors / appCollectors).
	TimelineV2Enabled bool `yaml:"timelineV2Enabled"`
}

// Default returns a Config with the floors and defaults the spec calls
// out explicitly (600s stopped-container retention, NONE version gate).
func Default() Config {
	return Config{
		HTTPPort:                          0,
		DurationToTrackStoppedContainers:  600_000,
		VmemPmemRatio:                     2.1,
		NMExpiryIntervalMS:                10_000,
		ResourceManagerMinimumVersion:     string(MinimumVersionNone),
		LogAggregationEnabled:             false,
		SecurityEnabled:                   false,
		RecoveryEnabled:                   false,
		RecoverySupervised:                false,
		NodeLabelsResyncIntervalMS:        600_000,
		DistributedNodeLabels:             false,
	}
}

// Load reads and parses a YAML config file, applying defaults for any
// field the file omits (zero-value-yaml fields do not overwrite a
// default since Load unmarshals onto a Default()-initialized struct).
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("nsuconfig: failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("nsuconfig: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate enforces the invariants the spec calls out as startup-fatal if
// violated.
func (c Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("nsuconfig: nodeId is required")
	}
	if c.ControllerAddress == "" {
		return fmt.Errorf("nsuconfig: controllerAddress is required")
	}
	if c.DurationToTrackStoppedContainers < 0 {
		return fmt.Errorf("nsuconfig: durationToTrackStoppedContainersMs must be >= 0, got %d", c.DurationToTrackStoppedContainers)
	}
	if c.NMExpiryIntervalMS <= 0 {
		return fmt.Errorf("nsuconfig: nmExpiryIntervalMs must be > 0, got %d", c.NMExpiryIntervalMS)
	}
	if c.KeepAliveEnabled() && c.NodeLabelsResyncIntervalMS < 0 {
		return fmt.Errorf("nsuconfig: nodeLabelsResyncIntervalMs must be >= 0, got %d", c.NodeLabelsResyncIntervalMS)
	}
	switch MinimumVersionPolicy(c.ResourceManagerMinimumVersion) {
	case MinimumVersionNone, MinimumVersionEqualToNM:
	default:
		if !semver.IsValid(canonicalSemver(c.ResourceManagerMinimumVersion)) {
			return fmt.Errorf("nsuconfig: resourceManagerMinimumVersion %q is neither NONE, EqualToNM, nor a valid semantic version", c.ResourceManagerMinimumVersion)
		}
	}
	return nil
}

// KeepAliveEnabled reports whether the Keep-Alive Tracker should produce a
// non-empty list: the spec requires both log aggregation and security to
// be enabled.
func (c Config) KeepAliveEnabled() bool {
	return c.LogAggregationEnabled && c.SecurityEnabled
}

// HeartbeatInterval is the floor/default interval used until the
// controller supplies its own.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.NMExpiryIntervalMS) * time.Millisecond
}

// StoppedContainerRetention is the Recently-Stopped Cache retention window.
func (c Config) StoppedContainerRetention() time.Duration {
	return time.Duration(c.DurationToTrackStoppedContainers) * time.Millisecond
}

// MeetsMinimumVersion implements the version-gate check at registration:
// NONE always passes, EqualToNM requires controllerVersion == c.Version,
// and any other configured value is compared as a semantic version floor.
func (c Config) MeetsMinimumVersion(controllerVersion string) bool {
	switch MinimumVersionPolicy(c.ResourceManagerMinimumVersion) {
	case MinimumVersionNone:
		return true
	case MinimumVersionEqualToNM:
		return controllerVersion == c.Version
	default:
		return semver.Compare(canonicalSemver(controllerVersion), canonicalSemver(c.ResourceManagerMinimumVersion)) >= 0
	}
}

// canonicalSemver prefixes a bare "x.y.z" version with "v" since
// golang.org/x/mod/semver requires the leading v that Go module versions
// carry but operational version strings usually omit.
func canonicalSemver(v string) string {
	if v == "" {
		return v
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}
