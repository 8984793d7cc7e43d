package nsu

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/nsu-agent/pkg/metrics"
	"github.com/cuemby/nsu-agent/pkg/types"
)

// KeepAliveTracker extends a running application's credential lifetime
// past its nominal expiry by re-sending a keep-alive for it shortly
// before the controller would otherwise let the credential lapse. It is
// enabled only when log aggregation and security are both turned on
// (nsuconfig.Config.KeepAliveEnabled); when disabled, CreateKeepAliveList
// always returns an empty list.
type KeepAliveTracker struct {
	enabled             bool
	tokenRemovalDelay   time.Duration

	mu          sync.Mutex
	nextSend    map[types.ApplicationID]time.Time
}

// NewKeepAliveTracker creates a tracker. tokenRemovalDelay is the
// controller's nominal credential lifetime; nextSendEpochMs is scheduled
// within [0.7, 0.9) of it.
func NewKeepAliveTracker(enabled bool, tokenRemovalDelay time.Duration) *KeepAliveTracker {
	return &KeepAliveTracker{
		enabled:           enabled,
		tokenRemovalDelay: tokenRemovalDelay,
		nextSend:          make(map[types.ApplicationID]time.Time),
	}
}

// nextSendTime picks a send time in [now+0.7D, now+0.9D).
func (k *KeepAliveTracker) nextSendTime() time.Time {
	r := rand.Float64()
	frac := 0.7 + 0.2*r
	return time.Now().Add(time.Duration(frac * float64(k.tokenRemovalDelay)))
}

// CreateKeepAliveList runs one tick: drops entries for applications no
// longer in runningApps, schedules a fresh send time for any running
// application not yet tracked, and returns the applications whose
// scheduled send time has arrived (recomputing their next send time in
// the same pass).
func (k *KeepAliveTracker) CreateKeepAliveList(runningApps []types.ApplicationID) []types.ApplicationID {
	if !k.enabled {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	live := make(map[types.ApplicationID]bool, len(runningApps))
	for _, id := range runningApps {
		live[id] = true
	}

	for id := range k.nextSend {
		if !live[id] {
			delete(k.nextSend, id)
		}
	}

	now := time.Now()
	var due []types.ApplicationID
	for _, id := range runningApps {
		sendAt, tracked := k.nextSend[id]
		if !tracked {
			k.nextSend[id] = k.nextSendTime()
			continue
		}
		if !now.Before(sendAt) {
			due = append(due, id)
			k.nextSend[id] = k.nextSendTime()
		}
	}

	metrics.KeepAliveAppsTotal.Set(float64(len(k.nextSend)))
	return due
}

// Register schedules id for immediate inclusion in the next
// CreateKeepAliveList call, provided id is among that call's runningApps;
// otherwise that call drops the entry. Used when an application is about
// to be cleaned up, so a final keep-alive extends its credentials across
// the remaining teardown window instead of letting them lapse mid-cleanup.
func (k *KeepAliveTracker) Register(id types.ApplicationID) {
	if !k.enabled {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextSend[id] = time.Now()
}

// Len reports how many applications are currently tracked.
func (k *KeepAliveTracker) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.nextSend)
}
