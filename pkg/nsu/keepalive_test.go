package nsu

import (
	"testing"
	"time"

	"github.com/cuemby/nsu-agent/pkg/types"
)

func TestKeepAliveTracker_DisabledReturnsEmpty(t *testing.T) {
	k := NewKeepAliveTracker(false, time.Minute)
	if got := k.CreateKeepAliveList([]types.ApplicationID{"app-1"}); got != nil {
		t.Errorf("CreateKeepAliveList() = %v, want nil when disabled", got)
	}
}

func TestKeepAliveTracker_NewAppNotImmediatelyDue(t *testing.T) {
	k := NewKeepAliveTracker(true, time.Hour)
	due := k.CreateKeepAliveList([]types.ApplicationID{"app-1"})
	if len(due) != 0 {
		t.Errorf("a newly observed app should not be due on its first tick, got %v", due)
	}
	if k.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after tracking app-1", k.Len())
	}
}

func TestKeepAliveTracker_DropsDeadApps(t *testing.T) {
	k := NewKeepAliveTracker(true, time.Hour)
	k.CreateKeepAliveList([]types.ApplicationID{"app-1"})

	k.CreateKeepAliveList(nil)
	if k.Len() != 0 {
		t.Errorf("Len() = %d, want 0 once app-1 is no longer running", k.Len())
	}
}

func TestKeepAliveTracker_BecomesDueWithinBounds(t *testing.T) {
	// A very short delay so the 0.7D floor elapses within the test.
	k := NewKeepAliveTracker(true, 20*time.Millisecond)
	k.CreateKeepAliveList([]types.ApplicationID{"app-1"})

	time.Sleep(25 * time.Millisecond)

	due := k.CreateKeepAliveList([]types.ApplicationID{"app-1"})
	if len(due) != 1 || due[0] != "app-1" {
		t.Errorf("CreateKeepAliveList() = %v, want [app-1] once its send time has passed", due)
	}
}
