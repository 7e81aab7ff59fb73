package follow

import (
	"testing"
	"time"

	"github.com/openuav/follow-gcs/pkg/vehicle"
)

// TestWatchdogArmsOnFollowMe tests that the watchdog only fires after it
// has seen follow-me active at least once.
func TestWatchdogArmsOnFollowMe(t *testing.T) {
	tel := &fakeTelemetry{}
	fm := &fakeFollowMe{}
	wd := NewWatchdog(tel, fm, testLogger())
	defer wd.Stop()

	// Mode churn before follow-me starts must not trip the watchdog.
	tel.setMode(vehicle.FlightModeTakeoff)
	tel.setMode(vehicle.FlightModeHold)

	select {
	case mode := <-wd.Triggered():
		t.Fatalf("Watchdog fired before arming, mode %s", mode)
	default:
	}

	tel.setMode(vehicle.FlightModeFollowMe)
	tel.setMode(vehicle.FlightModeReturn)

	select {
	case mode := <-wd.Triggered():
		if mode != vehicle.FlightModeReturn {
			t.Errorf("Triggered mode = %s, want %s", mode, vehicle.FlightModeReturn)
		}
	case <-time.After(time.Second):
		t.Fatal("Watchdog did not fire after external mode change")
	}
}

// TestWatchdogFiresOnce tests that repeated mode changes after the trigger
// do not queue further events.
func TestWatchdogFiresOnce(t *testing.T) {
	tel := &fakeTelemetry{}
	fm := &fakeFollowMe{}
	wd := NewWatchdog(tel, fm, testLogger())
	defer wd.Stop()

	tel.setMode(vehicle.FlightModeFollowMe)
	tel.setMode(vehicle.FlightModeHold)
	tel.setMode(vehicle.FlightModeLand)

	<-wd.Triggered()

	select {
	case mode := <-wd.Triggered():
		t.Fatalf("Watchdog fired twice, second mode %s", mode)
	default:
	}
}

// TestWatchdogRearms tests that re-entering follow-me arms the watchdog
// again after a trigger.
func TestWatchdogRearms(t *testing.T) {
	tel := &fakeTelemetry{}
	fm := &fakeFollowMe{}
	wd := NewWatchdog(tel, fm, testLogger())
	defer wd.Stop()

	tel.setMode(vehicle.FlightModeFollowMe)
	tel.setMode(vehicle.FlightModeHold)
	<-wd.Triggered()

	tel.setMode(vehicle.FlightModeFollowMe)
	tel.setMode(vehicle.FlightModeLand)

	select {
	case mode := <-wd.Triggered():
		if mode != vehicle.FlightModeLand {
			t.Errorf("Triggered mode = %s, want %s", mode, vehicle.FlightModeLand)
		}
	case <-time.After(time.Second):
		t.Fatal("Watchdog did not re-arm after follow-me resumed")
	}
}

// TestWatchdogStop tests that a stopped watchdog ignores further updates.
func TestWatchdogStop(t *testing.T) {
	tel := &fakeTelemetry{}
	fm := &fakeFollowMe{}
	wd := NewWatchdog(tel, fm, testLogger())

	tel.setMode(vehicle.FlightModeFollowMe)
	wd.Stop()
	tel.setMode(vehicle.FlightModeHold)

	select {
	case mode := <-wd.Triggered():
		t.Fatalf("Stopped watchdog fired, mode %s", mode)
	default:
	}
}
