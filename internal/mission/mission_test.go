package mission

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openuav/follow-gcs/pkg/config"
	"github.com/openuav/follow-gcs/pkg/location"
	"github.com/openuav/follow-gcs/pkg/vehicle"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeVehicle is a scriptable in-memory Vehicle.
type fakeVehicle struct {
	mu     sync.Mutex
	health vehicle.Health
	armed  bool
	inAir  bool
	pos    vehicle.Position
	mode   vehicle.FlightMode
	subs   map[int]func(vehicle.FlightMode)
	nextID int

	calls  []string
	armErr error
	sent   []vehicle.TargetLocation

	// onStart runs after Start succeeds, for scripting mode changes.
	onStart func()
}

func newFakeVehicle() *fakeVehicle {
	return &fakeVehicle{
		health: vehicle.Health{
			GyroCalibrated:   true,
			AccelCalibrated:  true,
			MagCalibrated:    true,
			LocalPositionOK:  true,
			GlobalPositionOK: true,
			HomePositionOK:   true,
		},
		pos:  vehicle.Position{LatitudeDeg: 47.3977, LongitudeDeg: 8.5456},
		subs: make(map[int]func(vehicle.FlightMode)),
	}
}

func (f *fakeVehicle) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeVehicle) callSequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func (f *fakeVehicle) Health() vehicle.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeVehicle) Armed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

func (f *fakeVehicle) InAir() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inAir
}

func (f *fakeVehicle) Position() vehicle.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func (f *fakeVehicle) FlightMode() vehicle.FlightMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeVehicle) SubscribeFlightMode(fn func(vehicle.FlightMode)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeVehicle) setMode(mode vehicle.FlightMode) {
	f.mu.Lock()
	f.mode = mode
	subs := make([]func(vehicle.FlightMode), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(mode)
	}
}

func (f *fakeVehicle) Arm(_ context.Context) error {
	f.record("arm")
	if f.armErr != nil {
		return f.armErr
	}
	f.mu.Lock()
	f.armed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeVehicle) Takeoff(_ context.Context, altitudeM float64) error {
	f.record("takeoff")
	f.mu.Lock()
	f.inAir = true
	f.pos.RelativeAltitudeM = altitudeM
	f.mu.Unlock()
	return nil
}

func (f *fakeVehicle) Land(_ context.Context) error {
	f.record("land")
	f.mu.Lock()
	f.inAir = false
	f.pos.RelativeAltitudeM = 0
	f.mu.Unlock()
	return nil
}

func (f *fakeVehicle) SetConfig(_ context.Context, _ vehicle.FollowConfig) error {
	f.record("setconfig")
	return nil
}

func (f *fakeVehicle) Start(_ context.Context) error {
	f.record("start")
	if f.onStart != nil {
		go f.onStart()
	}
	return nil
}

func (f *fakeVehicle) Stop(_ context.Context) error {
	f.record("stop")
	return nil
}

func (f *fakeVehicle) SetTargetLocation(loc vehicle.TargetLocation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, loc)
	return nil
}

func (f *fakeVehicle) LastLocation() (vehicle.TargetLocation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return vehicle.TargetLocation{}, false
	}
	return f.sent[len(f.sent)-1], true
}

// scriptedSource delivers a fixed set of fixes and then returns.
type scriptedSource struct {
	fixes []location.Fix
	err   error
}

func (s *scriptedSource) Run(ctx context.Context, fn location.Handler) error {
	for _, fix := range s.fixes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		fn(fix)
	}
	if s.err != nil {
		return s.err
	}
	return nil
}

// blockingSource delivers nothing and waits for cancellation.
type blockingSource struct{}

func (s *blockingSource) Run(ctx context.Context, _ location.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func testOptions() Options {
	return Options{
		Takeoff: config.TakeoffConfig{
			AltitudeM:            2.5,
			MinAirborneAltitudeM: 2.4,
			ReadyTimeoutSeconds:  5,
		},
		Follow: config.FollowConfig{
			MinHeightM:         8.0,
			FollowDistanceM:    1.0,
			Direction:          "front",
			MaxTargetDistanceM: 5.0,
		},
	}
}

// TestRunHappyPath tests a full mission from arm to touchdown.
func TestRunHappyPath(t *testing.T) {
	veh := newFakeVehicle()
	source := &scriptedSource{fixes: []location.Fix{
		{LatitudeDeg: 47.3977, LongitudeDeg: 8.5456, AltitudeM: 0, Time: time.Now().UTC()},
		{LatitudeDeg: 47.39771, LongitudeDeg: 8.54561, AltitudeM: 0, Time: time.Now().UTC().Add(time.Second)},
	}}

	runner := NewRunner(veh, source, testOptions(), testLogger())
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"arm", "takeoff", "setconfig", "start", "stop", "land"}
	got := veh.callSequence()
	if len(got) != len(want) {
		t.Fatalf("Call sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Call sequence = %v, want %v", got, want)
		}
	}

	if len(veh.sent) != 2 {
		t.Errorf("Expected 2 forwarded fixes, got %d", len(veh.sent))
	}
	if stats := runner.Stats(); stats.Forwarded != 2 {
		t.Errorf("Stats.Forwarded = %d, want 2", stats.Forwarded)
	}
	if veh.InAir() {
		t.Error("Vehicle still in air after mission")
	}
}

// TestRunAlreadyFlying tests that a vehicle that is armed and airborne
// gets neither an arm nor a takeoff command.
func TestRunAlreadyFlying(t *testing.T) {
	veh := newFakeVehicle()
	veh.armed = true
	veh.inAir = true
	veh.pos.RelativeAltitudeM = 10

	source := &scriptedSource{fixes: []location.Fix{
		{LatitudeDeg: 47.3977, LongitudeDeg: 8.5456, Time: time.Now().UTC()},
	}}

	runner := NewRunner(veh, source, testOptions(), testLogger())
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"setconfig", "start", "stop", "land"}
	got := veh.callSequence()
	if len(got) != len(want) {
		t.Fatalf("Call sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Call sequence = %v, want %v", got, want)
		}
	}
}

// TestRunObserverSeesFixes tests the OnFix hook.
func TestRunObserverSeesFixes(t *testing.T) {
	veh := newFakeVehicle()
	source := &scriptedSource{fixes: []location.Fix{
		{LatitudeDeg: 47.3977, LongitudeDeg: 8.5456, Time: time.Now().UTC()},
	}}

	var mu sync.Mutex
	var observed []location.Fix
	opts := testOptions()
	opts.OnFix = func(fix location.Fix) {
		mu.Lock()
		observed = append(observed, fix)
		mu.Unlock()
	}

	runner := NewRunner(veh, source, opts, testLogger())
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 {
		t.Errorf("Observer saw %d fixes, want 1", len(observed))
	}
}

// TestRunWatchdogAbort tests that an external mode change ends the follow
// phase, skips the follow stop, and still lands.
func TestRunWatchdogAbort(t *testing.T) {
	veh := newFakeVehicle()
	veh.onStart = func() {
		veh.setMode(vehicle.FlightModeFollowMe)
		veh.setMode(vehicle.FlightModeHold)
	}

	runner := NewRunner(veh, &blockingSource{}, testOptions(), testLogger())
	err := runner.Run(context.Background())
	if !errors.Is(err, ErrModeOverride) {
		t.Fatalf("Run error = %v, want ErrModeOverride", err)
	}

	calls := veh.callSequence()
	for _, call := range calls {
		if call == "stop" {
			t.Error("Follow stop issued after external mode change")
		}
	}
	if calls[len(calls)-1] != "land" {
		t.Errorf("Last call = %s, want land", calls[len(calls)-1])
	}
	if veh.InAir() {
		t.Error("Vehicle still in air after abort")
	}
}

// TestRunArmFailure tests that a rejected arm command stops the mission
// before takeoff.
func TestRunArmFailure(t *testing.T) {
	veh := newFakeVehicle()
	veh.armErr = vehicle.ErrCommandDenied

	runner := NewRunner(veh, &blockingSource{}, testOptions(), testLogger())
	err := runner.Run(context.Background())
	if !errors.Is(err, vehicle.ErrCommandDenied) {
		t.Fatalf("Run error = %v, want ErrCommandDenied", err)
	}

	for _, call := range veh.callSequence() {
		if call == "takeoff" {
			t.Error("Takeoff issued after arm failure")
		}
	}
}

// TestRunHealthCancel tests that a cancelled context interrupts the health
// wait.
func TestRunHealthCancel(t *testing.T) {
	veh := newFakeVehicle()
	veh.health.GlobalPositionOK = false

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	runner := NewRunner(veh, &blockingSource{}, testOptions(), testLogger())
	err := runner.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want DeadlineExceeded", err)
	}
}

// TestRunSourceFailure tests that a failing location source aborts the
// follow phase but the vehicle still lands.
func TestRunSourceFailure(t *testing.T) {
	veh := newFakeVehicle()
	source := &scriptedSource{err: errors.New("provider hung up")}

	runner := NewRunner(veh, source, testOptions(), testLogger())
	err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("Expected error from failing source")
	}

	calls := veh.callSequence()
	if calls[len(calls)-1] != "land" {
		t.Errorf("Last call = %s, want land", calls[len(calls)-1])
	}
}
