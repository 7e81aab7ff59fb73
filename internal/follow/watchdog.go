package follow

import (
	"github.com/sirupsen/logrus"

	"github.com/openuav/follow-gcs/pkg/vehicle"
)

// Watchdog watches the flight mode while follow-me is active. If anything
// other than this process changes the mode (pilot override, failsafe, RTL)
// the follow phase must end: the vehicle is no longer listening to our
// target stream.
type Watchdog struct {
	followMe  vehicle.FollowMe
	logger    *logrus.Logger
	unsub     func()
	triggered chan vehicle.FlightMode
}

// NewWatchdog subscribes to flight-mode updates. The watchdog arms itself
// the first time it sees follow-me active, so mode churn during the mode
// switch itself never trips it.
func NewWatchdog(tel vehicle.Telemetry, fm vehicle.FollowMe, logger *logrus.Logger) *Watchdog {
	w := &Watchdog{
		followMe:  fm,
		logger:    logger,
		triggered: make(chan vehicle.FlightMode, 1),
	}

	armed := false
	w.unsub = tel.SubscribeFlightMode(func(mode vehicle.FlightMode) {
		if mode == vehicle.FlightModeFollowMe {
			armed = true
			if last, ok := fm.LastLocation(); ok {
				logger.Infof("[FlightMode: %s] target is at: %.7f, %.7f degrees",
					mode, last.LatitudeDeg, last.LongitudeDeg)
			}
			return
		}
		if !armed {
			return
		}
		armed = false
		logger.Warnf("flight mode was changed externally to %s", mode)
		select {
		case w.triggered <- mode:
		default:
		}
	})

	return w
}

// Triggered delivers the mode the vehicle switched to when the watchdog
// fires.
func (w *Watchdog) Triggered() <-chan vehicle.FlightMode {
	return w.triggered
}

// Stop unsubscribes from mode updates.
func (w *Watchdog) Stop() {
	if w.unsub != nil {
		w.unsub()
		w.unsub = nil
	}
}
