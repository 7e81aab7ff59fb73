// Package location provides the external target-location sources the
// follow-me relay consumes. A source delivers a stream of Fix values from
// wherever the person (or thing) being followed reports its position: the
// RControlStation TCP feed, a websocket provider, or a GPS receiver on a
// serial port.
package location

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Fix is a single target location report.
type Fix struct {
	// LatitudeDeg and LongitudeDeg in decimal degrees (WGS84)
	LatitudeDeg  float64 `json:"latitude_deg"`
	LongitudeDeg float64 `json:"longitude_deg"`

	// AltitudeM is meters above mean sea level; zero if the source does
	// not report altitude
	AltitudeM float64 `json:"altitude_m"`

	// Time is when the fix was measured. Sources that do not timestamp
	// their reports use receive time.
	Time time.Time `json:"time"`
}

// Handler receives fixes as they arrive. It is called from the source's
// read loop and must not block for long.
type Handler func(Fix)

// Source is a stream of target location fixes.
type Source interface {
	// Run reads fixes and hands them to fn until the context is
	// cancelled or the source fails permanently. Transient connection
	// errors are retried internally with backoff.
	Run(ctx context.Context, fn Handler) error
}

// DecodeFix parses one line of the provider wire format: a JSON object per
// line, as produced by the target simulator and the websocket provider.
func DecodeFix(line []byte) (Fix, error) {
	var f Fix
	if err := json.Unmarshal(line, &f); err != nil {
		return Fix{}, err
	}
	if f.Time.IsZero() {
		f.Time = time.Now().UTC()
	}
	return f, nil
}

// EncodeFix renders a fix in the provider wire format, without the trailing
// newline.
func EncodeFix(f Fix) ([]byte, error) {
	return json.Marshal(f)
}

// PushSource is an in-memory Source fed by calling Push. It backs the web
// API's target-injection endpoint and the unit tests.
type PushSource struct {
	mu sync.Mutex
	ch chan Fix
}

// NewPushSource creates a PushSource with a small buffer; pushes into a
// full buffer drop the oldest fix so a stalled consumer never blocks the
// producer.
func NewPushSource() *PushSource {
	return &PushSource{ch: make(chan Fix, 16)}
}

// Push delivers one fix to the running consumer.
func (s *PushSource) Push(f Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case s.ch <- f:
			return
		default:
			// Drop the oldest fix; only the newest position matters.
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

// Run implements Source.
func (s *PushSource) Run(ctx context.Context, fn Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.ch:
			fn(f)
		}
	}
}
