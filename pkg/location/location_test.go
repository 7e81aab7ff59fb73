package location

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestDecodeFix tests the provider wire format decoder.
func TestDecodeFix(t *testing.T) {
	t.Run("Full fix", func(t *testing.T) {
		line := []byte(`{"latitude_deg":47.3977,"longitude_deg":8.5456,"altitude_m":488.0,"time":"2026-08-30T12:00:00Z"}`)
		fix, err := DecodeFix(line)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if fix.LatitudeDeg != 47.3977 {
			t.Errorf("Latitude = %f, want 47.3977", fix.LatitudeDeg)
		}
		if fix.LongitudeDeg != 8.5456 {
			t.Errorf("Longitude = %f, want 8.5456", fix.LongitudeDeg)
		}
		if fix.AltitudeM != 488.0 {
			t.Errorf("Altitude = %f, want 488.0", fix.AltitudeM)
		}
		if fix.Time.IsZero() {
			t.Error("Expected timestamp to be preserved")
		}
	})

	t.Run("Missing timestamp defaults to now", func(t *testing.T) {
		line := []byte(`{"latitude_deg":1.0,"longitude_deg":2.0}`)
		fix, err := DecodeFix(line)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if fix.Time.IsZero() {
			t.Error("Expected decode to stamp the fix")
		}
		if time.Since(fix.Time) > time.Minute {
			t.Errorf("Expected a recent timestamp, got %v", fix.Time)
		}
	})

	t.Run("Malformed JSON", func(t *testing.T) {
		if _, err := DecodeFix([]byte("{lat: nope}")); err == nil {
			t.Error("Expected error for malformed JSON")
		}
	})
}

// TestEncodeDecodeRoundTrip verifies both ends of the wire format agree.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := Fix{
		LatitudeDeg:  -33.8688,
		LongitudeDeg: 151.2093,
		AltitudeM:    58.0,
		Time:         time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}

	data, err := EncodeFix(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := DecodeFix(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded != original {
		t.Errorf("Round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

// TestPushSource tests the in-memory source used by the web API.
func TestPushSource(t *testing.T) {
	t.Run("Delivers pushed fixes in order", func(t *testing.T) {
		src := NewPushSource()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		var got []Fix
		done := make(chan struct{})

		go func() {
			src.Run(ctx, func(f Fix) {
				mu.Lock()
				got = append(got, f)
				if len(got) == 3 {
					close(done)
				}
				mu.Unlock()
			})
		}()

		for i := 1; i <= 3; i++ {
			src.Push(Fix{LatitudeDeg: float64(i)})
		}

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for fixes")
		}

		mu.Lock()
		defer mu.Unlock()
		for i, f := range got {
			if f.LatitudeDeg != float64(i+1) {
				t.Errorf("Fix %d latitude = %f, want %d", i, f.LatitudeDeg, i+1)
			}
		}
	})

	t.Run("Drops oldest when consumer is slow", func(t *testing.T) {
		src := NewPushSource()

		// No consumer running; overfill the buffer.
		for i := 0; i < 100; i++ {
			src.Push(Fix{LatitudeDeg: float64(i)})
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		first := make(chan Fix, 1)
		go func() {
			src.Run(ctx, func(f Fix) {
				select {
				case first <- f:
				default:
				}
			})
		}()

		select {
		case f := <-first:
			// Oldest fixes must have been discarded.
			if f.LatitudeDeg < 80 {
				t.Errorf("Expected old fixes dropped, first delivered was %f", f.LatitudeDeg)
			}
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for fix")
		}
	})

	t.Run("Run returns on context cancel", func(t *testing.T) {
		src := NewPushSource()
		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		go func() {
			errCh <- src.Run(ctx, func(Fix) {})
		}()

		cancel()

		select {
		case err := <-errCh:
			if err != context.Canceled {
				t.Errorf("Expected context.Canceled, got: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Run did not return after cancel")
		}
	})
}
