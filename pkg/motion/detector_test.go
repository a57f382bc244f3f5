package motion

import (
	"math"
	"testing"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/geo"
)

var origin = pkg.Coordinate{Lat: 33.7490, Lng: -84.3880}

// walk feeds the detector fixes moving north at speedMS for n seconds.
func walk(d *Detector, speedMS float64, n int, start time.Time) {
	for i := 0; i <= n; i++ {
		pos := geo.Offset(origin, 0, speedMS*float64(i))
		d.Observe(pos, start.Add(time.Duration(i)*time.Second))
	}
}

func TestSpeedNeedsThreeSamples(t *testing.T) {
	d := NewDetector()
	now := time.Now()

	d.Observe(origin, now)
	d.Observe(geo.Offset(origin, 0, 5), now.Add(time.Second))

	if _, ok := d.Speed(); ok {
		t.Error("expected no estimate with two samples")
	}
	if got := d.Classify(); got != StateUnknown {
		t.Errorf("expected unknown, got %s", got)
	}
}

func TestSpeedEstimatesWalkingPace(t *testing.T) {
	d := NewDetector()
	walk(d, 1.5, 10, time.Now())

	speed, ok := d.Speed()
	if !ok {
		t.Fatal("expected speed estimate")
	}
	if math.Abs(speed-1.5) > 0.2 {
		t.Errorf("estimated %.2f m/s, want ~1.5", speed)
	}
	if got := d.Classify(); got != StateWalking {
		t.Errorf("expected walking, got %s", got)
	}
}

func TestClassifyStationaryUnderJitter(t *testing.T) {
	d := NewDetector()
	now := time.Now()

	// Sub-meter wobble around a fixed point.
	offsets := []float64{0, 0.4, 0.1, 0.5, 0.2, 0.3}
	for i, m := range offsets {
		d.Observe(geo.Offset(origin, float64(i), m), now.Add(time.Duration(i)*5*time.Second))
	}

	if got := d.Classify(); got != StateStationary {
		speed, _ := d.Speed()
		t.Errorf("expected stationary, got %s (%.2f m/s)", got, speed)
	}
}

func TestClassifyDriving(t *testing.T) {
	d := NewDetector()
	walk(d, 15.0, 8, time.Now())

	if got := d.Classify(); got != StateDriving {
		t.Errorf("expected driving, got %s", got)
	}
}

func TestOldSamplesExpire(t *testing.T) {
	d := NewDetector()
	now := time.Now()

	// Fast movement two minutes ago, then a fresh lone fix. The stale
	// burst must not survive into the estimate window.
	walk(d, 15.0, 5, now.Add(-2*time.Minute))
	d.Observe(origin, now)

	if _, ok := d.Speed(); ok {
		t.Error("expected no estimate after stale samples expired")
	}
}

func TestResetClearsWindow(t *testing.T) {
	d := NewDetector()
	walk(d, 1.5, 10, time.Now())
	d.Reset()

	if _, ok := d.Speed(); ok {
		t.Error("expected no estimate after reset")
	}
}

func TestInvalidFixIgnored(t *testing.T) {
	d := NewDetector()
	now := time.Now()

	d.Observe(pkg.Coordinate{Lat: math.NaN(), Lng: 0}, now)
	d.Observe(pkg.Coordinate{Lat: 91, Lng: 0}, now)

	if _, ok := d.Speed(); ok {
		t.Error("invalid fixes produced an estimate")
	}
}
