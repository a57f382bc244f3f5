// Package motion estimates player speed from recent position fixes. The
// session layer uses the estimate to gate road snapping (no point snapping
// a stationary player) and to tag published events with a movement state.
package motion

import (
	"sync"
	"time"

	"github.com/sajari/regression"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/geo"
)

// State classifies estimated movement speed.
type State string

const (
	StateUnknown    State = "unknown"
	StateStationary State = "stationary"
	StateWalking    State = "walking"
	StateDriving    State = "driving"
)

// Speed thresholds in m/s. Walking tops out around 2.5 m/s; anything past
// 6 m/s is vehicle territory.
const (
	stationaryMaxSpeed = 0.5
	walkingMaxSpeed    = 6.0
)

const (
	maxSamples = 12
	sampleTTL  = 90 * time.Second
)

type sample struct {
	pos pkg.Coordinate
	at  time.Time
}

// Detector holds a sliding window of fixes and regresses cumulative
// traveled distance against time to estimate speed. Regression smooths
// over GPS jitter better than dividing the last two fixes.
type Detector struct {
	mu      sync.Mutex
	samples []sample
}

// NewDetector creates an empty motion detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Observe records a position fix.
func (d *Detector) Observe(pos pkg.Coordinate, at time.Time) {
	if !pos.Valid() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.samples = append(d.samples, sample{pos: pos, at: at})
	d.prune(at)
}

// prune drops expired samples and caps the window. Caller holds the lock.
func (d *Detector) prune(now time.Time) {
	cutoff := now.Add(-sampleTTL)
	kept := d.samples[:0]
	for _, s := range d.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	d.samples = kept
	if len(d.samples) > maxSamples {
		d.samples = d.samples[len(d.samples)-maxSamples:]
	}
}

// Speed returns the estimated speed in m/s. With fewer than three samples
// the estimate is 0 and ok is false.
func (d *Detector) Speed() (speed float64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.samples) < 3 {
		return 0, false
	}

	r := new(regression.Regression)
	r.SetObserved("traveled meters")
	r.SetVar(0, "elapsed seconds")

	start := d.samples[0]
	traveled := 0.0
	for i, s := range d.samples {
		if i > 0 {
			traveled += geo.Distance(d.samples[i-1].pos, s.pos)
		}
		elapsed := s.at.Sub(start.at).Seconds()
		r.Train(regression.DataPoint(traveled, []float64{elapsed}))
	}

	if err := r.Run(); err != nil {
		return 0, false
	}

	// Slope of distance over time. Clamp the occasional negative slope
	// from jittery clusters to zero.
	speed = r.Coeff(1)
	if speed < 0 {
		speed = 0
	}
	return speed, true
}

// Classify maps the current speed estimate to a movement state.
func (d *Detector) Classify() State {
	speed, ok := d.Speed()
	if !ok {
		return StateUnknown
	}
	switch {
	case speed < stationaryMaxSpeed:
		return StateStationary
	case speed < walkingMaxSpeed:
		return StateWalking
	default:
		return StateDriving
	}
}

// Reset clears the sample window.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.samples = nil
}
