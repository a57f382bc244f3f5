package position

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/geo"
)

// Source is a continuous location feed for one user.
type Source interface {
	Run(ctx context.Context, emit func(pkg.Fix)) error
}

// Simulator is a virtual walker: it emits fixes along a fixed bearing at a
// steady speed. Positions are derived from the tick count, not wall clock,
// so runs are deterministic.
type Simulator struct {
	Start          pkg.Coordinate
	BearingDeg     float64
	SpeedMPS       float64
	Interval       time.Duration
	AccuracyMeters float64
}

// Run emits one fix immediately and then one per interval until the context
// is done. Defaults: 1.4 m/s walking pace, 1 s interval, 5 m accuracy.
func (s *Simulator) Run(ctx context.Context, emit func(pkg.Fix)) error {
	if !s.Start.Valid() {
		return fmt.Errorf("invalid start coordinate: %+v", s.Start)
	}

	speed := s.SpeedMPS
	if speed <= 0 {
		speed = 1.4
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	accuracy := s.AccuracyMeters
	if accuracy <= 0 {
		accuracy = 5
	}
	bearingRad := s.BearingDeg * math.Pi / 180

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	step := speed * interval.Seconds()
	for n := 0; ; n++ {
		pos := geo.Offset(s.Start, bearingRad, step*float64(n))
		emit(pkg.Fix{
			Position:       pos,
			AccuracyMeters: accuracy,
			Timestamp:      time.Now(),
		})

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
