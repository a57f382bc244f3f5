// Package roads snaps raw player positions onto the nearest road using the
// Google Roads API. Snapping is cosmetic: collection distance checks always
// run against the raw fix, so a Roads outage never blocks gameplay.
package roads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"googlemaps.github.io/maps"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/geo"
	"github.com/stashhunt/stashd/pkg/logx"
	"github.com/stashhunt/stashd/pkg/metrics"
)

// roadsClient is the slice of the Google Maps client the snapper needs.
type roadsClient interface {
	NearestRoads(ctx context.Context, r *maps.NearestRoadsRequest) (*maps.NearestRoadsResponse, error)
}

// Config holds road snapping settings.
type Config struct {
	APIKey string `yaml:"api_key" json:"api_key"`

	// MinMoveMeters throttles lookups: moves smaller than this reuse the
	// previous snapped position instead of calling the API.
	MinMoveMeters float64 `yaml:"min_move_meters" json:"min_move_meters"`

	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// DefaultConfig returns road snapping defaults.
func DefaultConfig() *Config {
	return &Config{
		MinMoveMeters:  5.0,
		RequestTimeout: 5 * time.Second,
	}
}

// Snapper resolves raw fixes to on-road positions with throttling and a
// fail-open fallback chain: fresh snap, then last snapped, then raw.
type Snapper struct {
	mu          sync.Mutex
	client      roadsClient
	cfg         *Config
	logger      *logx.Logger
	lastRaw     *pkg.Coordinate
	lastSnapped *pkg.Coordinate
}

// NewSnapper creates a road snapper backed by the Google Roads API.
func NewSnapper(cfg *Config, logger *logx.Logger) (*Snapper, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("roads API key is required")
	}

	client, err := maps.NewClient(maps.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return newSnapper(client, cfg, logger), nil
}

func newSnapper(client roadsClient, cfg *Config, logger *logx.Logger) *Snapper {
	return &Snapper{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Snap returns the on-road position for a raw fix. It never returns an
// error: when the API is unreachable the previous snapped position is
// reused, and failing that the raw position passes through unchanged.
func (s *Snapper) Snap(ctx context.Context, raw pkg.Coordinate) pkg.Coordinate {
	if !raw.Valid() {
		return raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Small moves reuse the cached snap. GPS jitter at rest would
	// otherwise burn API quota for sub-meter wobble.
	if s.lastRaw != nil && s.lastSnapped != nil &&
		geo.Distance(raw, *s.lastRaw) < s.cfg.MinMoveMeters {
		metrics.RoadSnapRequests.WithLabelValues("cached").Inc()
		return *s.lastSnapped
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.client.NearestRoads(reqCtx, &maps.NearestRoadsRequest{
		Points: []maps.LatLng{{Lat: raw.Lat, Lng: raw.Lng}},
	})
	if err != nil || len(resp.SnappedPoints) == 0 {
		if err != nil {
			s.logger.Debug("Road snap request failed, falling back",
				"lat", raw.Lat, "lng", raw.Lng, "error", err.Error())
		}
		metrics.RoadSnapRequests.WithLabelValues("fallback").Inc()
		if s.lastSnapped != nil {
			return *s.lastSnapped
		}
		return raw
	}

	snapped := pkg.Coordinate{
		Lat: resp.SnappedPoints[0].Location.Lat,
		Lng: resp.SnappedPoints[0].Location.Lng,
	}
	s.lastRaw = &pkg.Coordinate{Lat: raw.Lat, Lng: raw.Lng}
	s.lastSnapped = &snapped
	metrics.RoadSnapRequests.WithLabelValues("snapped").Inc()
	return snapped
}

// Reset clears the snap cache, forcing the next Snap to hit the API.
func (s *Snapper) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRaw = nil
	s.lastSnapped = nil
}
