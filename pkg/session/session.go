// Package session ties the engine together per player: position ingest,
// batch spawning, road snapping, and serialized collection attempts.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/collect"
	"github.com/stashhunt/stashd/pkg/ledger"
	"github.com/stashhunt/stashd/pkg/logx"
	"github.com/stashhunt/stashd/pkg/metrics"
	"github.com/stashhunt/stashd/pkg/motion"
	"github.com/stashhunt/stashd/pkg/spawn"
)

// Snapper is the road snapping surface the session uses. Nil disables
// snapping entirely.
type Snapper interface {
	Snap(ctx context.Context, raw pkg.Coordinate) pkg.Coordinate
}

// Session is one player's live state. All public methods are safe for
// concurrent use; collection attempts in particular are serialized so a
// double tap resolves to exactly one credit.
type Session struct {
	mu sync.Mutex

	userID  string
	ledger  *ledger.Ledger
	service *collect.Service
	gen     *spawn.Generator
	batch   *spawn.Batch
	motion  *motion.Detector
	snapper Snapper
	logger  *logx.Logger

	lastFix  *pkg.Fix
	snapped  *pkg.Coordinate
	lastSeen time.Time

	eventCb func(pkg.Event)
	pending []pkg.Event
}

func newSession(userID string, l *ledger.Ledger, svc *collect.Service, gen *spawn.Generator, snapper Snapper, logger *logx.Logger) *Session {
	s := &Session{
		userID:   userID,
		ledger:   l,
		service:  svc,
		gen:      gen,
		motion:   motion.NewDetector(),
		snapper:  snapper,
		logger:   logger,
		lastSeen: time.Now(),
	}
	svc.SetEventCallback(s.emit)
	return s
}

// SetEventCallback registers the sink for this session's game events.
func (s *Session) SetEventCallback(cb func(pkg.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventCb = cb
}

// emit buffers an event for delivery. It runs with s.mu held; the actual
// callback fires in flush after the lock is released, so a callback that
// resolves sessions through the manager cannot invert lock order against a
// manager method that reads session state.
func (s *Session) emit(ev pkg.Event) {
	s.pending = append(s.pending, ev)
}

// flush delivers buffered events. Must be called without s.mu held.
func (s *Session) flush() {
	s.mu.Lock()
	events := s.pending
	s.pending = nil
	cb := s.eventCb
	s.mu.Unlock()

	if cb == nil {
		return
	}
	for _, ev := range events {
		cb(ev)
	}
}

// UserID returns the session owner.
func (s *Session) UserID() string {
	return s.userID
}

// UpdateFix ingests a position fix. The first valid fix spawns the entity
// batch around the player; later fixes only update motion state and the
// snapped display position. Movement never respawns entities.
func (s *Session) UpdateFix(ctx context.Context, fix *pkg.Fix) (pkg.Coordinate, error) {
	if fix == nil || !fix.Position.Valid() {
		return pkg.Coordinate{}, fmt.Errorf("invalid position fix")
	}

	// Deferred after Unlock, so events are delivered lock-free.
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFix = fix
	s.lastSeen = time.Now()
	s.motion.Observe(fix.Position, fix.Timestamp)

	if s.batch == nil {
		s.batch = s.gen.EnsureBatch(nil, fix.Position)
		metrics.BatchesSpawned.Inc()
		s.emit(pkg.Event{
			Type:      pkg.EventBatchSpawned,
			UserID:    s.userID,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"batch_id": s.batch.ID,
				"entities": len(s.batch.Entities),
			},
		})
	}

	display := fix.Position
	// Snapping is skipped while stationary: jitter at rest would just
	// churn API quota without moving the marker.
	if s.snapper != nil && s.motion.Classify() != motion.StateStationary {
		display = s.snapper.Snap(ctx, fix.Position)
	}
	s.snapped = &display
	return display, nil
}

// Collect attempts to collect an entity. A nil position falls back to the
// last ingested fix. Distance checks always use the raw position, never the
// road-snapped one.
func (s *Session) Collect(ctx context.Context, entityID string, position *pkg.Coordinate) (*collect.Result, error) {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen = time.Now()
	if position == nil && s.lastFix != nil {
		position = &s.lastFix.Position
	}

	_, res, err := s.service.Attempt(ctx, s.batch, entityID, position)
	return res, err
}

// Markers returns the renderable view of the current batch. Collected and
// locked entities are filtered out.
func (s *Session) Markers() []pkg.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		return nil
	}
	out := make([]pkg.Marker, 0, len(s.batch.Entities))
	for _, e := range s.batch.Entities {
		if e.State == pkg.StateAvailable {
			out = append(out, e.Marker())
		}
	}
	return out
}

// Snapshot returns the current ledger state.
func (s *Session) Snapshot() *pkg.LedgerSnapshot {
	return s.ledger.Snapshot(time.Now())
}

// MotionState reports the player's classified movement.
func (s *Session) MotionState() motion.State {
	return s.motion.Classify()
}

// Reset discards the current batch and spawns a fresh one around the last
// known position. Collected entity ids stay on the ledger, so a coin id
// from an old batch can never be credited twice.
func (s *Session) Reset(ctx context.Context) error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastFix == nil {
		return fmt.Errorf("no position known, cannot respawn")
	}

	s.batch = s.gen.Generate(s.lastFix.Position)
	s.motion.Reset()
	metrics.BatchesSpawned.Inc()
	s.emit(pkg.Event{
		Type:      pkg.EventBatchSpawned,
		UserID:    s.userID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"batch_id": s.batch.ID,
			"entities": len(s.batch.Entities),
			"reset":    true,
		},
	})
	return nil
}

// LastSeen reports the last time this session handled a request.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
