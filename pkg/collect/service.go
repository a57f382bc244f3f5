package collect

import (
	"context"
	"fmt"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/geo"
	"github.com/stashhunt/stashd/pkg/ledger"
	"github.com/stashhunt/stashd/pkg/logx"
	"github.com/stashhunt/stashd/pkg/metrics"
	"github.com/stashhunt/stashd/pkg/spawn"
	"github.com/stashhunt/stashd/pkg/store"
)

// Service runs collection attempts against a ledger and a spawned batch.
// Attempts for one player must be serialized by the caller (the session
// layer does this); the ledger itself is safe for concurrent use, so a
// duplicate racing attempt degrades to already_collected rather than a
// double credit.
type Service struct {
	ledger  *ledger.Ledger
	commit  *CommitPolicy
	logger  *logx.Logger
	eventCb func(pkg.Event)
	now     func() time.Time
}

// NewService creates a collection service for one player's ledger.
func NewService(l *ledger.Ledger, commit *CommitPolicy, logger *logx.Logger) *Service {
	return &Service{
		ledger: l,
		commit: commit,
		logger: logger,
		now:    time.Now,
	}
}

// SetEventCallback registers a callback invoked for collection lifecycle
// events (collected, entity_revealed, persistence_degraded). The callback
// runs synchronously on the attempt path and must not block.
func (s *Service) SetEventCallback(cb func(pkg.Event)) {
	s.eventCb = cb
}

// Attempt tries to collect entityID from batch at the player position.
// A non-nil Result is returned for every recognized entity; the error is
// reserved for unknown entities and other programming mistakes.
func (s *Service) Attempt(ctx context.Context, batch *spawn.Batch, entityID string, position *pkg.Coordinate) (*pkg.Event, *Result, error) {
	if batch == nil {
		return nil, nil, fmt.Errorf("no entity batch loaded")
	}
	entity := batch.EntityByID(entityID)
	if entity == nil {
		return nil, nil, fmt.Errorf("unknown entity %q", entityID)
	}

	now := s.now()
	res := &Result{
		EntityID:    entityID,
		TotalPoints: s.ledger.TotalPoints(),
		StreakDays:  s.ledger.StreakDays(),
	}

	if position == nil || !position.Valid() {
		res.Code = ResultInvalidPosition
		return s.finish(res, entity, nil)
	}

	res.DistanceMeters = geo.Distance(*position, entity.Position)

	if entity.State == pkg.StateLocked {
		res.Code = ResultEntityLocked
		return s.finish(res, entity, nil)
	}
	if entity.State == pkg.StateCollected || s.ledger.Has(entityID) {
		res.Code = ResultAlreadyCollected
		return s.finish(res, entity, nil)
	}

	// Boundary is inclusive: standing exactly on the radius collects.
	if res.DistanceMeters > entity.ProximityRequiredMeters {
		res.Code = ResultTooFar
		res.RemainingMeters = res.DistanceMeters - entity.ProximityRequiredMeters
		res.RemainingFeet = geo.MetersToFeet(res.RemainingMeters)
		return s.finish(res, entity, nil)
	}

	if !s.ledger.CreditOnce(entity, now) {
		res.Code = ResultAlreadyCollected
		return s.finish(res, entity, nil)
	}

	entity.State = pkg.StateCollected
	res.Code = ResultCollected
	res.PointsAwarded = entity.Value
	res.TotalPoints = s.ledger.TotalPoints()
	res.StreakDays = s.ledger.StreakDays()

	var unlocked *pkg.Entity
	if entity.UnlocksEntityID != "" {
		unlocked = batch.EntityByID(entity.UnlocksEntityID)
		if unlocked != nil && unlocked.State == pkg.StateLocked {
			unlocked.State = pkg.StateAvailable
			res.UnlockedEntityID = unlocked.ID
		} else {
			unlocked = nil
		}
	}

	ev := &store.CollectionEvent{
		UserID:    s.ledger.UserID(),
		EntityID:  entity.ID,
		BatchID:   entity.BatchID,
		Kind:      entity.Kind,
		Value:     entity.Value,
		Timestamp: now,
	}
	degraded, commitErr := s.commit.Commit(ctx, ev)
	if commitErr != nil {
		// The credit stands regardless; persistence catches up via
		// the reconcile queue or the next successful commit.
		s.logger.Error("Collection commit failed on both stores",
			"entity_id", entity.ID, "error", commitErr.Error())
	}
	res.PersistenceDegraded = degraded || commitErr != nil
	if res.PersistenceDegraded {
		metrics.PersistenceDegraded.Inc()
		s.emit(pkg.Event{
			Type:      pkg.EventPersistenceDegraded,
			UserID:    s.ledger.UserID(),
			EntityID:  entity.ID,
			Timestamp: now,
		})
	}

	return s.finish(res, entity, unlocked)
}

// finish records metrics and emits lifecycle events for a settled attempt.
func (s *Service) finish(res *Result, entity *pkg.Entity, unlocked *pkg.Entity) (*pkg.Event, *Result, error) {
	metrics.CollectAttempts.WithLabelValues(string(res.Code)).Inc()

	if !res.Collected() {
		s.logger.Debug("Collection attempt rejected",
			"entity_id", res.EntityID, "code", string(res.Code),
			"distance_m", res.DistanceMeters)
		return nil, res, nil
	}

	metrics.PointsAwarded.Add(float64(res.PointsAwarded))
	s.logger.Info("Entity collected",
		"entity_id", entity.ID, "kind", string(entity.Kind),
		"value", entity.Value, "total_points", res.TotalPoints,
		"streak_days", res.StreakDays)

	collectedEvent := pkg.Event{
		Type:      pkg.EventCollected,
		UserID:    s.ledger.UserID(),
		EntityID:  entity.ID,
		Kind:      entity.Kind,
		Value:     entity.Value,
		Timestamp: s.now(),
		Data: map[string]interface{}{
			"total_points": res.TotalPoints,
			"streak_days":  res.StreakDays,
		},
	}
	s.emit(collectedEvent)

	if unlocked != nil {
		s.emit(pkg.Event{
			Type:      pkg.EventEntityRevealed,
			UserID:    s.ledger.UserID(),
			EntityID:  unlocked.ID,
			Kind:      unlocked.Kind,
			Value:     unlocked.Value,
			Timestamp: s.now(),
		})
	}

	return &collectedEvent, res, nil
}

func (s *Service) emit(ev pkg.Event) {
	if s.eventCb != nil {
		s.eventCb(ev)
	}
}
