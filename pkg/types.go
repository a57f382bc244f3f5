package pkg

import (
	"math"
	"time"
)

// Coordinate represents a WGS84 position. Altitude is a rendering concern and
// is deliberately absent from the collection model.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is a usable position. NaN, Inf and
// out-of-range values all come from broken callers, not from real GPS fixes.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Fix is one position update from a location source.
type Fix struct {
	Position       Coordinate `json:"position"`
	AccuracyMeters float64    `json:"accuracy_meters"`
	Timestamp      time.Time  `json:"timestamp"`
}

// EntityKind identifies the closed set of collectible variants.
type EntityKind string

const (
	KindStandardCoin EntityKind = "standard-coin"
	KindRareCoin     EntityKind = "rare-coin"
	KindSemiRareCoin EntityKind = "semi-rare-coin"
	KindChained      EntityKind = "chained-collectible"
)

// StreakEligible reports whether collecting this kind can advance the daily
// streak. Only semi-rare coins count.
func (k EntityKind) StreakEligible() bool {
	return k == KindSemiRareCoin
}

// EntityState is the lifecycle state of a placed entity.
type EntityState string

const (
	StateLocked    EntityState = "locked"
	StateAvailable EntityState = "available"
	StateCollected EntityState = "collected"
)

// Entity represents one placed, collectible object.
type Entity struct {
	ID                      string      `json:"id"`
	BatchID                 string      `json:"batch_id"`
	Kind                    EntityKind  `json:"kind"`
	Position                Coordinate  `json:"position"`
	Value                   int         `json:"value"`
	ProximityRequiredMeters float64     `json:"proximity_required_m"`
	State                   EntityState `json:"state"`
	UnlocksEntityID         string      `json:"unlocks_entity_id,omitempty"`
}

// Marker is the narrow view of an entity exposed to the rendering layer:
// enough to draw a tap target, nothing more.
type Marker struct {
	ID       string      `json:"id"`
	Position Coordinate  `json:"position"`
	Kind     EntityKind  `json:"kind"`
	Value    int         `json:"value"`
	State    EntityState `json:"state"`
}

// Marker returns the rendering view of the entity.
func (e *Entity) Marker() Marker {
	return Marker{
		ID:       e.ID,
		Position: e.Position,
		Kind:     e.Kind,
		Value:    e.Value,
		State:    e.State,
	}
}

// CollectionRecord is one entry in a user's collection history. The history
// is the source of truth for streak computation.
type CollectionRecord struct {
	EntityKind EntityKind `json:"entity_kind"`
	Timestamp  time.Time  `json:"timestamp"`
}

// LedgerSnapshot is the persisted form of a user's collection ledger.
type LedgerSnapshot struct {
	UserID             string             `json:"user_id"`
	TotalPoints        int                `json:"total_points"`
	CollectedEntityIDs []string           `json:"collected_entity_ids"`
	RareCoinCount      int                `json:"rare_coin_count"`
	SemiRareCoinCount  int                `json:"semi_rare_coin_count"`
	CollectionHistory  []CollectionRecord `json:"collection_history"`
	CurrentStreakDays  int                `json:"current_streak_days"`
	UpdatedAt          time.Time          `json:"updated_at"`
}
