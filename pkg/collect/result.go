// Package collect implements the proximity-gated collection flow: validate
// the player position, enforce entity state and distance, credit the ledger
// exactly once, unlock chained prizes, and commit the event through the
// persistence policy.
package collect

// ResultCode classifies the outcome of a collection attempt.
type ResultCode string

const (
	// ResultCollected means the entity was credited on this attempt.
	ResultCollected ResultCode = "collected"

	// ResultTooFar means the player is outside the entity's required
	// proximity radius.
	ResultTooFar ResultCode = "too_far"

	// ResultAlreadyCollected means this entity was credited previously.
	ResultAlreadyCollected ResultCode = "already_collected"

	// ResultEntityLocked means the entity has not been revealed yet.
	ResultEntityLocked ResultCode = "entity_locked"

	// ResultInvalidPosition means no usable player position was supplied.
	ResultInvalidPosition ResultCode = "invalid_position"
)

// Result describes one collection attempt. DistanceMeters is populated
// whenever a valid position was supplied, regardless of outcome.
type Result struct {
	Code           ResultCode `json:"code"`
	EntityID       string     `json:"entity_id"`
	DistanceMeters float64    `json:"distance_meters"`

	// RemainingMeters and RemainingFeet are how much closer the player
	// must get. Set only when Code is ResultTooFar.
	RemainingMeters float64 `json:"remaining_meters,omitempty"`
	RemainingFeet   float64 `json:"remaining_feet,omitempty"`

	// PointsAwarded is the value credited on this attempt, zero unless
	// Code is ResultCollected.
	PointsAwarded int `json:"points_awarded"`
	TotalPoints   int `json:"total_points"`
	StreakDays    int `json:"streak_days"`

	// UnlockedEntityID names the chained prize revealed by this
	// collection, if any.
	UnlockedEntityID string `json:"unlocked_entity_id,omitempty"`

	// PersistenceDegraded reports that the credit was committed to the
	// local fallback store instead of the authoritative backend. The
	// in-memory balance is still correct.
	PersistenceDegraded bool `json:"persistence_degraded,omitempty"`
}

// Collected reports whether the attempt credited the entity.
func (r *Result) Collected() bool {
	return r.Code == ResultCollected
}
