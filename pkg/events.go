package pkg

import "time"

// Event types emitted by the collection engine.
const (
	EventCollected           = "collected"
	EventEntityRevealed      = "entity_revealed"
	EventBatchSpawned        = "batch_spawned"
	EventPersistenceDegraded = "persistence_degraded"
	EventReconciled          = "reconciled"
)

// Event is a game event published to subscribers (rendering layer, MQTT,
// metrics). Data carries event-specific payload fields.
type Event struct {
	Type      string                 `json:"type"`
	UserID    string                 `json:"user_id"`
	EntityID  string                 `json:"entity_id,omitempty"`
	Kind      EntityKind             `json:"kind,omitempty"`
	Value     int                    `json:"value,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
