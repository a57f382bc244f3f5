// Package spawn procedurally places collectible entities around a reference
// coordinate with a rarity-weighted spawn policy.
package spawn

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/geo"
	"github.com/stashhunt/stashd/pkg/logx"
)

// Config holds the spawn policy. Defaults mirror the live game tuning:
// standard coins scatter across ~1500 ft, rare and semi-rare coins demand a
// close approach.
type Config struct {
	StandardCount      int     `yaml:"standard_count" json:"standard_count"`
	StandardRadiusM    float64 `yaml:"standard_radius_m" json:"standard_radius_m"`
	StandardProximityM float64 `yaml:"standard_proximity_m" json:"standard_proximity_m"`

	RareChance     float64 `yaml:"rare_chance" json:"rare_chance"`
	RareRadiusM    float64 `yaml:"rare_radius_m" json:"rare_radius_m"`
	RareProximityM float64 `yaml:"rare_proximity_m" json:"rare_proximity_m"`
	RareValue      int     `yaml:"rare_value" json:"rare_value"`

	SemiRareChance     float64 `yaml:"semi_rare_chance" json:"semi_rare_chance"`
	SemiRareRadiusM    float64 `yaml:"semi_rare_radius_m" json:"semi_rare_radius_m"`
	SemiRareProximityM float64 `yaml:"semi_rare_proximity_m" json:"semi_rare_proximity_m"`
	SemiRareValue      int     `yaml:"semi_rare_value" json:"semi_rare_value"`

	ChainedEnabled      bool    `yaml:"chained_enabled" json:"chained_enabled"`
	ChainedVisibleValue int     `yaml:"chained_visible_value" json:"chained_visible_value"`
	ChainedPrizeValue   int     `yaml:"chained_prize_value" json:"chained_prize_value"`
	ChainedProximityM   float64 `yaml:"chained_proximity_m" json:"chained_proximity_m"`

	Denominations []int `yaml:"denominations" json:"denominations"`
}

// DefaultConfig returns the production spawn policy.
func DefaultConfig() *Config {
	return &Config{
		StandardCount:      10,
		StandardRadiusM:    457, // ~1500 ft
		StandardProximityM: 50,

		RareChance:     0.10,
		RareRadiusM:    1000,
		RareProximityM: 15,
		RareValue:      250,

		SemiRareChance:     0.30,
		SemiRareRadiusM:    1500,
		SemiRareProximityM: 15,
		SemiRareValue:      100,

		ChainedEnabled:      true,
		ChainedVisibleValue: 47,
		ChainedPrizeValue:   100,
		ChainedProximityM:   25,

		Denominations: []int{1, 5, 10, 25},
	}
}

// Validate checks the config for values that would break generation.
func (c *Config) Validate() error {
	if c.StandardCount < 0 {
		return fmt.Errorf("standard_count must be >= 0, got %d", c.StandardCount)
	}
	if c.StandardRadiusM <= 0 {
		return fmt.Errorf("standard_radius_m must be > 0, got %f", c.StandardRadiusM)
	}
	if c.RareChance < 0 || c.RareChance > 1 {
		return fmt.Errorf("rare_chance must be in [0,1], got %f", c.RareChance)
	}
	if c.SemiRareChance < 0 || c.SemiRareChance > 1 {
		return fmt.Errorf("semi_rare_chance must be in [0,1], got %f", c.SemiRareChance)
	}
	if len(c.Denominations) == 0 {
		return fmt.Errorf("denominations must not be empty")
	}
	return nil
}

// Batch is one spawn generation: the set of live entities for a session.
type Batch struct {
	ID        string
	Center    pkg.Coordinate
	Entities  []*pkg.Entity
	CreatedAt time.Time
}

// EntityByID returns the entity with the given id, or nil.
func (b *Batch) EntityByID(id string) *pkg.Entity {
	for _, e := range b.Entities {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Markers returns the rendering view of every entity in the batch.
func (b *Batch) Markers() []pkg.Marker {
	out := make([]pkg.Marker, 0, len(b.Entities))
	for _, e := range b.Entities {
		out = append(out, e.Marker())
	}
	return out
}

// Generator produces entity batches. The random source is injected so tests
// can drive deterministic spawns.
type Generator struct {
	cfg    *Config
	rng    *rand.Rand
	logger *logx.Logger
	mu     sync.Mutex
}

// NewGenerator creates a generator with the given config and seed.
func NewGenerator(cfg *Config, seed int64, logger *logx.Logger) (*Generator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid spawn config: %w", err)
	}
	return &Generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger,
	}, nil
}

// EnsureBatch returns the existing batch untouched when it still has
// entities, so duplicate invocations on position updates never duplicate
// spawns. A new batch is generated only on first load (nil or empty batch)
// or explicit reset.
func (g *Generator) EnsureBatch(existing *Batch, center pkg.Coordinate) *Batch {
	if existing != nil && len(existing.Entities) > 0 {
		return existing
	}
	return g.Generate(center)
}

// Generate produces a fresh batch around center: standard coins, an optional
// rare and semi-rare roll, and the chained pair.
func (g *Generator) Generate(center pkg.Coordinate) *Batch {
	g.mu.Lock()
	defer g.mu.Unlock()

	batch := &Batch{
		ID:        uuid.NewString(),
		Center:    center,
		CreatedAt: time.Now(),
	}

	batch.Entities = append(batch.Entities, g.standardCoins(batch.ID, center)...)
	batch.Entities = append(batch.Entities, g.rareCoins(batch.ID, center)...)
	batch.Entities = append(batch.Entities, g.semiRareCoins(batch.ID, center)...)
	if g.cfg.ChainedEnabled {
		batch.Entities = append(batch.Entities, g.chainedPair(batch.ID, center)...)
	}

	counts := map[pkg.EntityKind]int{}
	for _, e := range batch.Entities {
		counts[e.Kind]++
	}
	g.logger.Info("Spawn batch generated",
		"batch_id", batch.ID,
		"center_lat", center.Lat,
		"center_lng", center.Lng,
		"standard", counts[pkg.KindStandardCoin],
		"rare", counts[pkg.KindRareCoin],
		"semi_rare", counts[pkg.KindSemiRareCoin],
		"chained", counts[pkg.KindChained])

	return batch
}

// standardCoins places N coins uniformly over the disk. The sqrt on the
// radial draw gives uniform areal density; a plain uniform radius would
// cluster coins near the center.
func (g *Generator) standardCoins(batchID string, center pkg.Coordinate) []*pkg.Entity {
	coins := make([]*pkg.Entity, 0, g.cfg.StandardCount)
	for i := 0; i < g.cfg.StandardCount; i++ {
		angle := g.rng.Float64() * 2 * math.Pi
		dist := math.Sqrt(g.rng.Float64()) * g.cfg.StandardRadiusM
		value := g.cfg.Denominations[g.rng.Intn(len(g.cfg.Denominations))]

		coins = append(coins, &pkg.Entity{
			ID:                      fmt.Sprintf("coin-%s-%d", batchID[:8], i),
			BatchID:                 batchID,
			Kind:                    pkg.KindStandardCoin,
			Position:                geo.Offset(center, angle, dist),
			Value:                   value,
			ProximityRequiredMeters: g.cfg.StandardProximityM,
			State:                   pkg.StateAvailable,
		})
	}
	return coins
}

// rareCoins rolls the low spawn chance; on a hit it places one coin, or two
// 30% of the time.
func (g *Generator) rareCoins(batchID string, center pkg.Coordinate) []*pkg.Entity {
	if g.cfg.RareChance <= 0 || g.rng.Float64() > g.cfg.RareChance {
		return nil
	}

	count := 1
	if g.rng.Float64() >= 0.7 {
		count = 2
	}

	coins := make([]*pkg.Entity, 0, count)
	for i := 0; i < count; i++ {
		angle := g.rng.Float64() * 2 * math.Pi
		dist := g.rng.Float64() * g.cfg.RareRadiusM

		coins = append(coins, &pkg.Entity{
			ID:                      fmt.Sprintf("rare-%s-%d", batchID[:8], i),
			BatchID:                 batchID,
			Kind:                    pkg.KindRareCoin,
			Position:                geo.Offset(center, angle, dist),
			Value:                   g.cfg.RareValue,
			ProximityRequiredMeters: g.cfg.RareProximityM,
			State:                   pkg.StateAvailable,
		})
	}
	return coins
}

// semiRareCoins rolls the moderate spawn chance; on a hit it places 1-3
// streak-eligible coins.
func (g *Generator) semiRareCoins(batchID string, center pkg.Coordinate) []*pkg.Entity {
	if g.cfg.SemiRareChance <= 0 || g.rng.Float64() > g.cfg.SemiRareChance {
		return nil
	}

	count := g.rng.Intn(3) + 1
	coins := make([]*pkg.Entity, 0, count)
	for i := 0; i < count; i++ {
		angle := g.rng.Float64() * 2 * math.Pi
		dist := g.rng.Float64() * g.cfg.SemiRareRadiusM

		coins = append(coins, &pkg.Entity{
			ID:                      fmt.Sprintf("semirare-%s-%d", batchID[:8], i),
			BatchID:                 batchID,
			Kind:                    pkg.KindSemiRareCoin,
			Position:                geo.Offset(center, angle, dist),
			Value:                   g.cfg.SemiRareValue,
			ProximityRequiredMeters: g.cfg.SemiRareProximityM,
			State:                   pkg.StateAvailable,
		})
	}
	return coins
}

// chainedPair places the visible collectible and its hidden prize at the same
// coordinate. Collecting the visible entity reveals the prize; the prize is
// the chain terminus and unlocks nothing further.
func (g *Generator) chainedPair(batchID string, center pkg.Coordinate) []*pkg.Entity {
	visibleID := fmt.Sprintf("chain-%s-visible", batchID[:8])
	prizeID := fmt.Sprintf("chain-%s-prize", batchID[:8])

	return []*pkg.Entity{
		{
			ID:                      visibleID,
			BatchID:                 batchID,
			Kind:                    pkg.KindChained,
			Position:                center,
			Value:                   g.cfg.ChainedVisibleValue,
			ProximityRequiredMeters: g.cfg.ChainedProximityM,
			State:                   pkg.StateAvailable,
			UnlocksEntityID:         prizeID,
		},
		{
			ID:                      prizeID,
			BatchID:                 batchID,
			Kind:                    pkg.KindChained,
			Position:                center,
			Value:                   g.cfg.ChainedPrizeValue,
			ProximityRequiredMeters: g.cfg.ChainedProximityM,
			State:                   pkg.StateLocked,
		},
	}
}
