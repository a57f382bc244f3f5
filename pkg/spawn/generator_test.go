package spawn

import (
	"math"
	"testing"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/geo"
	"github.com/stashhunt/stashd/pkg/logx"
)

var center = pkg.Coordinate{Lat: 33.7490, Lng: -84.3880}

func newTestGenerator(t *testing.T, cfg *Config, seed int64) *Generator {
	t.Helper()
	g, err := NewGenerator(cfg, seed, logx.NewLogger("error", "spawn_test"))
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	return g
}

func TestGenerate_StandardCoinsWithinRadius(t *testing.T) {
	g := newTestGenerator(t, nil, 1)
	batch := g.Generate(center)

	for _, e := range batch.Entities {
		if e.Kind != pkg.KindStandardCoin {
			continue
		}
		d := geo.Distance(center, e.Position)
		if d > DefaultConfig().StandardRadiusM+1 {
			t.Errorf("Standard coin %s spawned %f m out, radius is %f", e.ID, d, DefaultConfig().StandardRadiusM)
		}
		if e.State != pkg.StateAvailable {
			t.Errorf("Standard coin %s spawned in state %s, want available", e.ID, e.State)
		}
	}
}

func TestGenerate_ValuesFromDenominationSet(t *testing.T) {
	g := newTestGenerator(t, nil, 7)
	batch := g.Generate(center)

	denoms := map[int]bool{1: true, 5: true, 10: true, 25: true}
	for _, e := range batch.Entities {
		if e.Kind == pkg.KindStandardCoin && !denoms[e.Value] {
			t.Errorf("Standard coin value %d not in denomination set", e.Value)
		}
	}
}

func TestGenerate_ArealUniformity(t *testing.T) {
	// Bin spawn distances into equal-area annuli. With sqrt radial sampling
	// each annulus should hold roughly the same count; without it the inner
	// bins would dominate.
	cfg := DefaultConfig()
	cfg.StandardCount = 10000
	cfg.RareChance = 0
	cfg.SemiRareChance = 0
	cfg.ChainedEnabled = false
	g := newTestGenerator(t, cfg, 42)

	batch := g.Generate(center)
	if len(batch.Entities) != 10000 {
		t.Fatalf("Expected 10000 entities, got %d", len(batch.Entities))
	}

	const bins = 10
	R := cfg.StandardRadiusM
	counts := make([]int, bins)
	for _, e := range batch.Entities {
		d := geo.Distance(center, e.Position)
		// Equal-area annulus index: bin i covers r in [R*sqrt(i/n), R*sqrt((i+1)/n)).
		idx := int(math.Floor(float64(bins) * (d * d) / (R * R)))
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}

	expected := 10000.0 / bins
	for i, c := range counts {
		if math.Abs(float64(c)-expected) > expected*0.15 {
			t.Errorf("Annulus %d holds %d coins, want ~%.0f (±15%%): density not uniform", i, c, expected)
		}
	}
}

func TestGenerate_RareSpawnPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StandardCount = 0
	cfg.SemiRareChance = 0
	cfg.ChainedEnabled = false
	g := newTestGenerator(t, cfg, 99)

	hits, total := 0, 0
	for i := 0; i < 2000; i++ {
		batch := g.Generate(center)
		n := len(batch.Entities)
		if n > 0 {
			hits++
			if n < 1 || n > 2 {
				t.Fatalf("Rare spawn produced %d coins, want 1-2", n)
			}
			for _, e := range batch.Entities {
				if e.Value != cfg.RareValue {
					t.Errorf("Rare coin value = %d, want %d", e.Value, cfg.RareValue)
				}
				if e.ProximityRequiredMeters != cfg.RareProximityM {
					t.Errorf("Rare proximity = %f, want %f", e.ProximityRequiredMeters, cfg.RareProximityM)
				}
			}
		}
		total++
	}

	rate := float64(hits) / float64(total)
	if rate < 0.07 || rate > 0.13 {
		t.Errorf("Rare spawn rate = %.3f over %d rolls, want ~0.10", rate, total)
	}
}

func TestGenerate_SemiRareSpawnPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StandardCount = 0
	cfg.RareChance = 0
	cfg.ChainedEnabled = false
	g := newTestGenerator(t, cfg, 123)

	hits := 0
	for i := 0; i < 2000; i++ {
		batch := g.Generate(center)
		if n := len(batch.Entities); n > 0 {
			hits++
			if n < 1 || n > 3 {
				t.Fatalf("Semi-rare spawn produced %d coins, want 1-3", n)
			}
		}
	}

	rate := float64(hits) / 2000.0
	if rate < 0.26 || rate > 0.34 {
		t.Errorf("Semi-rare spawn rate = %.3f, want ~0.30", rate)
	}
}

func TestGenerate_ChainedPair(t *testing.T) {
	g := newTestGenerator(t, nil, 5)
	batch := g.Generate(center)

	var visible, prize *pkg.Entity
	for _, e := range batch.Entities {
		if e.Kind != pkg.KindChained {
			continue
		}
		if e.State == pkg.StateAvailable {
			visible = e
		} else if e.State == pkg.StateLocked {
			prize = e
		}
	}

	if visible == nil || prize == nil {
		t.Fatal("Chained pair missing visible or prize entity")
	}
	if visible.UnlocksEntityID != prize.ID {
		t.Errorf("Visible entity unlocks %q, want %q", visible.UnlocksEntityID, prize.ID)
	}
	if prize.UnlocksEntityID != "" {
		t.Errorf("Prize entity is the terminus but unlocks %q", prize.UnlocksEntityID)
	}
	if visible.Position != prize.Position {
		t.Error("Chained pair must share one coordinate")
	}
}

func TestGenerate_NeverSpawnsCollected(t *testing.T) {
	g := newTestGenerator(t, nil, 11)
	for i := 0; i < 50; i++ {
		batch := g.Generate(center)
		for _, e := range batch.Entities {
			if e.State == pkg.StateCollected {
				t.Fatalf("Entity %s spawned already collected", e.ID)
			}
		}
	}
}

func TestEnsureBatch_Idempotent(t *testing.T) {
	g := newTestGenerator(t, nil, 3)

	first := g.EnsureBatch(nil, center)
	if first == nil || len(first.Entities) == 0 {
		t.Fatal("EnsureBatch on first load returned empty batch")
	}

	// Repeated calls while a batch is live must hand the same batch back.
	for i := 0; i < 10; i++ {
		again := g.EnsureBatch(first, center)
		if again != first {
			t.Fatal("EnsureBatch regenerated over a live batch")
		}
	}

	// Explicit reset path: passing nil generates fresh.
	reset := g.EnsureBatch(nil, center)
	if reset.ID == first.ID {
		t.Error("Reset generation reused the previous batch id")
	}
}

func TestGenerate_UniqueIDsAcrossBatches(t *testing.T) {
	g := newTestGenerator(t, nil, 17)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		batch := g.Generate(center)
		for _, e := range batch.Entities {
			if seen[e.ID] {
				t.Fatalf("Entity id %s reused across batches", e.ID)
			}
			seen[e.ID] = true
		}
	}
}
