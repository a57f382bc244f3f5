package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/logx"
)

func testFix(lat, lng float64, at time.Time) *pkg.Fix {
	return &pkg.Fix{
		Position:       pkg.Coordinate{Lat: lat, Lng: lng},
		AccuracyMeters: 5,
		Timestamp:      at,
	}
}

func TestBrokerFansOut(t *testing.T) {
	b := NewBroker(logx.NewLogger("error", "position_test"))

	var first, second int
	b.Attach(func(ctx context.Context, userID string, fix *pkg.Fix) { first++ })
	b.Attach(func(ctx context.Context, userID string, fix *pkg.Fix) { second++ })

	if err := b.Publish(context.Background(), "alice", testFix(33.7490, -84.3880, time.Now())); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if first != 1 || second != 1 {
		t.Errorf("expected both handlers called once, got %d and %d", first, second)
	}
}

func TestBrokerRejectsInvalidFix(t *testing.T) {
	b := NewBroker(logx.NewLogger("error", "position_test"))

	var delivered int
	b.Attach(func(ctx context.Context, userID string, fix *pkg.Fix) { delivered++ })

	cases := []struct {
		name   string
		userID string
		fix    *pkg.Fix
	}{
		{"missing user", "", testFix(33.7490, -84.3880, time.Now())},
		{"nil fix", "alice", nil},
		{"latitude out of range", "alice", testFix(91, 0, time.Now())},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := b.Publish(context.Background(), tc.userID, tc.fix); err == nil {
				t.Error("expected error")
			}
		})
	}
	if delivered != 0 {
		t.Errorf("invalid fixes reached handlers %d times", delivered)
	}
}

func TestBrokerDropsOutOfOrderFix(t *testing.T) {
	b := NewBroker(logx.NewLogger("error", "position_test"))

	var delivered int
	b.Attach(func(ctx context.Context, userID string, fix *pkg.Fix) { delivered++ })

	now := time.Now()
	if err := b.Publish(context.Background(), "alice", testFix(33.7490, -84.3880, now)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	err := b.Publish(context.Background(), "alice", testFix(33.7491, -84.3880, now.Add(-time.Minute)))
	if !errors.Is(err, ErrStaleFix) {
		t.Errorf("expected ErrStaleFix, got %v", err)
	}

	// Equal timestamps are allowed; the guarantee is non-decreasing, not
	// strictly increasing.
	if err := b.Publish(context.Background(), "alice", testFix(33.7491, -84.3880, now)); err != nil {
		t.Errorf("equal-timestamp fix rejected: %v", err)
	}

	if delivered != 2 {
		t.Errorf("expected 2 deliveries, got %d", delivered)
	}
}

func TestBrokerOrderingIsPerUser(t *testing.T) {
	b := NewBroker(logx.NewLogger("error", "position_test"))

	now := time.Now()
	if err := b.Publish(context.Background(), "alice", testFix(33.7490, -84.3880, now)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	// Bob's clock being behind Alice's must not matter.
	if err := b.Publish(context.Background(), "bob", testFix(33.7490, -84.3880, now.Add(-time.Hour))); err != nil {
		t.Errorf("cross-user fix rejected: %v", err)
	}
}

func TestBrokerForgetResetsOrdering(t *testing.T) {
	b := NewBroker(logx.NewLogger("error", "position_test"))

	now := time.Now()
	if err := b.Publish(context.Background(), "alice", testFix(33.7490, -84.3880, now)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	b.Forget("alice")

	if err := b.Publish(context.Background(), "alice", testFix(33.7490, -84.3880, now.Add(-time.Hour))); err != nil {
		t.Errorf("fix after Forget rejected: %v", err)
	}
}

func TestBrokerStampsMissingTimestamp(t *testing.T) {
	b := NewBroker(logx.NewLogger("error", "position_test"))

	var got time.Time
	b.Attach(func(ctx context.Context, userID string, fix *pkg.Fix) { got = fix.Timestamp })

	if err := b.Publish(context.Background(), "alice", testFix(33.7490, -84.3880, time.Time{})); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if got.IsZero() {
		t.Error("expected broker to stamp the fix")
	}
}
