// Package position is the location feed layer. Every transport that carries
// player fixes publishes into a Broker, which validates each update, drops
// out-of-order fixes per user and fans the stream out to attached handlers.
// The Source interface and the Simulator cover feeds the engine drives
// itself, such as virtual walks against a running daemon.
package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/logx"
)

// ErrStaleFix is returned when a fix is older than the last one seen for the
// same user. Location services guarantee non-decreasing timestamps, so a
// stale fix is a transport artifact and is dropped rather than rewinding the
// player.
var ErrStaleFix = errors.New("stale position fix")

// Handler consumes validated, ordered fixes for one user.
type Handler func(ctx context.Context, userID string, fix *pkg.Fix)

// Broker fans position fixes out to handlers. Safe for concurrent use.
type Broker struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	handlers []Handler
	logger   *logx.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *logx.Logger) *Broker {
	return &Broker{
		lastSeen: make(map[string]time.Time),
		logger:   logger,
	}
}

// Attach registers a handler for every subsequent fix.
func (b *Broker) Attach(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish validates a fix and delivers it to every attached handler. A fix
// without a timestamp is stamped with the current time. Fixes older than the
// user's last accepted fix return ErrStaleFix and are not delivered.
func (b *Broker) Publish(ctx context.Context, userID string, fix *pkg.Fix) error {
	if userID == "" {
		return fmt.Errorf("user id required")
	}
	if fix == nil || !fix.Position.Valid() {
		return fmt.Errorf("invalid position fix")
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}

	b.mu.Lock()
	if last, ok := b.lastSeen[userID]; ok && fix.Timestamp.Before(last) {
		b.mu.Unlock()
		if b.logger != nil {
			b.logger.Debug("Dropping out-of-order fix",
				"user_id", userID,
				"fix_time", fix.Timestamp,
				"last_time", last)
		}
		return ErrStaleFix
	}
	b.lastSeen[userID] = fix.Timestamp
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, userID, fix)
	}
	return nil
}

// Forget clears the ordering state for a user, typically on session eviction.
func (b *Broker) Forget(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lastSeen, userID)
}
