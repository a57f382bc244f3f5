package collect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stashhunt/stashd/pkg/logx"
	"github.com/stashhunt/stashd/pkg/store"
)

// CommitPolicy decides where a collection event lands. The authoritative
// store is tried first with one retry; on failure the event is written to
// the local fallback store and queued for reconciliation. The in-memory
// ledger credit is never rolled back, so a degraded commit only changes
// where the event is persisted, not whether it counts.
type CommitPolicy struct {
	mu         sync.Mutex
	remote     store.LedgerStore
	fallback   store.FallbackStore
	retryDelay time.Duration
	logger     *logx.Logger
}

// NewCommitPolicy creates a commit policy. remote may be nil, in which case
// every commit goes straight to the fallback store without being flagged as
// degraded (local-only deployments).
func NewCommitPolicy(remote store.LedgerStore, fallback store.FallbackStore, logger *logx.Logger) *CommitPolicy {
	return &CommitPolicy{
		remote:     remote,
		fallback:   fallback,
		retryDelay: 500 * time.Millisecond,
		logger:     logger,
	}
}

// Commit persists one collection event. It returns degraded=true when the
// authoritative store was unreachable and the event went to the fallback
// queue instead. An error is returned only when both paths fail.
func (p *CommitPolicy) Commit(ctx context.Context, ev *store.CollectionEvent) (degraded bool, err error) {
	if p.remote == nil {
		if p.fallback == nil {
			return false, fmt.Errorf("no store configured")
		}
		return false, p.fallback.WriteCollectionEvent(ctx, ev)
	}

	remoteErr := p.remote.WriteCollectionEvent(ctx, ev)
	if remoteErr != nil {
		select {
		case <-ctx.Done():
			remoteErr = ctx.Err()
		case <-time.After(p.retryDelay):
			remoteErr = p.remote.WriteCollectionEvent(ctx, ev)
		}
	}
	if remoteErr == nil {
		return false, nil
	}

	if p.fallback == nil {
		return false, fmt.Errorf("authoritative write failed with no fallback: %w", remoteErr)
	}

	p.logger.Warn("Authoritative store unreachable, degrading to local store",
		"user_id", ev.UserID, "entity_id", ev.EntityID, "error", remoteErr.Error())

	if err := p.fallback.WriteCollectionEvent(ctx, ev); err != nil {
		return false, fmt.Errorf("local fallback write failed: %w", err)
	}
	if err := p.fallback.QueuePending(ev); err != nil {
		return true, fmt.Errorf("failed to queue event for reconciliation: %w", err)
	}
	return true, nil
}

// FlushPending replays queued events against the authoritative store and
// removes the ones it acknowledges. Backend writes are idempotent on
// (user, entity), so replaying an event that already landed is harmless.
// It returns the number of events reconciled.
func (p *CommitPolicy) FlushPending(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.remote == nil || p.fallback == nil {
		return 0, nil
	}

	pending, err := p.fallback.PendingEvents()
	if err != nil {
		return 0, fmt.Errorf("failed to list pending events: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	flushed := 0
	for _, ev := range pending {
		if err := ctx.Err(); err != nil {
			return flushed, err
		}
		if err := p.remote.WriteCollectionEvent(ctx, ev); err != nil {
			// Backend still down. Keep the rest queued and try
			// again on the next reconcile tick.
			p.logger.Debug("Reconcile attempt failed, keeping event queued",
				"entity_id", ev.EntityID, "error", err.Error())
			return flushed, nil
		}
		if err := p.fallback.RemovePending(ev.UserID, ev.EntityID); err != nil {
			return flushed, fmt.Errorf("failed to dequeue reconciled event: %w", err)
		}
		flushed++
	}

	if flushed > 0 {
		p.logger.Info("Reconciled pending collections", "count", flushed)
	}
	return flushed, nil
}

// PendingCount reports how many events await reconciliation.
func (p *CommitPolicy) PendingCount() int {
	type counter interface{ PendingCount() (int, error) }
	if c, ok := p.fallback.(counter); ok {
		if n, err := c.PendingCount(); err == nil {
			return n
		}
	}
	return 0
}
