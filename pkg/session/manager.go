package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/collect"
	"github.com/stashhunt/stashd/pkg/ledger"
	"github.com/stashhunt/stashd/pkg/logx"
	"github.com/stashhunt/stashd/pkg/metrics"
	"github.com/stashhunt/stashd/pkg/spawn"
	"github.com/stashhunt/stashd/pkg/store"
)

// Manager owns all live sessions. It hydrates ledgers from the stores on
// first contact and evicts sessions idle past the TTL.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	gen      *spawn.Generator
	remote   store.LedgerStore
	fallback store.FallbackStore
	commit   *collect.CommitPolicy
	snapper  Snapper
	logger   *logx.Logger

	eventCb func(pkg.Event)
}

// NewManager creates a session manager. remote and snapper may be nil.
func NewManager(gen *spawn.Generator, remote store.LedgerStore, fallback store.FallbackStore, commit *collect.CommitPolicy, snapper Snapper, logger *logx.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		gen:      gen,
		remote:   remote,
		fallback: fallback,
		commit:   commit,
		snapper:  snapper,
		logger:   logger,
	}
}

// SetEventCallback registers the sink applied to every session's events,
// current and future.
func (m *Manager) SetEventCallback(cb func(pkg.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventCb = cb
	for _, s := range m.sessions {
		s.SetEventCallback(cb)
	}
}

// Get returns the session for a user, creating and hydrating it on first
// contact.
func (m *Manager) Get(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}

	l := ledger.New(userID)
	if snap := m.hydrate(ctx, userID); snap != nil {
		l.Hydrate(snap, time.Now())
	}

	svc := collect.NewService(l, m.commit, m.logger)
	s := newSession(userID, l, svc, m.gen, m.snapper, m.logger)
	if m.eventCb != nil {
		s.SetEventCallback(m.eventCb)
	}

	m.sessions[userID] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.logger.Info("Session created", "user_id", userID,
		"total_points", l.TotalPoints(), "streak_days", l.StreakDays())
	return s, nil
}

// hydrate loads the stored ledger, preferring the authoritative store and
// falling back to the local cache. A fresh user gets a nil snapshot.
func (m *Manager) hydrate(ctx context.Context, userID string) *pkg.LedgerSnapshot {
	if m.remote != nil {
		snap, err := m.remote.ReadLedger(ctx, userID)
		if err == nil {
			// Refresh the local cache so offline restarts see the
			// latest authoritative state.
			if m.fallback != nil {
				if bs, ok := m.fallback.(interface {
					WriteLedger(*pkg.LedgerSnapshot) error
				}); ok {
					if werr := bs.WriteLedger(snap); werr != nil {
						m.logger.Warn("Failed to cache ledger locally",
							"user_id", userID, "error", werr.Error())
					}
				}
			}
			return snap
		}
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("Authoritative ledger read failed, trying local cache",
				"user_id", userID, "error", err.Error())
		}
	}

	if m.fallback != nil {
		snap, err := m.fallback.ReadLedger(ctx, userID)
		if err == nil {
			return snap
		}
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("Local ledger read failed, starting fresh",
				"user_id", userID, "error", err.Error())
		}
	}
	return nil
}

// EvictIdle drops sessions idle longer than ttl and returns the evicted user
// ids. Ledger state is already persisted per collection, so eviction loses
// nothing.
func (m *Manager) EvictIdle(ttl time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	var evicted []string
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(m.sessions, id)
			evicted = append(evicted, id)
		}
	}
	if len(evicted) > 0 {
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
		m.logger.Debug("Evicted idle sessions", "count", len(evicted))
	}
	return evicted
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
