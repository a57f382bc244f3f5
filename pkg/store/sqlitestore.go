package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/logx"
)

// SQLiteStore is the authoritative ledger backend hosted by the daemon.
// Collection writes are transactional and idempotent on (user_id, entity_id):
// a replayed event from a reconciling client changes nothing.
type SQLiteStore struct {
	db     *sql.DB
	logger *logx.Logger
}

// NewSQLiteStore opens the authoritative ledger database, creating the
// schema on first use.
func NewSQLiteStore(path string, logger *logx.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	logger.Info("Authoritative ledger database opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledgers (
		user_id TEXT PRIMARY KEY,
		total_points INTEGER NOT NULL DEFAULT 0,
		rare_coin_count INTEGER NOT NULL DEFAULT 0,
		semi_rare_coin_count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collections (
		user_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		batch_id TEXT,
		kind TEXT NOT NULL,
		value INTEGER NOT NULL,
		collected_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, entity_id)
	);

	CREATE INDEX IF NOT EXISTS idx_collections_user_time ON collections(user_id, collected_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ReadLedger rebuilds a snapshot from the ledgers row and the collection
// history. CurrentStreakDays is intentionally left derived by the caller:
// storage never "owns" the streak.
func (s *SQLiteStore) ReadLedger(ctx context.Context, userID string) (*pkg.LedgerSnapshot, error) {
	snap := &pkg.LedgerSnapshot{UserID: userID}

	row := s.db.QueryRowContext(ctx,
		`SELECT total_points, rare_coin_count, semi_rare_coin_count, updated_at
		 FROM ledgers WHERE user_id = ?`, userID)
	if err := row.Scan(&snap.TotalPoints, &snap.RareCoinCount, &snap.SemiRareCoinCount, &snap.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read ledger row: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, kind, collected_at FROM collections
		 WHERE user_id = ? ORDER BY collected_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entityID, kind string
		var collectedAt time.Time
		if err := rows.Scan(&entityID, &kind, &collectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan collection row: %w", err)
		}
		snap.CollectedEntityIDs = append(snap.CollectedEntityIDs, entityID)
		snap.CollectionHistory = append(snap.CollectionHistory, pkg.CollectionRecord{
			EntityKind: pkg.EntityKind(kind),
			Timestamp:  collectedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collection history: %w", err)
	}

	return snap, nil
}

// WriteCollectionEvent records one collection. The INSERT OR IGNORE on the
// (user_id, entity_id) primary key is the idempotence guard: the balance
// update only runs when the insert actually landed.
func (s *SQLiteStore) WriteCollectionEvent(ctx context.Context, ev *CollectionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections (user_id, entity_id, batch_id, kind, value, collected_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.UserID, ev.EntityID, ev.BatchID, string(ev.Kind), ev.Value, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert collection: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check insert result: %w", err)
	}
	if inserted == 0 {
		s.logger.Debug("Duplicate collection event ignored",
			"user_id", ev.UserID, "entity_id", ev.EntityID)
		return tx.Commit()
	}

	rareDelta, semiRareDelta := 0, 0
	switch ev.Kind {
	case pkg.KindRareCoin:
		rareDelta = 1
	case pkg.KindSemiRareCoin:
		semiRareDelta = 1
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledgers (user_id, total_points, rare_coin_count, semi_rare_coin_count, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			total_points = total_points + excluded.total_points,
			rare_coin_count = rare_coin_count + excluded.rare_coin_count,
			semi_rare_coin_count = semi_rare_coin_count + excluded.semi_rare_coin_count,
			updated_at = excluded.updated_at`,
		ev.UserID, ev.Value, rareDelta, semiRareDelta, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update ledger balance: %w", err)
	}

	return tx.Commit()
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
