// Package cache keeps token metadata learned from chain reads in a small
// sqlite file shared by every process on the host.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// DefaultTokenTTL bounds how long learned metadata is trusted. Decimals never
// change for a deployed ERC20, so this mostly ages out abandoned entries.
const DefaultTokenTTL = 30 * 24 * time.Hour

type Store struct {
	db   *sql.DB
	lock *flock.Flock
	ttl  time.Duration
	now  func() time.Time
}

func Open(path, lockPath string, ttl time.Duration) (*Store, error) {
	for _, dir := range []string{filepath.Dir(path), filepath.Dir(lockPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS tokens (
			chain_id INTEGER NOT NULL,
			address TEXT NOT NULL,
			symbol TEXT NOT NULL,
			decimals INTEGER NOT NULL,
			stored_at INTEGER NOT NULL,
			PRIMARY KEY (chain_id, address)
		);`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	store := &Store{db: db, lock: flock.New(lockPath), ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
	_ = store.Prune()
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune drops entries older than the store TTL.
func (s *Store) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	cutoff := s.now().Add(-s.ttl).Unix()
	if _, err := s.db.Exec("DELETE FROM tokens WHERE stored_at < ?", cutoff); err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

// GetToken returns cached metadata for address. Expired entries are misses.
func (s *Store) GetToken(chainID int64, address string) (id.Token, bool, error) {
	var (
		token    id.Token
		storedAt int64
	)
	err := s.db.QueryRow(
		"SELECT address, symbol, decimals, stored_at FROM tokens WHERE chain_id = ? AND address = ?",
		chainID, normalize(address),
	).Scan(&token.Address, &token.Symbol, &token.Decimals, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return id.Token{}, false, nil
		}
		return id.Token{}, false, fmt.Errorf("cache read: %w", err)
	}
	if s.now().Sub(time.Unix(storedAt, 0)) > s.ttl {
		return id.Token{}, false, nil
	}
	return token, true, nil
}

func (s *Store) PutToken(chainID int64, token id.Token) error {
	if !id.IsEVMAddress(token.Address) {
		return fmt.Errorf("cache write: invalid token address %q", token.Address)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	_, err = s.db.Exec(`
		INSERT INTO tokens (chain_id, address, symbol, decimals, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, address) DO UPDATE SET
			symbol=excluded.symbol,
			decimals=excluded.decimals,
			stored_at=excluded.stored_at
	`, chainID, normalize(token.Address), token.Symbol, token.Decimals, s.now().Unix())
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
