package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// CacheGet looks up a cached Governor response by key, decoding its
// msgpack-encoded payload into dest. ok is false on a miss or an expired
// entry (spec §4.2: identical prompts within the TTL skip a live call).
func (s *Store) CacheGet(ctx context.Context, key string, dest any) (ok bool, err error) {
	var payload []byte
	var expiresAt time.Time
	err = s.db.QueryRowContext(ctx, `
		SELECT payload, expires_at FROM cache_metadata WHERE key = ?
	`, key).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load cache entry %s: %w", key, err)
	}
	if time.Now().After(expiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_metadata WHERE key = ?`, key)
		return false, nil
	}
	if err := msgpack.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return true, nil
}

// CacheSet stores a msgpack-encoded payload under key with the given TTL.
func (s *Store) CacheSet(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_metadata (key, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at
	`, key, payload, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to store cache entry %s: %w", key, err)
	}
	return nil
}

// PruneExpiredCache deletes every cache row past its TTL. No scheduler job
// calls it; expired rows stay until it is invoked.
func (s *Store) PruneExpiredCache(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cache_metadata WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired cache entries: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
