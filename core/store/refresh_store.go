package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// RefreshStore tracks outstanding refresh token ids. Consume is an atomic
// check-and-invalidate: of any number of concurrent calls for one id, at
// most one succeeds and later calls see ErrRefreshReused.
type RefreshStore interface {
	Register(ctx context.Context, rec RefreshRecord) error
	Consume(ctx context.Context, id string, now time.Time) (*RefreshRecord, error)
	RevokeUser(ctx context.Context, userID int64) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type sqlRefreshStore struct {
	db *sql.DB
}

func NewRefreshStore(db *sql.DB) RefreshStore {
	return &sqlRefreshStore{db: db}
}

func (s *sqlRefreshStore) Register(ctx context.Context, rec RefreshRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO refresh_tokens(id, user_id, expires_at, created_at) VALUES(?,?,?,?)`,
		rec.ID, rec.UserID, rec.ExpiresAt.UTC().Unix(), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("register refresh token: %w", err)
	}
	return nil
}

func (s *sqlRefreshStore) Consume(ctx context.Context, id string, now time.Time) (*RefreshRecord, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET used_at=? WHERE id=? AND used_at IS NULL AND expires_at > ?`,
		now.UTC().Unix(), id, now.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	var rec RefreshRecord
	var expires int64
	var used sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT id, user_id, expires_at, used_at, created_at FROM refresh_tokens WHERE id=?`, id).
		Scan(&rec.ID, &rec.UserID, &expires, &used, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefreshUnknown
		}
		return nil, err
	}
	rec.ExpiresAt = time.Unix(expires, 0).UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	if n == 1 {
		return &rec, nil
	}
	if used.Valid {
		return &rec, ErrRefreshReused
	}
	return nil, ErrRefreshUnknown
}

// RevokeUser drops every unused token of the user. Used rows stay until
// purge so that replays keep reporting reuse.
func (s *sqlRefreshStore) RevokeUser(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id=? AND used_at IS NULL`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlRefreshStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= ?`, now.UTC().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type memoryRefreshEntry struct {
	rec  RefreshRecord
	used bool
}

type memoryRefreshStore struct {
	mu      sync.Mutex
	entries map[string]*memoryRefreshEntry
}

func NewMemoryRefreshStore() RefreshStore {
	return &memoryRefreshStore{entries: map[string]*memoryRefreshEntry{}}
}

func (s *memoryRefreshStore) Register(ctx context.Context, rec RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[rec.ID]; ok {
		return fmt.Errorf("register refresh token: duplicate id %s", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.entries[rec.ID] = &memoryRefreshEntry{rec: rec}
	return nil
}

func (s *memoryRefreshStore) Consume(ctx context.Context, id string, now time.Time) (*RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrRefreshUnknown
	}
	rec := e.rec
	if e.used {
		return &rec, ErrRefreshReused
	}
	if !now.Before(e.rec.ExpiresAt) {
		return nil, ErrRefreshUnknown
	}
	e.used = true
	return &rec, nil
}

func (s *memoryRefreshStore) RevokeUser(ctx context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.entries {
		if e.rec.UserID == userID && !e.used {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryRefreshStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.entries {
		if !now.Before(e.rec.ExpiresAt) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}
