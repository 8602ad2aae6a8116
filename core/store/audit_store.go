package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultAuditListLimit = 100

// AuditStore is the append-only security event log. Prune is the only
// deletion path and never touches the newest keep rows.
type AuditStore interface {
	Append(ctx context.Context, ev SecurityEvent) error
	List(ctx context.Context, f AuditFilter) ([]SecurityEvent, error)
	Count(ctx context.Context) (int64, error)
	Prune(ctx context.Context, keep int) (int64, error)
}

type auditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) AuditStore {
	return &auditStore{db: db}
}

func (s *auditStore) Append(ctx context.Context, ev SecurityEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO security_events(kind, username, ip, user_agent, details, created_at) VALUES(?,?,?,?,?,?)`,
		string(ev.Kind), ev.Username, ev.IP, ev.UserAgent, ev.Details, ev.CreatedAt.UTC())
	return err
}

func (s *auditStore) List(ctx context.Context, f AuditFilter) ([]SecurityEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultAuditListLimit
	}
	where := []string{}
	args := []any{}
	if f.Username != "" {
		where = append(where, "username=?")
		args = append(args, f.Username)
	}
	if f.Kind != "" {
		where = append(where, "kind=?")
		args = append(args, string(f.Kind))
	}
	query := `SELECT id, kind, username, ip, user_agent, details, created_at FROM security_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SecurityEvent
	for rows.Next() {
		var ev SecurityEvent
		var kind string
		if err := rows.Scan(&ev.ID, &kind, &ev.Username, &ev.IP, &ev.UserAgent, &ev.Details, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = EventKind(kind)
		ev.CreatedAt = ev.CreatedAt.UTC()
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *auditStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM security_events`).Scan(&n)
	return n, err
}

// Prune deletes everything at or below the id of the (keep+1)-th newest row.
// Rows appended concurrently have higher ids and are never selected.
func (s *auditStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM security_events
		WHERE id <= (SELECT id FROM security_events ORDER BY id DESC LIMIT 1 OFFSET ?)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type memoryAuditStore struct {
	mu     sync.Mutex
	nextID int64
	events []SecurityEvent
}

func NewMemoryAuditStore() AuditStore {
	return &memoryAuditStore{}
}

func (s *memoryAuditStore) Append(ctx context.Context, ev SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memoryAuditStore) List(ctx context.Context, f AuditFilter) ([]SecurityEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultAuditListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []SecurityEvent
	for i := len(s.events) - 1; i >= 0 && len(res) < limit; i-- {
		ev := s.events[i]
		if f.Username != "" && ev.Username != f.Username {
			continue
		}
		if f.Kind != "" && ev.Kind != f.Kind {
			continue
		}
		res = append(res, ev)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (s *memoryAuditStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

func (s *memoryAuditStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) <= keep {
		return 0, nil
	}
	removed := len(s.events) - keep
	s.events = append([]SecurityEvent(nil), s.events[removed:]...)
	return int64(removed), nil
}
