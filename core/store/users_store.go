package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UsersStore is the credential store. Counter mutations are single
// statements so concurrent failures for one user never under-count.
type UsersStore interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	Get(ctx context.Context, userID int64) (*User, error)
	Create(ctx context.Context, user *User) (int64, error)
	List(ctx context.Context) ([]User, error)
	Count(ctx context.Context) (int64, error)
	RecordFailedAttempt(ctx context.Context, userID int64, policy LockoutPolicy, now time.Time) (FailedAttempt, error)
	ClearFailedAttempts(ctx context.Context, userID int64) error
	UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error
	UpdatePassword(ctx context.Context, userID int64, hash, salt string, at time.Time) error
	SetActive(ctx context.Context, userID int64, active bool) error
}

type usersStore struct {
	db *sql.DB
}

func NewUsersStore(db *sql.DB) UsersStore {
	return &usersStore{db: db}
}

const userColumns = `id, username, password_hash, salt, role, permissions, failed_attempts, locked_until, last_login_at, active, password_changed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *usersStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, username)
	return scanUser(row)
}

func (s *usersStore) Get(ctx context.Context, userID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, userID)
	return scanUser(row)
}

func scanUser(row rowScanner) (*User, error) {
	u := User{}
	var perms string
	var locked sql.NullTime
	var lastLogin sql.NullTime
	var changed sql.NullTime
	var active int
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Salt, &u.Role, &perms, &u.FailedAttempts,
		&locked, &lastLogin, &active, &changed, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Permissions = permissionsFromJSON(perms)
	u.Active = active != 0
	if locked.Valid {
		t := locked.Time.UTC()
		u.LockedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLoginAt = &t
	}
	if changed.Valid {
		t := changed.Time.UTC()
		u.PasswordChangedAt = &t
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func (s *usersStore) Create(ctx context.Context, user *User) (int64, error) {
	if user == nil {
		return 0, errors.New("nil user")
	}
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE username=?`, user.Username).Scan(&existing); err != nil {
		tx.Rollback()
		return 0, err
	}
	if existing > 0 {
		tx.Rollback()
		return 0, ErrUsernameTaken
	}
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users(username, password_hash, salt, role, permissions, failed_attempts, locked_until, last_login_at, active, password_changed_at, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		RETURNING id`,
		user.Username, user.PasswordHash, user.Salt, user.Role, permissionsToJSON(user.Permissions), user.FailedAttempts,
		nullableTime(user.LockedUntil), nullableTime(user.LastLoginAt), boolToInt(user.Active), nullableTime(user.PasswordChangedAt), now, now,
	).Scan(&id)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("insert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return id, nil
}

func (s *usersStore) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	return res, rows.Err()
}

// RecordFailedAttempt increments and reads the counter in one statement. The
// lock is (re)armed by the same statement once the new count reaches the
// maximum, so no interleaving of concurrent failures can skip it.
func (s *usersStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users`).Scan(&n)
	return n, err
}

func (s *usersStore) RecordFailedAttempt(ctx context.Context, userID int64, policy LockoutPolicy, now time.Time) (FailedAttempt, error) {
	lockUntil := now.UTC().Add(policy.Duration)
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET failed_attempts = failed_attempts + 1,
			locked_until = CASE WHEN failed_attempts + 1 >= ? THEN ? ELSE locked_until END,
			updated_at = ?
		WHERE id = ?
		RETURNING failed_attempts`,
		policy.MaxAttempts, lockUntil, now.UTC(), userID,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FailedAttempt{}, ErrNotFound
		}
		return FailedAttempt{}, fmt.Errorf("record failed attempt: %w", err)
	}
	res := FailedAttempt{Count: count}
	if policy.MaxAttempts > 0 && count >= policy.MaxAttempts {
		res.LockedUntil = &lockUntil
	}
	return res, nil
}

func (s *usersStore) ClearFailedAttempts(ctx context.Context, userID int64) error {
	return s.execOne(ctx, `UPDATE users SET failed_attempts=0, locked_until=NULL, updated_at=? WHERE id=?`, time.Now().UTC(), userID)
}

func (s *usersStore) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	return s.execOne(ctx, `UPDATE users SET last_login_at=?, updated_at=? WHERE id=?`, at.UTC(), time.Now().UTC(), userID)
}

func (s *usersStore) UpdatePassword(ctx context.Context, userID int64, hash, salt string, at time.Time) error {
	return s.execOne(ctx, `UPDATE users SET password_hash=?, salt=?, password_changed_at=?, updated_at=? WHERE id=?`, hash, salt, at.UTC(), time.Now().UTC(), userID)
}

func (s *usersStore) SetActive(ctx context.Context, userID int64, active bool) error {
	return s.execOne(ctx, `UPDATE users SET active=?, updated_at=? WHERE id=?`, boolToInt(active), time.Now().UTC(), userID)
}

func (s *usersStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
