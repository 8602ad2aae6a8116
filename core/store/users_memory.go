package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memoryUsersStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*User
	byName map[string]int64
}

// NewMemoryUsersStore returns a process-local credential store. Every
// operation runs under one mutex, which makes the counter update atomic.
func NewMemoryUsersStore() UsersStore {
	return &memoryUsersStore{
		byID:   map[int64]*User{},
		byName: map[string]int64{},
	}
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Permissions = make([]string, len(u.Permissions))
	copy(out.Permissions, u.Permissions)
	out.LockedUntil = cloneTime(u.LockedUntil)
	out.LastLoginAt = cloneTime(u.LastLoginAt)
	out.PasswordChangedAt = cloneTime(u.PasswordChangedAt)
	return &out
}

func (s *memoryUsersStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[username]
	if !ok {
		return nil, nil
	}
	return copyUser(s.byID[id]), nil
}

func (s *memoryUsersStore) Get(ctx context.Context, userID int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUser(s.byID[userID]), nil
}

func (s *memoryUsersStore) Create(ctx context.Context, user *User) (int64, error) {
	if user == nil {
		return 0, errors.New("nil user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[user.Username]; ok {
		return 0, ErrUsernameTaken
	}
	s.nextID++
	now := time.Now().UTC()
	stored := copyUser(user)
	stored.ID = s.nextID
	stored.Permissions = NormalizePermissions(user.Permissions)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.byID[stored.ID] = stored
	s.byName[stored.Username] = stored.ID
	user.ID = stored.ID
	user.CreatedAt = now
	user.UpdatedAt = now
	return stored.ID, nil
}

func (s *memoryUsersStore) List(ctx context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, *copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryUsersStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.byID)), nil
}

func (s *memoryUsersStore) RecordFailedAttempt(ctx context.Context, userID int64, policy LockoutPolicy, now time.Time) (FailedAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return FailedAttempt{}, ErrNotFound
	}
	u.FailedAttempts++
	u.UpdatedAt = now.UTC()
	res := FailedAttempt{Count: u.FailedAttempts}
	if policy.MaxAttempts > 0 && u.FailedAttempts >= policy.MaxAttempts {
		until := now.UTC().Add(policy.Duration)
		u.LockedUntil = &until
		res.LockedUntil = cloneTime(&until)
	}
	return res, nil
}

func (s *memoryUsersStore) ClearFailedAttempts(ctx context.Context, userID int64) error {
	return s.mutate(userID, func(u *User) {
		u.FailedAttempts = 0
		u.LockedUntil = nil
	})
}

func (s *memoryUsersStore) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	return s.mutate(userID, func(u *User) {
		t := at.UTC()
		u.LastLoginAt = &t
	})
}

func (s *memoryUsersStore) UpdatePassword(ctx context.Context, userID int64, hash, salt string, at time.Time) error {
	return s.mutate(userID, func(u *User) {
		t := at.UTC()
		u.PasswordHash = hash
		u.Salt = salt
		u.PasswordChangedAt = &t
	})
}

func (s *memoryUsersStore) SetActive(ctx context.Context, userID int64, active bool) error {
	return s.mutate(userID, func(u *User) { u.Active = active })
}

func (s *memoryUsersStore) mutate(userID int64, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}
