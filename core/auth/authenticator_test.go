package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chapel-auth/core/store"
	"github.com/stretchr/testify/require"
)

func TestLoginSuccessResetsCounter(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "admin", "administrator", "manage_users", "view_analytics")

	for i := 0; i < 3; i++ {
		_, err := f.login("wrong-password")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	res, err := f.login(testPassword)
	require.NoError(t, err)
	require.Equal(t, "admin", res.User.Username)
	require.Equal(t, []string{"manage_users", "view_analytics"}, res.User.Permissions)
	require.NotNil(t, res.User.LastLogin)
	require.NotEmpty(t, res.Tokens.AccessToken)
	require.NotEmpty(t, res.Tokens.RefreshToken)
	require.True(t, res.Tokens.RefreshExpiresAt.Equal(f.clock.Now().Add(24*time.Hour)))

	stored, err := f.users.Get(context.Background(), u.ID)
	require.NoError(t, err)
	require.Zero(t, stored.FailedAttempts)
	require.Nil(t, stored.LockedUntil)
	require.NotNil(t, stored.LastLoginAt)
}

func TestLoginLockoutScenario(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "admin", "administrator")

	for i := 1; i <= 5; i++ {
		_, err := f.login("wrong")
		var ce *CredentialError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, 5-i, ce.AttemptsRemaining)
		if i < 5 {
			require.Nil(t, ce.LockedUntil)
		} else {
			require.NotNil(t, ce.LockedUntil)
		}
	}

	_, err := f.login(testPassword)
	var le *LockedError
	require.ErrorAs(t, err, &le)
	require.ErrorIs(t, err, ErrAccountLocked)
	require.True(t, le.Until.Equal(f.clock.Now().Add(15*time.Minute)))

	f.clock.Advance(15*time.Minute - time.Second)
	_, err = f.login(testPassword)
	require.ErrorIs(t, err, ErrAccountLocked)

	f.clock.Advance(time.Second)
	_, err = f.login(testPassword)
	require.NoError(t, err)

	events, err := f.audit.List(context.Background(), store.AuditFilter{Kind: store.EventLockout})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "10.0.0.5", events[0].IP)
}

func TestLoginFailureAfterExpiredLockRelocks(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "admin", "administrator")
	for i := 0; i < 5; i++ {
		_, _ = f.login("wrong")
	}
	f.clock.Advance(16 * time.Minute)

	_, err := f.login("wrong")
	var ce *CredentialError
	require.ErrorAs(t, err, &ce)
	require.Zero(t, ce.AttemptsRemaining)
	require.NotNil(t, ce.LockedUntil)

	_, err = f.login(testPassword)
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestLoginConcurrentFailuresLockWithinMax(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "admin", "administrator")

	const attempts = 12
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.login("wrong")
		}()
	}
	wg.Wait()

	stored, err := f.users.Get(context.Background(), u.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stored.FailedAttempts, 5)
	require.LessOrEqual(t, stored.FailedAttempts, attempts)
	require.True(t, stored.IsLocked(f.clock.Now()))

	_, err = f.login(testPassword)
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestLoginUnknownAndInactiveLookAlike(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "admin", "administrator")
	require.NoError(t, f.users.SetActive(context.Background(), u.ID, false))

	_, errInactive := f.login(testPassword)
	_, errUnknown := f.auth.Login(context.Background(), Credentials{Username: "ghost", Password: testPassword}, RequestMeta{})
	require.Equal(t, ErrInvalidCredentials, errInactive)
	require.Equal(t, ErrInvalidCredentials, errUnknown)

	stored, err := f.users.Get(context.Background(), u.ID)
	require.NoError(t, err)
	require.Zero(t, stored.FailedAttempts)

	events, err := f.audit.List(context.Background(), store.AuditFilter{Username: "ghost"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, store.EventLoginFailure, events[0].Kind)
}

func TestLoginRejectsUserWithoutStoredSalt(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "admin", "administrator")
	_, err := f.users.Create(context.Background(), &store.User{Username: "imported", PasswordHash: u.PasswordHash, Role: "user", Active: true})
	require.NoError(t, err)

	_, err = f.auth.Login(context.Background(), Credentials{Username: "imported", Password: testPassword}, RequestMeta{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	stored, err := f.users.FindByUsername(context.Background(), "imported")
	require.NoError(t, err)
	require.Equal(t, 1, stored.FailedAttempts)
}

func TestLoginInvalidShapeSkipsStore(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.Login(context.Background(), Credentials{Username: "ab", Password: "secret1"}, RequestMeta{})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.auth.Login(context.Background(), Credentials{Username: "admin", Password: ""}, RequestMeta{})
	require.ErrorIs(t, err, ErrInvalidInput)

	n, err := f.audit.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLoginSurvivesAuditFailure(t *testing.T) {
	f := newFixtureWithAudit(t, failingAudit{})
	f.addUser(t, "admin", "administrator")

	_, err := f.login(testPassword)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.auth.StatsSnapshot().AuditErrors)
}

func TestRefreshRotationAndReuse(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "admin", "administrator", "manage_videos")
	first, err := f.login(testPassword)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.auth.Refresh(context.Background(), first.Tokens.RefreshToken, RequestMeta{})
	require.NoError(t, err)
	require.NotEqual(t, first.Tokens.RefreshToken, second.Tokens.RefreshToken)
	require.True(t, first.Tokens.RefreshExpiresAt.Equal(second.Tokens.RefreshExpiresAt))

	_, err = f.auth.Refresh(context.Background(), first.Tokens.RefreshToken, RequestMeta{})
	require.ErrorIs(t, err, ErrTokenReused)

	// the successor was revoked along with the rest of the family
	_, err = f.auth.Refresh(context.Background(), second.Tokens.RefreshToken, RequestMeta{})
	require.ErrorIs(t, err, ErrTokenInvalid)

	events, err := f.audit.List(context.Background(), store.AuditFilter{Kind: store.EventTokenRefresh})
	require.NoError(t, err)
	var reused bool
	for _, ev := range events {
		if ev.Details == "reused" {
			reused = true
			require.Equal(t, "admin", ev.Username)
		}
	}
	require.True(t, reused)
	require.EqualValues(t, 1, f.auth.StatsSnapshot().RefreshReused)
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "admin", "administrator")
	res, err := f.login(testPassword)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.auth.Refresh(context.Background(), res.Tokens.RefreshToken, RequestMeta{}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestRefreshPicksUpDeactivation(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "admin", "administrator")
	res, err := f.login(testPassword)
	require.NoError(t, err)

	require.NoError(t, f.users.SetActive(context.Background(), u.ID, false))
	_, err = f.auth.Refresh(context.Background(), res.Tokens.RefreshToken, RequestMeta{})
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "admin", "administrator")
	res, err := f.login(testPassword)
	require.NoError(t, err)

	_, err = f.auth.Refresh(context.Background(), res.Tokens.AccessToken, RequestMeta{})
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "admin", "administrator")
	res, err := f.login(testPassword)
	require.NoError(t, err)
	id, err := f.auth.Tokens().ValidateAccess(res.Tokens.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(context.Background(), id, res.Tokens.RefreshToken, RequestMeta{}))
	_, err = f.auth.Refresh(context.Background(), res.Tokens.RefreshToken, RequestMeta{})
	require.Error(t, err)
	require.True(t, IsTokenFailure(err))

	events, err := f.audit.List(context.Background(), store.AuditFilter{Kind: store.EventLogout})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestVerifyUsesTokenSnapshot(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "admin", "administrator", "manage_videos")
	res, err := f.login(testPassword)
	require.NoError(t, err)
	id, err := f.auth.Tokens().ValidateAccess(res.Tokens.AccessToken)
	require.NoError(t, err)

	dto, err := f.auth.Verify(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "admin", dto.Username)
	require.Equal(t, "administrator", dto.Role)
	require.Equal(t, []string{"manage_videos"}, dto.Permissions)

	require.NoError(t, f.users.SetActive(context.Background(), u.ID, false))
	_, err = f.auth.Verify(context.Background(), id)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "admin", "administrator")
	res, err := f.login(testPassword)
	require.NoError(t, err)
	id, err := f.auth.Tokens().ValidateAccess(res.Tokens.AccessToken)
	require.NoError(t, err)
	ctx := context.Background()

	err = f.auth.ChangePassword(ctx, id, "wrong-current", "N3w-Passw0rd!x", RequestMeta{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	err = f.auth.ChangePassword(ctx, id, testPassword, "weak", RequestMeta{})
	require.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, f.auth.ChangePassword(ctx, id, testPassword, "N3w-Passw0rd!x", RequestMeta{}))

	_, err = f.auth.Refresh(ctx, res.Tokens.RefreshToken, RequestMeta{})
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = f.login(testPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.login("N3w-Passw0rd!x")
	require.NoError(t, err)
}

func TestRecordDenialAppendsEvent(t *testing.T) {
	f := newFixture(t)
	id := &Identity{UserID: 3, Username: "viewer", Role: "user", Permissions: []string{}}
	f.auth.RecordDenial(context.Background(), id, "manage_videos", RequestMeta{IP: "1.2.3.4"})

	events, err := f.auth.SecurityEvents(context.Background(), store.AuditFilter{Kind: store.EventPermissionDenied})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "need=manage_videos role=user permissions=[]", events[0].Details)
}

func TestListUsersHidesHashes(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "admin", "administrator")
	list, err := f.auth.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].IsActive)
	require.True(t, *list[0].IsActive)
	require.NotNil(t, list[0].CreatedAt)
}

func TestNewAuthenticatorRequiresDeps(t *testing.T) {
	_, err := NewAuthenticator(AuthenticatorDeps{})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrInvalidInput))
}
