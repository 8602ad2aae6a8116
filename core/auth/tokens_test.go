package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"chapel-auth/core/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T) (*TokenIssuer, *testClock) {
	t.Helper()
	issuer, err := NewTokenIssuer(testTokenConfig(), store.NewMemoryRefreshStore())
	require.NoError(t, err)
	clock := newTestClock()
	issuer.SetClock(clock.Now)
	return issuer, clock
}

func TestAccessTokenRoundTrip(t *testing.T) {
	issuer, clock := newTestIssuer(t)
	user := &store.User{ID: 42, Username: "pastor", Role: "pastor", Permissions: []string{"manage_settings", "manage_videos"}}

	raw, exp, err := issuer.MintAccess(user)
	require.NoError(t, err)
	require.True(t, exp.Equal(clock.Now().Add(15*time.Minute)))

	id, err := issuer.ValidateAccess(raw)
	require.NoError(t, err)
	require.EqualValues(t, 42, id.UserID)
	require.Equal(t, "pastor", id.Username)
	require.Equal(t, "pastor", id.Role)
	require.Equal(t, []string{"manage_settings", "manage_videos"}, id.Permissions)
	require.NotEmpty(t, id.TokenID)
}

func TestAccessTokenEmptyPermissionsRoundTrip(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	raw, _, err := issuer.MintAccess(&store.User{ID: 1, Username: "viewer", Role: "user"})
	require.NoError(t, err)
	id, err := issuer.ValidateAccess(raw)
	require.NoError(t, err)
	require.NotNil(t, id.Permissions)
	require.Empty(t, id.Permissions)
}

func TestAccessTokenExpiryBoundary(t *testing.T) {
	issuer, clock := newTestIssuer(t)
	raw, _, err := issuer.MintAccess(&store.User{ID: 7, Username: "admin", Role: "administrator"})
	require.NoError(t, err)

	clock.Advance(15*time.Minute - time.Second)
	_, err = issuer.ValidateAccess(raw)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = issuer.ValidateAccess(raw)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.True(t, IsTokenFailure(err))
}

func TestAccessTokenRejectsTampering(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	raw, _, err := issuer.MintAccess(&store.User{ID: 7, Username: "admin", Role: "user"})
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chapel-auth",
			Subject:   "7",
			Audience:  jwt.ClaimStrings{"access"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: 7, Username: "admin", Role: "administrator",
	})
	forgedRaw, err := forged.SignedString([]byte("some-other-secret-some-other-sec"))
	require.NoError(t, err)
	forgedParts := strings.Split(forgedRaw, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	for _, bad := range []string{"", "not-a-token", spliced, forgedRaw} {
		_, err := issuer.ValidateAccess(bad)
		require.ErrorIs(t, err, ErrTokenInvalid, "token %q", bad)
	}
}

func TestAccessTokenRejectsNoneAlgorithm(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chapel-auth",
			Subject:   "1",
			Audience:  jwt.ClaimStrings{"access"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: 1,
	})
	raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.ValidateAccess(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshTokenLifetimes(t *testing.T) {
	issuer, clock := newTestIssuer(t)
	user := &store.User{ID: 5, Username: "admin", Role: "administrator"}

	short, err := issuer.IssuePair(context.Background(), user, false)
	require.NoError(t, err)
	require.True(t, short.RefreshExpiresAt.Equal(clock.Now().Add(24*time.Hour)))

	long, err := issuer.IssuePair(context.Background(), user, true)
	require.NoError(t, err)
	require.True(t, long.RefreshExpiresAt.Equal(clock.Now().Add(30*24*time.Hour)))

	claims, err := issuer.ParseRefresh(long.RefreshToken)
	require.NoError(t, err)
	require.True(t, claims.RememberMe)
	require.EqualValues(t, 5, claims.UserID)

	_, err = issuer.ValidateAccess(long.RefreshToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRotateIsSingleUse(t *testing.T) {
	issuer, clock := newTestIssuer(t)
	pair, err := issuer.IssuePair(context.Background(), &store.User{ID: 9, Username: "u", Role: "user"}, false)
	require.NoError(t, err)
	claims, err := issuer.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)

	_, err = issuer.Rotate(context.Background(), claims)
	require.NoError(t, err)
	rec, err := issuer.Rotate(context.Background(), claims)
	require.ErrorIs(t, err, ErrTokenReused)
	require.EqualValues(t, 9, rec.UserID)

	clock.Advance(25 * time.Hour)
	_, err = issuer.ParseRefresh(pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestNewTokenIssuerValidates(t *testing.T) {
	_, err := NewTokenIssuer(TokenConfig{}, store.NewMemoryRefreshStore())
	require.Error(t, err)
	cfg := testTokenConfig()
	_, err = NewTokenIssuer(cfg, nil)
	require.Error(t, err)
}
