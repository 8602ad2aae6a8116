package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chapel-auth/core/store"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

const (
	audienceAccess  = "access"
	audienceRefresh = "refresh"
)

type AccessClaims struct {
	jwt.RegisteredClaims
	UserID      int64    `json:"uid"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID     int64 `json:"uid"`
	RememberMe bool  `json:"rem,omitempty"`
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration
}

// TokenIssuer signs access and refresh tokens with separate HS256 keys.
// Access tokens are validated without any store lookup; refresh token ids
// are registered in the RefreshStore and are single-use.
type TokenIssuer struct {
	cfg     TokenConfig
	refresh store.RefreshStore
	now     func() time.Time
}

func NewTokenIssuer(cfg TokenConfig, refresh store.RefreshStore) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token secrets are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if cfg.RememberMeTTL <= 0 {
		cfg.RememberMeTTL = cfg.RefreshTTL
	}
	if refresh == nil {
		return nil, errors.New("refresh store is required")
	}
	return &TokenIssuer{cfg: cfg, refresh: refresh, now: time.Now}, nil
}

// SetClock replaces the time source; tests only.
func (t *TokenIssuer) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

func (t *TokenIssuer) clock() time.Time {
	return t.now().UTC().Truncate(time.Second)
}

// IssuePair mints an access token for the user's current role and
// permissions plus a fresh refresh token whose lifetime depends on rememberMe.
func (t *TokenIssuer) IssuePair(ctx context.Context, user *store.User, rememberMe bool) (*TokenPair, error) {
	ttl := t.cfg.RefreshTTL
	if rememberMe {
		ttl = t.cfg.RememberMeTTL
	}
	return t.issuePair(ctx, user, rememberMe, t.clock().Add(ttl))
}

func (t *TokenIssuer) issuePair(ctx context.Context, user *store.User, rememberMe bool, refreshExp time.Time) (*TokenPair, error) {
	if user == nil {
		return nil, errors.New("nil user")
	}
	access, accessExp, err := t.MintAccess(user)
	if err != nil {
		return nil, err
	}
	refresh, err := t.mintRefresh(ctx, user.ID, rememberMe, refreshExp)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		RememberMe:       rememberMe,
	}, nil
}

func (t *TokenIssuer) MintAccess(user *store.User) (string, time.Time, error) {
	now := t.clock()
	exp := now.Add(t.cfg.AccessTTL)
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			Audience:  jwt.ClaimStrings{audienceAccess},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti.String(),
		},
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		Permissions: store.NormalizePermissions(user.Permissions),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.cfg.AccessSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (t *TokenIssuer) mintRefresh(ctx context.Context, userID int64, rememberMe bool, exp time.Time) (string, error) {
	now := t.clock()
	jti, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   strconv.FormatInt(userID, 10),
			Audience:  jwt.ClaimStrings{audienceRefresh},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti.String(),
		},
		UserID:     userID,
		RememberMe: rememberMe,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.cfg.RefreshSecret))
	if err != nil {
		return "", err
	}
	if err := t.refresh.Register(ctx, store.RefreshRecord{ID: claims.ID, UserID: userID, ExpiresAt: exp, CreatedAt: now}); err != nil {
		return "", err
	}
	return signed, nil
}

// ValidateAccess checks signature, issuer, audience and expiry. It never
// touches a store.
func (t *TokenIssuer) ValidateAccess(raw string) (*Identity, error) {
	claims := &AccessClaims{}
	if err := t.parse(raw, claims, t.cfg.AccessSecret, audienceAccess); err != nil {
		return nil, err
	}
	if claims.UserID <= 0 || claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return nil, fmt.Errorf("%w: subject mismatch", ErrTokenInvalid)
	}
	id := &Identity{
		UserID:      claims.UserID,
		Username:    claims.Username,
		Role:        claims.Role,
		Permissions: nonNil(claims.Permissions),
		TokenID:     claims.ID,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return id, nil
}

func (t *TokenIssuer) ParseRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := t.parse(raw, claims, t.cfg.RefreshSecret, audienceRefresh); err != nil {
		return nil, err
	}
	if claims.UserID <= 0 || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrTokenInvalid)
	}
	return claims, nil
}

func (t *TokenIssuer) parse(raw string, claims jwt.Claims, secret, audience string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	_, err := parser.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}
	return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
}

// Rotate consumes the refresh token id. A second presentation of the same
// token yields ErrTokenReused and the record, so the caller can revoke the
// rest of the family.
func (t *TokenIssuer) Rotate(ctx context.Context, claims *RefreshClaims) (*store.RefreshRecord, error) {
	rec, err := t.refresh.Consume(ctx, claims.ID, t.now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, store.ErrRefreshReused):
		return rec, ErrTokenReused
	case errors.Is(err, store.ErrRefreshUnknown):
		return nil, fmt.Errorf("%w: unknown refresh token", ErrTokenInvalid)
	default:
		return nil, err
	}
	if rec.UserID != claims.UserID {
		return nil, fmt.Errorf("%w: refresh owner mismatch", ErrTokenInvalid)
	}
	return rec, nil
}

// IssueRotated mints the successor pair. The refresh token keeps the
// family's original expiry so rotation never extends a sign-in.
func (t *TokenIssuer) IssueRotated(ctx context.Context, user *store.User, prev *RefreshClaims) (*TokenPair, error) {
	exp := prev.ExpiresAt.Time.UTC()
	return t.issuePair(ctx, user, prev.RememberMe, exp)
}

func (t *TokenIssuer) RevokeUser(ctx context.Context, userID int64) (int64, error) {
	return t.refresh.RevokeUser(ctx, userID)
}

// Revoke consumes a refresh token without issuing a successor.
func (t *TokenIssuer) Revoke(ctx context.Context, raw string) error {
	claims, err := t.ParseRefresh(raw)
	if err != nil {
		return err
	}
	_, err = t.refresh.Consume(ctx, claims.ID, t.now().UTC())
	if err != nil && !errors.Is(err, store.ErrRefreshReused) && !errors.Is(err, store.ErrRefreshUnknown) {
		return err
	}
	return nil
}

func (t *TokenIssuer) AccessTTL() time.Duration {
	return t.cfg.AccessTTL
}
