package auth

import (
	"context"
	"time"

	"chapel-auth/core/store"
)

type Credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// RequestMeta is the client context recorded with every security event.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Identity is the decoded access token attached to a request.
type Identity struct {
	UserID      int64
	Username    string
	Role        string
	Permissions []string
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

func (i *Identity) HasPermission(p string) bool {
	if i == nil {
		return false
	}
	for _, have := range i.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

type UserDTO struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Role        string     `json:"role"`
	Permissions []string   `json:"permissions"`
	LastLogin   *time.Time `json:"lastLogin"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	IsActive    *bool      `json:"isActive,omitempty"`
}

func SummaryDTO(u *store.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:          u.ID,
		Username:    u.Username,
		Role:        u.Role,
		Permissions: nonNil(u.Permissions),
		LastLogin:   u.LastLoginAt,
	}
}

// ListingDTO adds the administrative fields shown in user listings.
func ListingDTO(u *store.User) *UserDTO {
	dto := SummaryDTO(u)
	if dto == nil {
		return nil
	}
	created := u.CreatedAt
	active := u.Active
	dto.CreatedAt = &created
	dto.IsActive = &active
	return dto
}

type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	RememberMe       bool
}

type LoginResult struct {
	User   *UserDTO
	Tokens *TokenPair
}

type ctxKey int

const (
	identityKey ctxKey = iota
	metaKey
)

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey, meta)
}

func RequestMetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(metaKey).(RequestMeta)
	return meta
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
