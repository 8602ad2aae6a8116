package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	ph, err := HashPassword("S3cure-Passw0rd", "pepper")
	require.NoError(t, err)
	require.NotEmpty(t, ph.Hash)
	require.NotEmpty(t, ph.Salt)

	ok, err := VerifyPassword("S3cure-Passw0rd", "pepper", ph)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("S3cure-Passw0rd", "other-pepper", ph)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = VerifyPassword("wrong", "pepper", ph)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashPasswordUsesFreshSalt(t *testing.T) {
	a := MustHashPassword("same-password", "p")
	b := MustHashPassword("same-password", "p")
	require.NotEqual(t, a.Salt, b.Salt)
	require.NotEqual(t, a.Hash, b.Hash)
}

func TestParsePasswordHash(t *testing.T) {
	_, err := ParsePasswordHash("", "salt")
	require.Error(t, err)
	ph, err := ParsePasswordHash("hash", "salt")
	require.NoError(t, err)
	require.Equal(t, "hash", ph.Hash)

	_, err = VerifyPassword("x", "", &PasswordHash{Hash: "!!", Salt: "!!"})
	require.Error(t, err)
}
