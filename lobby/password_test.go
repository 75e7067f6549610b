package lobby

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPasswordRoundTrip(t *testing.T) {
	hash, err := hashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$"))

	require.True(t, verifyPassword("correct horse battery staple", hash))
	require.False(t, verifyPassword("wrong password", hash))
}

func TestHashPasswordSaltsDifferently(t *testing.T) {
	h1, err := hashPassword("samepassword")
	require.NoError(t, err)
	h2, err := hashPassword("samepassword")
	require.NoError(t, err)
	require.NotEqual(t, h1, h2, "two hashes of the same password must differ by salt")
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	require.False(t, verifyPassword("anything", "not-a-valid-hash"))
	require.False(t, verifyPassword("anything", "$argon2id$v=19$m=65536,t=2,p=4$badsalt$badhash"))
}
