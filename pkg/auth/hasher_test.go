package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestArgon2Hasher(t *testing.T) {
	h := &Argon2Hasher{Time: 1, Memory: 8 * 1024, Threads: 1}

	digest, err := h.Hash("Abcdefg1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=8192,t=1,p=1$"))
	assert.True(t, h.Compare("Abcdefg1", digest))
	assert.False(t, h.Compare("abcdefg1", digest))

	again, err := h.Hash("Abcdefg1")
	require.NoError(t, err)
	assert.NotEqual(t, digest, again, "salt must be random")

	assert.False(t, h.Compare("Abcdefg1", "$argon2id$broken"))
	assert.False(t, h.Compare("Abcdefg1", ""))
}

func TestArgon2Hasher_AcceptsBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("Abcdefg1"), bcrypt.MinCost)
	require.NoError(t, err)

	h := NewArgon2Hasher()
	assert.True(t, h.Compare("Abcdefg1", string(legacy)))
	assert.False(t, h.Compare("wrong", string(legacy)))
}

func TestBcryptHasher(t *testing.T) {
	h := &BcryptHasher{Cost: bcrypt.MinCost}
	digest, err := h.Hash("Abcdefg1")
	require.NoError(t, err)
	assert.True(t, h.Compare("Abcdefg1", digest))
	assert.False(t, h.Compare("Abcdefg2", digest))
}
