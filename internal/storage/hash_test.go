package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAPIKey_Roundtrip(t *testing.T) {
	key, err := GenerateAPIKey("workflow-tracker")
	require.NoError(t, err)

	hash, err := HashAPIKey(key)
	require.NoError(t, err)
	assert.NotEqual(t, key, hash)

	assert.True(t, CompareAPIKeyHash(hash, key))
	assert.False(t, CompareAPIKeyHash(hash, key+"x"))
}

func TestHashAPIKey_Empty(t *testing.T) {
	_, err := HashAPIKey("")
	assert.ErrorIs(t, err, ErrKeyNil)
}

func TestHashAPIKey_LongInput(t *testing.T) {
	// Past bcrypt's 72-byte limit the key is pre-hashed; the roundtrip must
	// still hold and different long keys must not collide.
	long := strings.Repeat("a", 100)

	hash, err := HashAPIKey(long)
	require.NoError(t, err)

	assert.True(t, CompareAPIKeyHash(hash, long))
	assert.False(t, CompareAPIKeyHash(hash, strings.Repeat("b", 100)))
}

func TestCompareAPIKeyHash_Malformed(t *testing.T) {
	assert.False(t, CompareAPIKeyHash("", "key"))
	assert.False(t, CompareAPIKeyHash("not-a-bcrypt-hash", "key"))
	assert.False(t, CompareAPIKeyHash("$2a$10$invalid", ""))
}
