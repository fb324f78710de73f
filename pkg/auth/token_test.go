package auth

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenGenerator_GenerateToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, hash, err := tg.GenerateToken()
	require.NoError(t, err)
	assert.Len(t, token, TokenLength*2)
	assert.True(t, ValidTokenFormat(token))
	assert.Equal(t, HashToken(token), hash)
	assert.NotEqual(t, token, hash)

	other, _, err := tg.GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestTokenGenerator_ShortEntropySource(t *testing.T) {
	tg := NewTokenGeneratorFrom(bytes.NewReader([]byte{1, 2, 3}))
	_, _, err := tg.GenerateToken()
	assert.Error(t, err)
}

func TestTokenGenerator_Deterministic(t *testing.T) {
	tg := NewTokenGeneratorFrom(bytes.NewReader(bytes.Repeat([]byte{0xab}, TokenLength)))
	token, _, err := tg.GenerateToken()
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ab", TokenLength), token)
}

func TestValidTokenFormat(t *testing.T) {
	assert.True(t, ValidTokenFormat(strings.Repeat("0f", TokenLength)))
	assert.False(t, ValidTokenFormat(""))
	assert.False(t, ValidTokenFormat("abc"))
	assert.False(t, ValidTokenFormat(strings.Repeat("zz", TokenLength)))
	assert.False(t, ValidTokenFormat(strings.Repeat("0f", TokenLength)+"00"))
}

func TestHashToken_Stable(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.Len(t, HashToken("abc"), 64)
}
