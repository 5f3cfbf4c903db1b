package serviceaccount

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	g := NewGenerator()

	secret, hash, err := g.Generate()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, "sa_"))
	assert.Len(t, hash, 64)
	assert.Equal(t, HashSecret(secret), hash)
	assert.True(t, g.ValidFormat(secret))
}

func TestGenerateUnique(t *testing.T) {
	g := NewGenerator()

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		secret, _, err := g.Generate()
		require.NoError(t, err)

		_, dup := seen[secret]
		require.False(t, dup)
		seen[secret] = struct{}{}
	}
}

func TestValidFormat(t *testing.T) {
	g := NewGenerator()

	assert.False(t, g.ValidFormat(""))
	assert.False(t, g.ValidFormat("sa_"))
	assert.False(t, g.ValidFormat("not-a-service-account-token"))
	assert.False(t, g.ValidFormat("sa_%%%"))
	assert.True(t, g.ValidFormat("sa_AAAA"))
}

func TestHashSecretStable(t *testing.T) {
	assert.Equal(t, HashSecret("abc"), HashSecret("abc"))
	assert.NotEqual(t, HashSecret("abc"), HashSecret("abd"))
	assert.Len(t, HashSecret("anything"), 64)
}
