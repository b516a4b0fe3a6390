package provider

import (
	"testing"

	"github.com/flexo-cache/flexo/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProviders() []domain.Provider {
	return []domain.Provider{
		{URI: "https://mirror-a.example/repo"},
		{URI: "https://mirror-b.example/repo"},
		{URI: "https://mirror-c.example/repo"},
	}
}

func TestPoolPrimaryAndLen(t *testing.T) {
	pool := NewPool(testProviders(), nil)
	require.Equal(t, 3, pool.Len())
	assert.Equal(t, "https://mirror-a.example/repo", pool.Primary().URI)
}

func TestRotateOnFailureAdvancesPastMatchingURI(t *testing.T) {
	pool := NewPool(testProviders(), nil)

	pool.RotateOnFailure("https://mirror-a.example/repo")
	assert.Equal(t, "https://mirror-b.example/repo", pool.Primary().URI)

	// Rotating on a stale/non-current URI is a no-op.
	pool.RotateOnFailure("https://mirror-a.example/repo")
	assert.Equal(t, "https://mirror-b.example/repo", pool.Primary().URI)
}

func TestRotateOnFailureWraps(t *testing.T) {
	pool := NewPool(testProviders(), nil)

	pool.RotateOnFailure("https://mirror-a.example/repo")
	pool.RotateOnFailure("https://mirror-b.example/repo")
	pool.RotateOnFailure("https://mirror-c.example/repo")
	assert.Equal(t, "https://mirror-a.example/repo", pool.Primary().URI)
}

func TestNextWalksFromCurrentWithoutMutating(t *testing.T) {
	pool := NewPool(testProviders(), nil)
	pool.RotateOnFailure("https://mirror-a.example/repo")

	assert.Equal(t, "https://mirror-b.example/repo", pool.Next(0).URI)
	assert.Equal(t, "https://mirror-c.example/repo", pool.Next(1).URI)
	assert.Equal(t, "https://mirror-a.example/repo", pool.Next(2).URI)

	// Next never mutates the shared current index.
	assert.Equal(t, "https://mirror-b.example/repo", pool.Primary().URI)
}

func TestIsUncacheable(t *testing.T) {
	pool := NewPool(testProviders(), []string{".db", ".db.sig"})

	assert.True(t, pool.IsUncacheable("/core/os/x86_64/core.db"))
	assert.True(t, pool.IsUncacheable("/core/os/x86_64/core.db.sig"))
	assert.False(t, pool.IsUncacheable("/core/os/x86_64/pacman-6.1.0-1-x86_64.pkg.tar.zst"))
}

func TestListIsASnapshot(t *testing.T) {
	pool := NewPool(testProviders(), nil)
	snapshot := pool.List()
	require.Len(t, snapshot, 3)

	pool.RotateOnFailure("https://mirror-a.example/repo")
	assert.Equal(t, "https://mirror-a.example/repo", snapshot[0].URI)
}
