package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidPath(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/core/os/x86_64/core.db", true},
		{"/zero", true},
		{"/a/b/c.pkg.tar.zst", true},
		{"", false},
		{"/", false},
		{"relative/path", false},
		{"/../etc/passwd", false},
		{"/a/../../etc/passwd", false},
		{"/a/./b", false},
		{"/a//b", false},
		{"/a/b/", false},
		{"/a\x00b", false},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidPath(tc.path))
		})
	}
}

func TestNewOrder(t *testing.T) {
	order, err := NewOrder("/core/os/x86_64/core.db", 0)
	require.NoError(t, err)
	assert.Equal(t, "/core/os/x86_64/core.db", order.Path)
	assert.Equal(t, uint64(0), order.ResumeFrom)

	order, err = NewOrder("/zero", 1024)
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), order.ResumeFrom)

	_, err = NewOrder("/../escape", 0)
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = NewOrder("", 0)
	assert.ErrorIs(t, err, ErrInvalidPath)
}
