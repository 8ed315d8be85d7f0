package seqnum_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/reliable/pkg/seqnum"
)

func TestGreaterThan(t *testing.T) {
	require.True(t, seqnum.GreaterThan(1, 0))
	require.False(t, seqnum.GreaterThan(0, 1))
	require.True(t, seqnum.GreaterThan(0, 65535))
	require.False(t, seqnum.GreaterThan(65535, 0))
}

func TestInWindow(t *testing.T) {
	require.True(t, seqnum.InWindow(10, 10, 16))
	require.True(t, seqnum.InWindow(25, 10, 16))
	require.False(t, seqnum.InWindow(26, 10, 16))
	require.False(t, seqnum.InWindow(9, 10, 16))

	// wrap around the 16-bit boundary
	require.True(t, seqnum.InWindow(5, 65530, 16))
	require.False(t, seqnum.InWindow(65529, 65530, 16))
}
