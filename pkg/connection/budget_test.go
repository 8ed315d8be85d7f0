package connection_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/reliable/pkg/connection"
)

func TestMaxChannelBudgetSplitsAcrossChannels(t *testing.T) {
	one := connection.MaxChannelBudget(1492, 1)
	two := connection.MaxChannelBudget(1492, 2)
	require.Greater(t, one, two)
	require.Equal(t, one/2, two)
}

func TestMaxChannelBudgetNeverNegative(t *testing.T) {
	require.Zero(t, connection.MaxChannelBudget(10, 1))
}
