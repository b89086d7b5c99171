package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	h, ok := ParseTimeOfDay("07:30")
	require.True(t, ok)
	require.InDelta(t, 7.5, h, 1e-9)

	h, ok = ParseTimeOfDay("00:00")
	require.True(t, ok)
	require.Zero(t, h)

	for _, bad := range []string{"", "7", "24:00", "12:60", "ab:cd", "-1:10"} {
		_, ok = ParseTimeOfDay(bad)
		require.False(t, ok, bad)
	}
}

func TestIsSimulationMode(t *testing.T) {
	t.Setenv(EnvSimulationMode, "TRUE")
	require.True(t, IsSimulationMode())

	t.Setenv(EnvSimulationMode, "0")
	require.False(t, IsSimulationMode())
}
