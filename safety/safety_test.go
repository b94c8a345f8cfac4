package safety

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeBPM(t *testing.T) {
	require.Equal(t, 120.0, SanitizeBPM(math.NaN()))
	require.Equal(t, 300.0, SanitizeBPM(500))
	require.Equal(t, 120.0, SanitizeBPM(math.Inf(1)))
	require.Equal(t, 20.0, SanitizeBPM(-5))
	require.Equal(t, 128.0, SanitizeBPM(128))
}

func TestSanitizePitchPercent(t *testing.T) {
	require.Equal(t, 0.0, SanitizePitchPercent(math.NaN()))
	require.Equal(t, 100.0, SanitizePitchPercent(150))
	require.Equal(t, -100.0, SanitizePitchPercent(-150))
	require.Equal(t, 6.0, SanitizePitchPercent(6))
}

func TestSanitizeBeat(t *testing.T) {
	require.Equal(t, 1, SanitizeBeat(0))
	require.Equal(t, 1, SanitizeBeat(5))
	require.Equal(t, 3, SanitizeBeat(3))
}

func TestSanitizeDeviceNumber(t *testing.T) {
	require.Equal(t, 1, SanitizeDeviceNumber(13))
	require.Equal(t, 1, SanitizeDeviceNumber(0))
	require.Equal(t, 9, SanitizeDeviceNumber(9))
}

func TestValidatePacketSize(t *testing.T) {
	require.True(t, ValidatePacketSize(64, 10))
	require.False(t, ValidatePacketSize(5, 10))
	require.False(t, ValidatePacketSize(70000, 10))
}

func TestClampSafeUsesFallbackForNonFiniteInput(t *testing.T) {
	require.Equal(t, 42.0, ClampSafe(math.NaN(), 0, 100, 42))
	require.Equal(t, 100.0, ClampSafe(1000, 0, 100, 42))
}
