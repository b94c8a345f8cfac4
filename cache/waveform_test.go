package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWaveformPreviewSkipsJunkAndMasksHeight(t *testing.T) {
	raw := make([]byte, leadingPreviewJunkBytes+3)
	raw[leadingPreviewJunkBytes+0] = 0x1f
	raw[leadingPreviewJunkBytes+1] = 0xff // top bits should be masked off
	raw[leadingPreviewJunkBytes+2] = 0x00

	w := parseWaveformPreview(TrackRef{}, raw)
	require.Equal(t, []int{0x1f, 0x1f, 0x00}, w.Heights)
}

func TestParseWaveformPreviewHandlesShortPayload(t *testing.T) {
	w := parseWaveformPreview(TrackRef{}, make([]byte, leadingPreviewJunkBytes))
	require.Empty(t, w.Heights)
}

func TestParseWaveformDetailSkipsJunk(t *testing.T) {
	raw := make([]byte, leadingDetailJunkBytes+2)
	raw[leadingDetailJunkBytes] = 0x05
	raw[leadingDetailJunkBytes+1] = 0x0a

	w := parseWaveformDetail(TrackRef{}, raw)
	require.Equal(t, []int{0x05, 0x0a}, w.Heights)
}
