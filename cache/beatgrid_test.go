package cache

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeBeatGridEntries(entries [][3]uint32) []byte {
	raw := make([]byte, beatGridHeaderLen+len(entries)*beatGridEntrySize)
	for i, e := range entries {
		base := beatGridHeaderLen + i*beatGridEntrySize
		binary.LittleEndian.PutUint16(raw[base:base+2], uint16(e[0]))
		binary.LittleEndian.PutUint16(raw[base+2:base+4], uint16(e[1]))
		binary.LittleEndian.PutUint32(raw[base+4:base+8], e[2])
	}
	return raw
}

func TestParseBeatGridDecodesEntries(t *testing.T) {
	raw := encodeBeatGridEntries([][3]uint32{
		{1, 12800, 0},
		{2, 12800, 469},
		{3, 12800, 938},
		{4, 12800, 1407},
	})
	ref := TrackRef{RekordboxID: 1}
	g := parseBeatGrid(ref, raw)

	require.Equal(t, 4, g.BeatCount())
	require.Equal(t, 1, g.BeatWithinBar(1))
	require.Equal(t, 4, g.BeatWithinBar(4))
	require.Equal(t, 12800, g.BPM(1))
	require.Equal(t, int64(938), g.TimeWithinTrack(3))
	require.Equal(t, int64(0), g.TimeWithinTrack(0))
}

func TestBeatGridFindBeatAtTime(t *testing.T) {
	raw := encodeBeatGridEntries([][3]uint32{
		{1, 12800, 0},
		{2, 12800, 469},
		{3, 12800, 938},
		{4, 12800, 1407},
	})
	g := parseBeatGrid(TrackRef{}, raw)

	require.Equal(t, 1, g.FindBeatAtTime(0))
	require.Equal(t, 3, g.FindBeatAtTime(938))
	require.Equal(t, 3, g.FindBeatAtTime(1000), "1000ms falls after beat 3 (938ms) and before beat 4 (1407ms): beat 3 is still active")

}

func TestParseBeatGridHandlesTruncatedPayload(t *testing.T) {
	g := parseBeatGrid(TrackRef{}, make([]byte, beatGridHeaderLen))
	require.Equal(t, 0, g.BeatCount())
	require.Equal(t, -1, g.FindBeatAtTime(100))
	require.Equal(t, 1, g.BeatWithinBar(1))
}
