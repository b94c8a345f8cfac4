package cache

import (
	"context"
	"encoding/binary"

	"prolink/dbserver"
)

// beatGridEntrySize is the stride of one beat entry within the raw
// binary payload: 2 bytes beat-within-bar, 2 bytes BPM*100, 4 bytes
// time-within-track (ms), all little-endian (the analysis-file byte
// order, unlike the rest of the wire protocol) — grounded on
// BeatGrid.hpp's parseData.
const (
	beatGridHeaderLen = 20
	beatGridEntrySize = 16
)

// BeatGrid is a track's fixed beat/bar/tempo map, decoded from a
// BEAT_GRID response.
type BeatGrid struct {
	Reference      TrackRef
	beatWithinBar  []int
	bpm            []int
	timeWithinTrack []int64
}

// BeatCount returns how many beats the grid covers.
func (g *BeatGrid) BeatCount() int { return len(g.beatWithinBar) }

func (g *BeatGrid) offset(beat int) int {
	count := g.BeatCount()
	switch {
	case count == 0:
		return -1
	case beat < 1:
		return 0
	case beat > count:
		return count - 1
	default:
		return beat - 1
	}
}

// TimeWithinTrack returns the millisecond position of beat (1-based);
// beat 0 always returns 0, matching BeatGrid::getTimeWithinTrack.
func (g *BeatGrid) TimeWithinTrack(beat int) int64 {
	if beat == 0 {
		return 0
	}
	if off := g.offset(beat); off >= 0 {
		return g.timeWithinTrack[off]
	}
	return 0
}

// BeatWithinBar returns the 1..4 position of beat within its bar.
func (g *BeatGrid) BeatWithinBar(beat int) int {
	if off := g.offset(beat); off >= 0 {
		return g.beatWithinBar[off]
	}
	return 1
}

// BPM returns the tempo (BPM * 100) in effect at beat.
func (g *BeatGrid) BPM(beat int) int {
	if off := g.offset(beat); off >= 0 {
		return g.bpm[off]
	}
	return 0
}

// FindBeatAtTime returns the 1-based beat number active at the given
// millisecond position, or -1 if the grid has no beats, grounded on
// BeatGrid.hpp's findBeatAtTime: lower_bound against the time table, then
// an exact hit returns that beat directly while a miss returns the prior
// (floor) beat instead.
func (g *BeatGrid) FindBeatAtTime(ms int64) int {
	if g.BeatCount() == 0 {
		return -1
	}
	// lower_bound equivalent: first index whose time >= ms.
	lo, hi := 0, len(g.timeWithinTrack)
	for lo < hi {
		mid := (lo + hi) / 2
		if g.timeWithinTrack[mid] < ms {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	exact := lo < len(g.timeWithinTrack) && g.timeWithinTrack[lo] == ms
	if lo == 0 {
		if exact {
			return 1
		}
		return -1
	}
	if exact {
		return lo + 1
	}
	return lo
}

func parseBeatGrid(ref TrackRef, raw []byte) *BeatGrid {
	g := &BeatGrid{Reference: ref}
	if len(raw) <= beatGridHeaderLen {
		return g
	}
	count := (len(raw) - beatGridHeaderLen) / beatGridEntrySize
	g.beatWithinBar = make([]int, count)
	g.bpm = make([]int, count)
	g.timeWithinTrack = make([]int64, count)
	for i := 0; i < count; i++ {
		base := beatGridHeaderLen + i*beatGridEntrySize
		g.beatWithinBar[i] = int(binary.LittleEndian.Uint16(raw[base : base+2]))
		g.bpm[i] = int(binary.LittleEndian.Uint16(raw[base+2 : base+4]))
		g.timeWithinTrack[i] = int64(binary.LittleEndian.Uint32(raw[base+4 : base+8]))
	}
	return g
}

// BeatGridFinder resolves beat grids for loaded tracks. No LRU: the spec
// reserves the bounded second-chance cache for art and waveform only.
type BeatGridFinder struct {
	*DependentFinder[*BeatGrid]
	cm *dbserver.ConnectionManager
}

func NewBeatGridFinder(cm *dbserver.ConnectionManager, resolver OpusResolver) *BeatGridFinder {
	f := &BeatGridFinder{cm: cm}
	f.DependentFinder = newDependentFinder[*BeatGrid](f.fetch, resolver, 0)
	return f
}

func (f *BeatGridFinder) fetch(_ context.Context, ref TrackRef) (*BeatGrid, error) {
	return dbserver.InvokeWithClientSession(f.cm, ref.Player, func(client *dbserver.Client) (*BeatGrid, error) {
		raw, err := client.RequestBinary(dbserver.BeatGridReq, dbserver.BeatGrid, byte(ref.Slot), byte(ref.TrackType), ref.RekordboxID)
		if err != nil {
			return nil, err
		}
		return parseBeatGrid(ref, raw), nil
	}, "beat grid request")
}
