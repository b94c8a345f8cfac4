package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prolink/packet"
)

func gridWithBeatsEvery(ms int64, count int) *BeatGrid {
	entries := make([][3]uint32, count)
	for i := 0; i < count; i++ {
		entries[i] = [3]uint32{uint32(i%4) + 1, 12800, uint32(int64(i) * ms)}
	}
	return parseBeatGrid(TrackRef{}, encodeBeatGridEntries(entries))
}

func newTimeFinderWithGrid(player packet.DeviceID, grid *BeatGrid) (*TimeFinder, *BeatGridFinder) {
	bg := &BeatGridFinder{DependentFinder: newDependentFinder[*BeatGrid](nil, &fakeResolver{}, 0)}
	bg.engine.hot[DeckRef{Player: player}] = hotEntry[*BeatGrid]{value: grid, present: true}
	return NewTimeFinder(bg), bg
}

func TestTimeFinderHandleBeatAdvancesCounterAndLooksUpGrid(t *testing.T) {
	const player = packet.DeviceID(3)
	grid := gridWithBeatsEvery(500, 8)
	tf, _ := newTimeFinderWithGrid(player, grid)

	var updates []TrackPositionUpdate
	tf.AddListener(func(p packet.DeviceID, u TrackPositionUpdate) { updates = append(updates, u) })

	tf.HandleBeat(&packet.Beat{DeviceID: player, ReceivedAt: time.Now(), Pitch: packet.NeutralPitch})
	tf.HandleBeat(&packet.Beat{DeviceID: player, ReceivedAt: time.Now(), Pitch: packet.NeutralPitch})

	require.Len(t, updates, 2)
	require.Equal(t, 1, updates[0].Beat)
	require.Equal(t, int64(0), updates[0].Milliseconds)
	require.Equal(t, 2, updates[1].Beat)
	require.Equal(t, int64(500), updates[1].Milliseconds)
	require.True(t, updates[1].FromBeat)
	require.True(t, updates[1].Playing)
}

func TestTimeFinderResetsCounterWhenGridChanges(t *testing.T) {
	const player = packet.DeviceID(5)
	grid := gridWithBeatsEvery(500, 4)
	tf, bg := newTimeFinderWithGrid(player, grid)

	tf.HandleBeat(&packet.Beat{DeviceID: player, ReceivedAt: time.Now(), Pitch: packet.NeutralPitch})
	tf.HandleBeat(&packet.Beat{DeviceID: player, ReceivedAt: time.Now(), Pitch: packet.NeutralPitch})

	tf.mu.Lock()
	count := tf.beatCounter[player]
	tf.mu.Unlock()
	require.Equal(t, 2, count)

	// Simulate a new track: the beat grid finder clears then re-resolves.
	bg.engine.clearDeck(DeckRef{Player: player})
	bg.engine.hot[DeckRef{Player: player}] = hotEntry[*BeatGrid]{value: grid, present: true}
	bg.engine.deliver(DeckRef{Player: player}, grid, true)

	tf.mu.Lock()
	count = tf.beatCounter[player]
	_, hasPrev := tf.last[player]
	tf.mu.Unlock()
	require.Equal(t, 0, count)
	require.False(t, hasPrev)
}

func TestTimeFinderHandleStatusSuppressesUpdateWithinSlack(t *testing.T) {
	const player = packet.DeviceID(7)
	grid := gridWithBeatsEvery(500, 8)
	tf, _ := newTimeFinderWithGrid(player, grid)

	var updates []TrackPositionUpdate
	tf.AddListener(func(p packet.DeviceID, u TrackPositionUpdate) { updates = append(updates, u) })

	start := time.Now()
	tf.HandleBeat(&packet.Beat{DeviceID: player, ReceivedAt: start, Pitch: packet.NeutralPitch})
	require.Len(t, updates, 1)

	// A status packet arriving a moment later, still agreeing with the
	// grid within slack and with an unchanged pitch, should not re-emit.
	status := &packet.CDJStatus{DeviceID: player, ReceivedAt: start.Add(5 * time.Millisecond), Pitch: packet.NeutralPitch}
	tf.HandleStatus(status)

	require.Len(t, updates, 1, "a status update that agrees with the grid and pitch should be suppressed")
}

func TestTimeFinderHandlePrecisePositionReanchors(t *testing.T) {
	const player = packet.DeviceID(11)
	grid := gridWithBeatsEvery(500, 8)
	tf, _ := newTimeFinderWithGrid(player, grid)

	var updates []TrackPositionUpdate
	tf.AddListener(func(p packet.DeviceID, u TrackPositionUpdate) { updates = append(updates, u) })

	tf.HandlePrecisePosition(&packet.PrecisePosition{DeviceID: player, PositionMs: 750, PitchPercent: 0})
	require.Len(t, updates, 1)
	require.Equal(t, int64(750), updates[0].Milliseconds)
	require.True(t, updates[0].Precise)

	// Same position, same pitch: no new update.
	tf.HandlePrecisePosition(&packet.PrecisePosition{DeviceID: player, PositionMs: 750, PitchPercent: 0})
	require.Len(t, updates, 1)

	// Position moved: re-emit.
	tf.HandlePrecisePosition(&packet.PrecisePosition{DeviceID: player, PositionMs: 900, PitchPercent: 0})
	require.Len(t, updates, 2)
	require.Equal(t, int64(900), updates[1].Milliseconds)
}

func TestTimeFinderHandleStatusResyncsWhenPositionDrifts(t *testing.T) {
	const player = packet.DeviceID(9)
	grid := gridWithBeatsEvery(500, 8)
	tf, _ := newTimeFinderWithGrid(player, grid)

	var updates []TrackPositionUpdate
	tf.AddListener(func(p packet.DeviceID, u TrackPositionUpdate) { updates = append(updates, u) })

	start := time.Now()
	tf.HandleBeat(&packet.Beat{DeviceID: player, ReceivedAt: start, Pitch: packet.NeutralPitch})
	require.Len(t, updates, 1)

	// 600ms later, while playing, the interpolated position (600ms)
	// disagrees with the nearest grid beat (500ms at beat 2) by well more
	// than the playing-slack of 50ms, so this should force a resync.
	status := &packet.CDJStatus{
		DeviceID:    player,
		ReceivedAt:  start.Add(600 * time.Millisecond),
		Pitch:       packet.NeutralPitch,
		StatusFlags: packet.FlagPlaying,
	}
	tf.HandleStatus(status)

	require.Len(t, updates, 2)
	last := updates[len(updates)-1]
	require.Equal(t, int64(600), last.Milliseconds)
	require.Equal(t, 2, last.Beat)
	require.True(t, last.Playing)
}
