package cache

import (
	"sync"
	"time"

	"prolink/packet"
)

// TrackPositionUpdate is one interpolated or beat-exact playback position
// for a deck, per §4.9's Time Finder composition.
type TrackPositionUpdate struct {
	Timestamp    time.Time
	Milliseconds int64
	Beat         int
	Playing      bool
	Pitch        float64
	// Reverse is always false: this library has no on-wire signal for
	// reverse playback to drive it with (the reference's isPlayingBackwards
	// comes from CDJ-3000 firmware fields this module does not decode).
	Reverse  bool
	Precise  bool // true if this update originated from a precise-position packet
	FromBeat bool // true if this update originated from a beat packet
}

const (
	timeFinderSlackPlaying = 50 * time.Millisecond
	timeFinderSlackStopped = 0

	pitchChangeThreshold        = 1e-6
	pitchChangeThresholdPrecise = 1e-3
)

// TimeFinder turns discrete beat, status, and precise-position events
// into a continuous interpolated play position per deck. It depends on a
// BeatGridFinder to translate beat numbers to millisecond offsets and
// resets its own beat counter whenever that grid changes (new track).
type TimeFinder struct {
	beatGrid *BeatGridFinder

	mu          sync.Mutex
	beatCounter map[packet.DeviceID]int
	last        map[packet.DeviceID]TrackPositionUpdate

	listenersMu   sync.Mutex
	listeners     []func(packet.DeviceID, TrackPositionUpdate)
	beatListeners []func(packet.DeviceID, TrackPositionUpdate)
}

func NewTimeFinder(beatGrid *BeatGridFinder) *TimeFinder {
	f := &TimeFinder{
		beatGrid:    beatGrid,
		beatCounter: map[packet.DeviceID]int{},
		last:        map[packet.DeviceID]TrackPositionUpdate{},
	}
	beatGrid.AddListener(func(deck DeckRef, _ *BeatGrid, _ bool) {
		f.mu.Lock()
		f.beatCounter[deck.Player] = 0
		delete(f.last, deck.Player)
		f.mu.Unlock()
	})
	return f
}

// AddListener registers a callback invoked on every position update.
func (f *TimeFinder) AddListener(l func(packet.DeviceID, TrackPositionUpdate)) {
	f.listenersMu.Lock()
	defer f.listenersMu.Unlock()
	f.listeners = append(f.listeners, l)
}

// AddBeatListener registers a callback invoked only for updates that
// originated from a beat packet — the "track-position-beat" opt-in the
// spec describes, for consumers that only care about on-the-beat ticks.
func (f *TimeFinder) AddBeatListener(l func(packet.DeviceID, TrackPositionUpdate)) {
	f.listenersMu.Lock()
	defer f.listenersMu.Unlock()
	f.beatListeners = append(f.beatListeners, l)
}

func (f *TimeFinder) deliver(player packet.DeviceID, u TrackPositionUpdate) {
	f.listenersMu.Lock()
	listeners := append([]func(packet.DeviceID, TrackPositionUpdate)(nil), f.listeners...)
	var beatListeners []func(packet.DeviceID, TrackPositionUpdate)
	if u.FromBeat {
		beatListeners = append([]func(packet.DeviceID, TrackPositionUpdate)(nil), f.beatListeners...)
	}
	f.listenersMu.Unlock()

	for _, l := range listeners {
		invokeSafely(func() { l(player, u) })
	}
	for _, l := range beatListeners {
		invokeSafely(func() { l(player, u) })
	}
}

func invokeSafely(fn func()) {
	defer func() { recover() }()
	fn()
}

// Current returns the last position update delivered for player.
func (f *TimeFinder) Current(player packet.DeviceID) (TrackPositionUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.last[player]
	return u, ok
}

// HandleBeat advances player's beat counter by one and, if a beat grid is
// known for it, emits an exact (grid-looked-up) position.
func (f *TimeFinder) HandleBeat(b *packet.Beat) {
	grid, ok := f.beatGrid.Current(DeckRef{Player: b.DeviceID})
	if !ok {
		return
	}
	f.mu.Lock()
	f.beatCounter[b.DeviceID]++
	beat := f.beatCounter[b.DeviceID]
	update := TrackPositionUpdate{
		Timestamp:    b.ReceivedAt,
		Milliseconds: grid.TimeWithinTrack(beat),
		Beat:         beat,
		Playing:      true,
		Pitch:        packet.PitchMultiplier(b.Pitch),
		FromBeat:     true,
	}
	f.last[b.DeviceID] = update
	f.mu.Unlock()

	f.deliver(b.DeviceID, update)
}

// HandleStatus interpolates player's position forward from the last
// known update by elapsed-time * pitch while playing (held steady while
// stopped), re-emitting only if that disagrees with the beat grid by more
// than the playing/stopped slack or the pitch moved more than the change
// threshold.
func (f *TimeFinder) HandleStatus(s *packet.CDJStatus) {
	grid, ok := f.beatGrid.Current(DeckRef{Player: s.DeviceID})
	if !ok {
		return
	}

	pitch := packet.PitchMultiplier(s.Pitch)
	playing := s.Playing()

	f.mu.Lock()
	prev, hasPrev := f.last[s.DeviceID]
	var ms int64
	switch {
	case !hasPrev:
		ms = grid.TimeWithinTrack(int(s.BeatWithinBar))
	case playing:
		elapsed := s.ReceivedAt.Sub(prev.Timestamp)
		ms = prev.Milliseconds + int64(elapsed.Seconds()*1000*pitch)
	default:
		ms = prev.Milliseconds // stopped: position holds still
	}

	slack := timeFinderSlackStopped
	if playing {
		slack = timeFinderSlackPlaying
	}
	gridBeat := grid.FindBeatAtTime(ms)
	gridMs := grid.TimeWithinTrack(gridBeat)

	threshold := pitchChangeThreshold
	pitchChanged := !hasPrev || absFloat(pitch-prev.Pitch) > threshold
	disagrees := absDuration(time.Duration(ms-gridMs)*time.Millisecond) > slack

	if hasPrev && !disagrees && !pitchChanged {
		f.mu.Unlock()
		return
	}

	update := TrackPositionUpdate{
		Timestamp:    s.ReceivedAt,
		Milliseconds: ms,
		Beat:         gridBeat,
		Playing:      playing,
		Pitch:        pitch,
	}
	f.last[s.DeviceID] = update
	f.mu.Unlock()

	f.deliver(s.DeviceID, update)
}

// HandlePrecisePosition re-anchors player's position from an exact
// CDJ-3000 precise-position reading. The pitch-change threshold widens to
// 1e-3 when the previous update came from a beat packet, since a
// precise-vs-beat pitch comparison is noisier than precise-vs-precise.
func (f *TimeFinder) HandlePrecisePosition(p *packet.PrecisePosition) {
	grid, ok := f.beatGrid.Current(DeckRef{Player: p.DeviceID})
	if !ok {
		return
	}

	pitch := 1.0 + p.PitchPercent/100.0
	ms := int64(p.PositionMs)

	f.mu.Lock()
	prev, hasPrev := f.last[p.DeviceID]
	threshold := pitchChangeThreshold
	if hasPrev && prev.FromBeat {
		threshold = pitchChangeThresholdPrecise
	}
	pitchChanged := !hasPrev || absFloat(pitch-prev.Pitch) > threshold
	positionChanged := !hasPrev || ms != prev.Milliseconds

	if hasPrev && !positionChanged && !pitchChanged {
		f.mu.Unlock()
		return
	}

	update := TrackPositionUpdate{
		Timestamp:    p.ReceivedAt,
		Milliseconds: ms,
		Beat:         grid.FindBeatAtTime(ms),
		Playing:      !hasPrev || positionChanged,
		Pitch:        pitch,
		Precise:      true,
	}
	f.last[p.DeviceID] = update
	f.mu.Unlock()

	f.deliver(p.DeviceID, update)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
