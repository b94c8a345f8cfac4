// Package metronome implements a pure time -> (beat, beat-phase,
// bar-phase) function parameterized by tempo, beats-per-bar, and a start
// instant. It holds no goroutines and does no I/O; it is driven by
// whatever clock the caller (the virtual player's senders, or a follower
// interpolating between received beats) supplies.
package metronome

import "time"

// BeatsPerBar is fixed at 4 (4/4 time), matching every packet type this
// protocol carries a beat-within-bar field for.
const BeatsPerBar = 4

// Snapshot is the metronome's state at a queried instant.
type Snapshot struct {
	// Beat is the 1-based beat number.
	Beat int64
	// BeatPhase is the fractional position within the current beat, in [0,1).
	BeatPhase float64
	// BarPhase is the fractional position within the current bar, in [0,1).
	BarPhase float64
	// BeatWithinBar is 1..BeatsPerBar, the downbeat being 1.
	BeatWithinBar int
}

// Metronome tracks tempo and a reference instant from which beat numbers
// are computed. All methods are safe only from one goroutine at a time;
// callers that share a Metronome across goroutines must synchronize
// externally (vplayer does this with its own state mutex).
type Metronome struct {
	tempoBPM float64
	start    time.Time
}

// New creates a Metronome at the given tempo, beat 1 beginning at start.
func New(tempoBPM float64, start time.Time) *Metronome {
	return &Metronome{tempoBPM: tempoBPM, start: start}
}

// TempoBPM returns the current tempo.
func (m *Metronome) TempoBPM() float64 { return m.tempoBPM }

// BeatInterval is the duration of one beat at the current tempo.
func (m *Metronome) BeatInterval() time.Duration {
	return time.Duration(60000.0 / m.tempoBPM * float64(time.Millisecond))
}

// BarInterval is the duration of one bar (BeatsPerBar beats).
func (m *Metronome) BarInterval() time.Duration {
	return m.BeatInterval() * BeatsPerBar
}

// Snapshot returns the metronome's state at instant t.
func (m *Metronome) Snapshot(t time.Time) Snapshot {
	beatMs := 60000.0 / m.tempoBPM
	elapsedMs := float64(t.Sub(m.start)) / float64(time.Millisecond)

	beatFloat := elapsedMs/beatMs + 1 // beat 1 begins at start
	beatNum := int64(floor(beatFloat))
	phase := beatFloat - float64(beatNum)

	barBeats := float64(beatNum - 1) // 0-based beat count since start
	barPhase := fracMod(barBeats/BeatsPerBar+phase/BeatsPerBar, 1.0)

	within := int((beatNum-1)%BeatsPerBar) + 1
	if within < 1 {
		within += BeatsPerBar
	}

	return Snapshot{
		Beat:          beatNum,
		BeatPhase:     phase,
		BarPhase:      barPhase,
		BeatWithinBar: within,
	}
}

// TimeOfBeat returns the instant at which beat n begins.
func (m *Metronome) TimeOfBeat(n int64) time.Time {
	beatMs := 60000.0 / m.tempoBPM
	offset := float64(n-1) * beatMs
	return m.start.Add(time.Duration(offset * float64(time.Millisecond)))
}

// SetTempo changes the tempo, rebasing the start instant at reference
// time `now` so the beat-phase observed at `now` is preserved across the
// change (a listener watching continuously sees no jump).
func (m *Metronome) SetTempo(tempoBPM float64, now time.Time) {
	snap := m.Snapshot(now)
	m.tempoBPM = tempoBPM
	newBeatMs := 60000.0 / tempoBPM
	elapsedInBeat := snap.BeatPhase * newBeatMs
	beatStart := now.Add(-time.Duration(elapsedInBeat * float64(time.Millisecond)))
	m.start = beatStart.Add(-time.Duration(float64(snap.Beat-1) * newBeatMs * float64(time.Millisecond)))
}

// JumpToBeat sets the start instant so that Snapshot(now).Beat == n and
// BeatPhase == 0.
func (m *Metronome) JumpToBeat(n int64, now time.Time) {
	beatMs := 60000.0 / m.tempoBPM
	offset := float64(n-1) * beatMs
	m.start = now.Add(-time.Duration(offset * float64(time.Millisecond)))
}

// AdjustStart shifts the reference instant by delta in either direction.
func (m *Metronome) AdjustStart(delta time.Duration) {
	m.start = m.start.Add(delta)
}

// Start returns the metronome's current reference instant.
func (m *Metronome) Start() time.Time { return m.start }

func floor(f float64) float64 {
	i := float64(int64(f))
	if f < 0 && i != f {
		return i - 1
	}
	return i
}

func fracMod(f, m float64) float64 {
	r := f - floor(f/m)*m
	if r < 0 {
		r += m
	}
	return r
}
