package metronome

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotAndTimeOfBeat(t *testing.T) {
	start := time.Unix(0, 0)
	m := New(120, start)

	require.Equal(t, int64(1), m.Snapshot(start).Beat)
	require.Equal(t, int64(2), m.Snapshot(start.Add(500*time.Millisecond)).Beat)
	require.Equal(t, int64(5), m.Snapshot(start.Add(2000*time.Millisecond)).Beat)

	require.Equal(t, start, m.TimeOfBeat(1))
	require.Equal(t, start.Add(500*time.Millisecond), m.TimeOfBeat(2))
	require.Equal(t, start.Add(2000*time.Millisecond), m.TimeOfBeat(5))
}

func TestSetTempoPreservesPhase(t *testing.T) {
	start := time.Unix(0, 0)
	m := New(120, start)

	now := start.Add(250 * time.Millisecond)
	before := m.Snapshot(now)
	require.InDelta(t, 0.5, before.BeatPhase, 1e-9)

	m.SetTempo(60, now)
	after := m.Snapshot(now)
	require.InDelta(t, 0.5, after.BeatPhase, 1e-9)
	require.Equal(t, int64(60), int64(m.TempoBPM()))
}

func TestJumpToBeat(t *testing.T) {
	start := time.Unix(0, 0)
	m := New(120, start)
	now := start.Add(3 * time.Second)

	m.JumpToBeat(10, now)
	snap := m.Snapshot(now)
	require.Equal(t, int64(10), snap.Beat)
	require.InDelta(t, 0.0, snap.BeatPhase, 1e-9)
}

func TestAdjustStart(t *testing.T) {
	start := time.Unix(0, 0)
	m := New(120, start)
	m.AdjustStart(500 * time.Millisecond)
	require.Equal(t, start.Add(500*time.Millisecond), m.Start())
}
