package vplayer

import (
	"sync"

	"prolink/internal/events"
	"prolink/packet"
)

// updateKey identifies one peer's latest update, mirroring
// device.Key's (address, number) identity.
type updateKey struct {
	address string
	number  packet.DeviceID
}

// TempoChangeFunc is invoked when the observed master tempo moves by
// more than Config.MasterTempoEpsilon.
type TempoChangeFunc func(newBPM float64)

// DeviceUpdateFunc is invoked for every update received, after the
// updates map and master pointer have been refreshed.
type DeviceUpdateFunc func(packet.DeviceUpdate)

// updateTracker maintains the per-peer "latest update" map and the
// tempo-master bookkeeping described in Phase C.
type updateTracker struct {
	mu      sync.Mutex
	latest  map[updateKey]packet.DeviceUpdate
	tempo   float64
	hasTempo bool
	epsilon float64

	handoff *handoff

	tempoChange *events.Registry[TempoChangeFunc]
	deviceUpdate *events.Registry[DeviceUpdateFunc]
}

func newUpdateTracker(epsilon float64, h *handoff) *updateTracker {
	return &updateTracker{
		latest:       map[updateKey]packet.DeviceUpdate{},
		epsilon:      epsilon,
		handoff:      h,
		tempoChange:  events.NewRegistry[TempoChangeFunc](),
		deviceUpdate: events.NewRegistry[DeviceUpdateFunc](),
	}
}

func (t *updateTracker) OnTempoChange(fn TempoChangeFunc) events.Token { return t.tempoChange.Subscribe(fn) }
func (t *updateTracker) OnDeviceUpdate(fn DeviceUpdateFunc) events.Token {
	return t.deviceUpdate.Subscribe(fn)
}

// process implements processUpdate: maintains the updates map, the
// tempo-master pointer, tempo-change notification, and device-update
// fan-out.
func (t *updateTracker) process(u packet.DeviceUpdate) {
	key := updateKey{address: u.Address().String(), number: u.Number()}

	t.mu.Lock()
	t.latest[key] = u
	t.mu.Unlock()

	switch s := u.(type) {
	case *packet.CDJStatus:
		target, hasTarget := s.YieldingTo()
		t.handoff.onPeerStatus(s.DeviceID, s.Master(), target, hasTarget)
		if s.Master() {
			t.observeTempo(s.EffectiveBPM())
		}
	case *packet.MixerStatus:
		if s.Master() {
			t.observeTempo(s.EffectiveBPM())
		}
	}

	for _, fn := range t.deviceUpdate.Snapshot() {
		events.Invoke(func() { fn(u) }, nil)
	}
}

func (t *updateTracker) observeTempo(bpm float64) {
	t.mu.Lock()
	prev := t.tempo
	hadTempo := t.hasTempo
	diff := bpm - prev
	if diff < 0 {
		diff = -diff
	}
	changed := !hadTempo || diff > t.epsilon
	if changed {
		t.tempo = bpm
		t.hasTempo = true
	}
	t.mu.Unlock()

	if changed {
		for _, fn := range t.tempoChange.Snapshot() {
			events.Invoke(func() { fn(bpm) }, nil)
		}
	}
}

// TrackSourcePlayer reports the device number the target player's
// current track came from, for the Connection Manager's posing-as-
// player fallback rule. ok=false if target has no known status yet or
// its latest update isn't a CDJStatus (e.g. a mixer).
func (t *updateTracker) TrackSourcePlayer(target packet.DeviceID) (packet.DeviceID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, u := range t.latest {
		if k.number != target {
			continue
		}
		s, ok := u.(*packet.CDJStatus)
		if !ok {
			return 0, false
		}
		return s.TrackPlayer, true
	}
	return 0, false
}

// snapshot returns a point-in-time copy of the updates map, keyed by
// device number only (latest address wins on collision, which cannot
// happen for a live network since numbers are claimed exclusively).
func (t *updateTracker) snapshot() map[packet.DeviceID]packet.DeviceUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[packet.DeviceID]packet.DeviceUpdate, len(t.latest))
	for k, v := range t.latest {
		out[k.number] = v
	}
	return out
}
