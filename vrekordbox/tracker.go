package vrekordbox

import "prolink/packet"

// packetTracker reassembles one player's PSSI (song-structure) response
// out of the sequence of OPUS_METADATA fragments it arrives in.
type packetTracker struct {
	data []byte
}

// receivePacket appends fragment to the accumulated data and reports
// whether this was the final fragment of the stream (packetNumber equals
// the reported total-packet count minus one: the wire value is the count
// plus one, per the reference implementation).
func (t *packetTracker) receivePacket(fragment *packet.OpusFragment) bool {
	t.data = append(t.data, fragment.Payload...)
	totalPackets := int(fragment.PacketCount) - 1
	return int(fragment.PacketNumber) == totalPackets
}

func (t *packetTracker) reset() {
	t.data = nil
}

// trimmedBytes returns the accumulated payload with trailing zero bytes
// removed, matching the reference's post-reassembly trim before hashing.
func (t *packetTracker) trimmedBytes() []byte {
	out := t.data
	for len(out) > 0 && out[len(out)-1] == 0 {
		out = out[:len(out)-1]
	}
	return append([]byte(nil), out...)
}

// statusFlagGuard substitutes a zero status-flag byte in a CDJ status
// update with the last non-zero value seen for that raw device number.
// Some hardware occasionally reports an all-zero status-flags byte for a
// single packet; treating it literally would cause every derived bit
// (playing, master, synced, on-air) to flicker false for one tick.
type statusFlagGuard struct {
	lastNonZero map[packet.DeviceID]uint8
}

func newStatusFlagGuard() *statusFlagGuard {
	return &statusFlagGuard{lastNonZero: map[packet.DeviceID]uint8{}}
}

// apply keyed on the raw (untranslated) device number reported in the
// packet, not the logical player number, matching the reference: Opus
// hardware's four logical players all share one physical sender, so
// keying on the logical number would let one deck's zero flag borrow
// another deck's last-known flags.
func (g *statusFlagGuard) apply(rawDeviceNumber packet.DeviceID, flags uint8) uint8 {
	if flags == 0 {
		if last, ok := g.lastNonZero[rawDeviceNumber]; ok {
			return last
		}
		return flags
	}
	g.lastNonZero[rawDeviceNumber] = flags
	return flags
}
