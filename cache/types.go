// Package cache implements the track-data cache pattern shared by every
// per-kind Finder (metadata, art, beat grid, waveform preview/detail,
// analysis tags, signature, play-position time): a hot per-deck cache fed
// by a bounded worker queue, an optional bounded second-chance LRU for
// bulkier kinds, and request de-duplication against the dbserver
// Connection Manager.
package cache

import "prolink/packet"

// DeckRef names one deck's worth of state within a player: hot-cue 0 is
// the "currently loaded track" entry, 1..3 are the player's hot cues.
type DeckRef struct {
	Player packet.DeviceID
	HotCue int
}

// TrackRef identifies a specific track's data on a specific source slot,
// the cache key data (as opposed to hot-cache per-deck state) is keyed
// on. Two updates naming the same TrackRef are the same track.
type TrackRef struct {
	Player      packet.DeviceID
	Slot        packet.TrackSourceSlot
	RekordboxID uint32
	TrackType   packet.TrackType
}

// OpusMatch is the (rekordbox-id, USB slot) an Opus-equivalent player's
// currently loaded track has been resolved to, via Virtual Rekordbox's
// PSSI matching. Mirrors vrekordbox.Match without importing that package,
// so this package stays decoupled from the Opus compatibility layer; a
// caller wires the two together when constructing a Finder.
type OpusMatch struct {
	RekordboxID uint32
	Slot        packet.TrackSourceSlot
}

// OpusResolver rewrites a track reference sourced from an Opus-equivalent
// player (Opus Quad, XDJ-AZ) per §4.8: the player's reported slot/id are
// placeholders, and the real archive identity comes from whatever Virtual
// Rekordbox has matched via song-structure (PSSI) fingerprinting.
type OpusResolver interface {
	IsOpusPlayer(player packet.DeviceID) bool
	FindMatchForPlayer(player packet.DeviceID) (OpusMatch, bool)
}

// resolveReference applies §4.8's rewriting rule. ok=false means the
// caller should treat this as "no data available" without issuing a
// dbserver request (no archive attached yet for that Opus deck).
func resolveReference(resolver OpusResolver, ref TrackRef) (TrackRef, bool) {
	if resolver == nil || !resolver.IsOpusPlayer(ref.Player) {
		return ref, true
	}
	match, ok := resolver.FindMatchForPlayer(ref.Player)
	if !ok {
		return ref, false
	}
	ref.Slot = match.Slot
	ref.RekordboxID = match.RekordboxID
	return ref, true
}
