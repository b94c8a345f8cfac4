package vrekordbox

import (
	"crypto/sha1"
	"sync"

	"prolink/packet"
)

// Match identifies which mounted USB archive's track a reassembled PSSI
// payload came from.
type Match struct {
	RekordboxID uint32
	Slot        packet.TrackSourceSlot
}

// ArchiveIndex maps a PSSI payload's content hash to the rekordbox ID and
// USB slot it was captured from. Building this index means reading the
// PDB/ZIP export a real rekordbox install or Crate Digger would produce
// for each mounted USB, which is out of this module's scope (see
// Non-goals); callers populate it directly via Attach once they have
// computed those hashes by whatever means they have available.
type ArchiveIndex struct {
	mu      sync.RWMutex
	entries map[[sha1.Size]byte]Match
	bySlot  map[packet.TrackSourceSlot][][sha1.Size]byte
}

// NewArchiveIndex returns an empty index.
func NewArchiveIndex() *ArchiveIndex {
	return &ArchiveIndex{
		entries: map[[sha1.Size]byte]Match{},
		bySlot:  map[packet.TrackSourceSlot][][sha1.Size]byte{},
	}
}

// Attach records that the track whose PSSI data hashes to hash lives at
// rekordboxID on slot.
func (idx *ArchiveIndex) Attach(slot packet.TrackSourceSlot, hash [sha1.Size]byte, rekordboxID uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[hash] = Match{RekordboxID: rekordboxID, Slot: slot}
	idx.bySlot[slot] = append(idx.bySlot[slot], hash)
}

// Detach removes every entry attached for slot, matching the reference's
// unmount handling when a USB is ejected.
func (idx *ArchiveIndex) Detach(slot packet.TrackSourceSlot) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, hash := range idx.bySlot[slot] {
		delete(idx.entries, hash)
	}
	delete(idx.bySlot, slot)
}

// Lookup hashes a reassembled PSSI payload and returns the archive match
// recorded for it, if any.
func (idx *ArchiveIndex) Lookup(pssi []byte) (Match, bool) {
	hash := sha1.Sum(pssi)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.entries[hash]
	return m, ok
}
