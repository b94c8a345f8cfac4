package vrekordbox

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"

	"prolink/packet"
)

func TestArchiveIndexAttachAndLookup(t *testing.T) {
	idx := NewArchiveIndex()
	pssi := []byte{1, 2, 3, 4, 5}
	hash := sha1.Sum(pssi)

	idx.Attach(packet.TrackSlotUSB, hash, 42)

	m, ok := idx.Lookup(pssi)
	require.True(t, ok)
	require.Equal(t, uint32(42), m.RekordboxID)
	require.Equal(t, packet.TrackSlotUSB, m.Slot)
}

func TestArchiveIndexLookupMissUnknownPayload(t *testing.T) {
	idx := NewArchiveIndex()
	_, ok := idx.Lookup([]byte{9, 9, 9})
	require.False(t, ok)
}

func TestArchiveIndexDetachRemovesSlotEntries(t *testing.T) {
	idx := NewArchiveIndex()
	pssi := []byte{7, 7, 7}
	hash := sha1.Sum(pssi)
	idx.Attach(packet.TrackSlotUSB, hash, 5)

	idx.Detach(packet.TrackSlotUSB)

	_, ok := idx.Lookup(pssi)
	require.False(t, ok)
}
