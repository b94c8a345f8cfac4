package vrekordbox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"prolink/packet"
)

func TestPacketTrackerReassemblesAcrossFragments(t *testing.T) {
	tr := &packetTracker{}

	first := &packet.OpusFragment{PacketNumber: 1, PacketCount: 3, Payload: []byte{1, 2, 3}}
	require.False(t, tr.receivePacket(first))

	second := &packet.OpusFragment{PacketNumber: 2, PacketCount: 3, Payload: []byte{4, 5, 6, 0, 0}}
	require.True(t, tr.receivePacket(second))

	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, tr.trimmedBytes())
}

func TestPacketTrackerResetStartsFresh(t *testing.T) {
	tr := &packetTracker{}
	tr.receivePacket(&packet.OpusFragment{PacketNumber: 0, PacketCount: 1, Payload: []byte{9, 9}})
	tr.reset()
	require.Empty(t, tr.trimmedBytes())
}

func TestStatusFlagGuardSubstitutesZeroWithLastNonZero(t *testing.T) {
	g := newStatusFlagGuard()
	require.Equal(t, uint8(0), g.apply(9, 0)) // nothing seen yet: stays zero

	require.Equal(t, uint8(0x40), g.apply(9, 0x40))
	require.Equal(t, uint8(0x40), g.apply(9, 0))

	// A different raw device number is tracked independently.
	require.Equal(t, uint8(0), g.apply(10, 0))
}
