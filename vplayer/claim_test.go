package vplayer

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prolink/packet"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recordingBroadcaster) BroadcastTo(buf []byte, to *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]byte(nil), buf...)
	r.sent = append(r.sent, cp)
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestClaimSucceedsWithoutDefense(t *testing.T) {
	self := localInterface{IP: net.IPv4(192, 168, 1, 50), MAC: net.HardwareAddr{1, 2, 3, 4, 5, 6}, Broadcast: net.IPv4(192, 168, 1, 255)}
	cfg := Config{DesiredDeviceNumber: 3, DeviceName: "Test Player"}.normalize()

	state := newClaimState()
	seen := newSeenNumbers()
	bc := &recordingBroadcaster{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	number, err := claimNumber(ctx, cfg, self, state, seen, bc)
	require.NoError(t, err)
	require.Equal(t, packet.DeviceID(3), number)
	// 3 stages x 3 repeats.
	require.Equal(t, 9, bc.count())
}

func TestClaimRetriesAfterDefense(t *testing.T) {
	self := localInterface{IP: net.IPv4(192, 168, 1, 50), MAC: net.HardwareAddr{1, 2, 3, 4, 5, 6}, Broadcast: net.IPv4(192, 168, 1, 255)}
	cfg := Config{DesiredDeviceNumber: 5, DeviceName: "Test Player"}.normalize()

	state := newClaimState()
	seen := newSeenNumbers()
	bc := &recordingBroadcaster{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Simulate a defender rejecting our first proposal mid-flight.
	go func() {
		time.Sleep(ClaimStageInterval + 50*time.Millisecond)
		state.observe(&packet.ClaimPacket{Type: packet.TypeDeviceNumberInUse, ProposedID: 5}, func([]byte, net.IP) {}, self, cfg.DeviceName)
	}()

	number, err := claimNumber(ctx, cfg, self, state, seen, bc)
	require.NoError(t, err)
	require.NotEqual(t, packet.DeviceID(5), number)
}

func TestWillAssignTriggersAssignmentRequest(t *testing.T) {
	self := localInterface{IP: net.IPv4(192, 168, 1, 50), MAC: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	state := newClaimState()
	state.reset(0)

	var respondedType packet.Type
	state.observe(&packet.ClaimPacket{Type: packet.TypeDeviceNumberWillAssign, IP: net.IPv4(192, 168, 1, 1)}, func(pkt []byte, to net.IP) {
		tp, _ := packet.CheckHeader(pkt)
		respondedType = tp
	}, self, "Test Player")

	require.Equal(t, packet.TypeDeviceNumberStage2, respondedType)
}
