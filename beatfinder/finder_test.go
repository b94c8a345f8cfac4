package beatfinder

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"prolink/packet"
)

type fakeIgnore struct{ addrs map[string]bool }

func (f fakeIgnore) IsIgnored(addr net.IP) bool { return f.addrs[addr.String()] }

func TestBeatDispatchedToListeners(t *testing.T) {
	f := New(nil)

	var got *packet.Beat
	var mu sync.Mutex
	f.OnBeat(func(b *packet.Beat) {
		mu.Lock()
		defer mu.Unlock()
		got = b
	})

	buf := packet.EncodeBeat(&packet.Beat{DeviceName: "CDJ-3000", DeviceID: 1, BPMTimes100: 12800})
	f.handlePacket(buf, net.IPv4(10, 0, 0, 1))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	require.Equal(t, packet.DeviceID(1), got.DeviceID)
}

func TestSyncControlDispatch(t *testing.T) {
	f := New(nil)
	var got *packet.SyncControl
	f.OnSyncControl(func(c *packet.SyncControl) { got = c })

	buf := packet.EncodeSyncControl(3, packet.SyncCommandOn)
	f.handlePacket(buf, net.IPv4(10, 0, 0, 2))

	require.NotNil(t, got)
	require.Equal(t, packet.DeviceID(3), got.Target)
	require.Equal(t, packet.SyncCommandOn, got.Command)
}

func TestMasterHandoffRoundTrip(t *testing.T) {
	f := New(nil)
	var req *packet.MasterHandoffRequest
	var resp *packet.MasterHandoffResponse
	f.OnMasterHandoffRequest(func(r *packet.MasterHandoffRequest) { req = r })
	f.OnMasterHandoffResponse(func(r *packet.MasterHandoffResponse) { resp = r })

	f.handlePacket(packet.EncodeMasterHandoffRequest(2), net.IPv4(10, 0, 0, 3))
	f.handlePacket(packet.EncodeMasterHandoffResponse(2, true), net.IPv4(10, 0, 0, 3))

	require.NotNil(t, req)
	require.Equal(t, packet.DeviceID(2), req.From)
	require.NotNil(t, resp)
	require.True(t, resp.Yielded)
}

func TestIgnoredAddressNeverDispatches(t *testing.T) {
	ip := net.IPv4(10, 0, 0, 9)
	f := New(fakeIgnore{addrs: map[string]bool{ip.String(): true}})

	fired := false
	f.OnBeat(func(*packet.Beat) { fired = true })

	buf := packet.EncodeBeat(&packet.Beat{DeviceName: "CDJ", DeviceID: 1})
	f.handlePacket(buf, ip)

	require.False(t, fired)
}

func TestPrecisePositionDispatch(t *testing.T) {
	f := New(nil)
	var got *packet.PrecisePosition
	f.OnPrecisePosition(func(p *packet.PrecisePosition) { got = p })

	buf := make([]byte, packet.PrecisePositionLen)
	copy(buf[:len(packet.Magic)], packet.Magic)
	buf[packet.TypeByteOffset] = byte(packet.TypePrecisePosition)
	f.handlePacket(buf, net.IPv4(10, 0, 0, 4))

	require.NotNil(t, got)
}
