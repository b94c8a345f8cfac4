package device

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prolink/packet"
)

func buildAnnouncement(t *testing.T, typ packet.Type, name string, id packet.DeviceID, devType packet.DeviceType, mac net.HardwareAddr, ip net.IP) []byte {
	t.Helper()
	return packet.EncodeKeepAlive(typ, name, id, devType, mac, ip)
}

func TestOnePerAddressNumberLaterTimestampWins(t *testing.T) {
	f := New()

	mac := net.HardwareAddr{0, 1, 2, 3, 4, 5}
	ip := net.IPv4(192, 168, 1, 10)
	buf := buildAnnouncement(t, packet.TypeDeviceHello, "CDJ-3000", 2, packet.DeviceTypeCDJ, mac, ip)

	var found []*Device
	var mu sync.Mutex
	f.OnDeviceFound(func(d *Device) {
		mu.Lock()
		defer mu.Unlock()
		found = append(found, d)
	})

	f.handlePacket(buf, ip)
	f.handlePacket(buf, ip) // second hello from the same device: refresh, not a second found event

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, found, 1)
	require.Equal(t, 1, len(f.CurrentDevices()))

	devs := f.CurrentDevices()
	require.Equal(t, packet.DeviceID(2), devs[0].Number)
}

func TestIgnoredAddressProducesNoEntryOrEvent(t *testing.T) {
	f := New()
	ip := net.IPv4(192, 168, 1, 20)
	f.Ignore(ip)

	fired := false
	f.OnDeviceFound(func(d *Device) { fired = true })

	buf := buildAnnouncement(t, packet.TypeDeviceHello, "CDJ-2000", 3, packet.DeviceTypeCDJ, net.HardwareAddr{1, 1, 1, 1, 1, 1}, ip)
	f.handlePacket(buf, ip)

	require.False(t, fired)
	require.Empty(t, f.CurrentDevices())
}

func TestAgingEvictsAfterSilenceWithExactlyOneLostEvent(t *testing.T) {
	f := New()

	var lostCount int
	var mu sync.Mutex
	f.OnDeviceLost(func(d *Device) {
		mu.Lock()
		defer mu.Unlock()
		lostCount++
	})

	ip := net.IPv4(192, 168, 1, 30)
	d := &Device{
		Name:     "CDJ-2000NXS2",
		Number:   4,
		Address:  ip,
		LastSeen: time.Now().Add(-Timeout - time.Second),
	}
	f.devices[d.Key()] = d

	f.age()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, lostCount)
	require.Empty(t, f.CurrentDevices())

	f.age()
	require.Equal(t, 1, lostCount, "a device already evicted must not fire lost twice")
}

func TestOpusQuadFansOutToFourLogicalDevices(t *testing.T) {
	f := New()

	var found []*Device
	var mu sync.Mutex
	f.OnDeviceFound(func(d *Device) {
		mu.Lock()
		defer mu.Unlock()
		found = append(found, d)
	})

	ip := net.IPv4(192, 168, 1, 40)
	buf := buildAnnouncement(t, packet.TypeDeviceHello, packet.NameOpusQuad, 1, packet.DeviceTypeCDJ, net.HardwareAddr{9, 9, 9, 9, 9, 9}, ip)
	f.handlePacket(buf, ip)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, found, 4)
	require.Len(t, f.CurrentDevices(), 4)

	seen := map[packet.DeviceID]bool{}
	for _, d := range found {
		seen[d.Number] = true
	}
	for _, num := range packet.OpusLogicalDeviceIDs {
		require.True(t, seen[num], "missing logical device number %d", num)
	}
}

func TestStartedFinderRunsWithNoDevices(t *testing.T) {
	f := New()
	require.NoError(t, f.Start())
	defer f.Stop()

	require.False(t, f.Running() == false)
	require.Empty(t, f.CurrentDevices())
}
