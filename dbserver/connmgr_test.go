package dbserver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prolink/device"
	"prolink/internal/events"
	"prolink/packet"
)

type fakeDeviceSource struct {
	devices []*device.Device
	found   *events.Registry[device.FoundFunc]
	lost    *events.Registry[device.LostFunc]
}

func newFakeDeviceSource(devices ...*device.Device) *fakeDeviceSource {
	return &fakeDeviceSource{devices: devices, found: events.NewRegistry[device.FoundFunc](), lost: events.NewRegistry[device.LostFunc]()}
}

func (f *fakeDeviceSource) CurrentDevices() []*device.Device { return f.devices }
func (f *fakeDeviceSource) OnDeviceFound(fn device.FoundFunc) events.Token {
	return f.found.Subscribe(fn)
}
func (f *fakeDeviceSource) OnDeviceLost(fn device.LostFunc) events.Token { return f.lost.Subscribe(fn) }

func TestChooseAskingPlayerNumberUsesOwnNumberWhenCDJSlot(t *testing.T) {
	target := &device.Device{Number: 2, Name: "CDJ-3000", Address: net.IPv4(10, 0, 0, 2)}
	src := newFakeDeviceSource(target)
	cm := NewConnectionManager(src, func() packet.DeviceID { return 3 }, nil)

	require.Equal(t, packet.DeviceID(3), cm.chooseAskingPlayerNumber(target))
}

func TestChooseAskingPlayerNumberFallsBackToLiveCDJWhenMetadataLimited(t *testing.T) {
	target := &device.Device{Number: 2, Name: "CDJ-350", Address: net.IPv4(10, 0, 0, 2)}
	other := &device.Device{Number: 4, Name: "CDJ-3000", Address: net.IPv4(10, 0, 0, 4)}
	src := newFakeDeviceSource(target, other)
	cm := NewConnectionManager(src, func() packet.DeviceID { return 17 }, nil)

	require.Equal(t, packet.DeviceID(4), cm.chooseAskingPlayerNumber(target))
}

func TestChooseAskingPlayerNumberUsesExtendedNumberWhenNotLimited(t *testing.T) {
	target := &device.Device{Number: 2, Name: "CDJ-3000", Address: net.IPv4(10, 0, 0, 2)}
	src := newFakeDeviceSource(target)
	cm := NewConnectionManager(src, func() packet.DeviceID { return 17 }, nil)

	require.Equal(t, packet.DeviceID(17), cm.chooseAskingPlayerNumber(target))
}

// pipeClient builds a Client wrapping one end of an in-memory pipe so
// Close() has a real connection to write its teardown message to.
func pipeClient(t *testing.T) *Client {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })
	go discardReads(server)
	return &Client{conn: client, socketTimeout: time.Second}
}

func discardReads(conn net.Conn) {
	buf := make([]byte, 256)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func TestIdleCloserReapsZeroUseClientsPastIdleLimit(t *testing.T) {
	src := newFakeDeviceSource()
	cm := NewConnectionManager(src, func() packet.DeviceID { return 1 }, nil)
	cm.SetIdleLimit(10 * time.Millisecond)

	rec := &clientRecord{client: pipeClient(t), useCount: 0, lastUsed: time.Now().Add(-time.Second)}
	cm.clients[packet.DeviceID(9)] = rec

	cm.closeIdleClients()
	require.NotContains(t, cm.clients, packet.DeviceID(9))
}

func TestFreeClientDecrementsUseCount(t *testing.T) {
	src := newFakeDeviceSource()
	cm := NewConnectionManager(src, func() packet.DeviceID { return 1 }, nil)

	cm.clients[packet.DeviceID(5)] = &clientRecord{client: pipeClient(t), useCount: 2, lastUsed: time.Now()}
	cm.freeClient(packet.DeviceID(5))
	require.Equal(t, 1, cm.clients[packet.DeviceID(5)].useCount)
}
