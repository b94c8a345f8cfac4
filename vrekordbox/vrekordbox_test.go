package vrekordbox

import (
	"crypto/sha1"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"prolink/device"
	"prolink/packet"
)

// fakeDeviceSource is a minimal deviceSource test double: a fixed device
// list and an Ignore call log, with no real UDP discovery behind it.
type fakeDeviceSource struct {
	devices []*device.Device
	ignored []net.IP
}

func (f *fakeDeviceSource) CurrentDevices() []*device.Device { return f.devices }
func (f *fakeDeviceSource) Ignore(ip net.IP)                 { f.ignored = append(f.ignored, ip) }

func newTestNode(index *ArchiveIndex, devices ...*device.Device) *VirtualRekordbox {
	return New(Config{}, &fakeDeviceSource{devices: devices}, index)
}

func TestSelfAssignDeviceNumberKeepsDefaultWhenFree(t *testing.T) {
	v := newTestNode(nil)
	require.Equal(t, packet.DeviceID(defaultDeviceNumber), v.selfAssignDeviceNumber())
}

func TestSelfAssignDeviceNumberScansRangeWhenDefaultTaken(t *testing.T) {
	taken := &device.Device{Number: packet.DeviceID(defaultDeviceNumber), Address: net.IPv4(10, 0, 0, 5)}
	v := newTestNode(nil, taken)

	got := v.selfAssignDeviceNumber()
	require.GreaterOrEqual(t, got, packet.DeviceID(SelfAssignRangeStart))
	require.LessOrEqual(t, got, packet.DeviceID(SelfAssignRangeEnd))
}

func TestHandleStatusClearsMatchOnRekordboxIDChange(t *testing.T) {
	v := newTestNode(nil)
	v.playerMatch[2] = Match{RekordboxID: 99, Slot: packet.TrackSlotUSB}
	v.previousRbID[2] = 99

	status := &packet.CDJStatus{DeviceID: 2, RekordboxID: 100, StatusFlags: 0x40}
	buf := packet.EncodeCDJStatus(status)

	v.handleStatus(buf, net.IPv4(10, 0, 0, 2))

	_, ok := v.FindMatchForPlayer(2)
	require.False(t, ok)
}

func TestHandleStatusSubstitutesZeroFlagsFromPriorPacket(t *testing.T) {
	v := newTestNode(nil)

	warm := &packet.CDJStatus{DeviceID: 3, RekordboxID: 7, StatusFlags: packet.FlagPlaying}
	v.handleStatus(packet.EncodeCDJStatus(warm), net.IPv4(10, 0, 0, 3))

	zeroFlags := &packet.CDJStatus{DeviceID: 3, RekordboxID: 7, StatusFlags: 0}
	v.handleStatus(packet.EncodeCDJStatus(zeroFlags), net.IPv4(10, 0, 0, 3))

	require.Equal(t, uint8(packet.FlagPlaying), v.statusFlagGuard.lastNonZero[3])
}

func TestHandleOpusFragmentMatchesCompletedPssiAgainstIndex(t *testing.T) {
	pssi := []byte{10, 20, 30, 40}
	hash := sha1.Sum(pssi)
	idx := NewArchiveIndex()
	idx.Attach(packet.TrackSlotUSB, hash, 55)

	v := newTestNode(idx)

	first := buildOpusFragment(t, 1, 1, 2, pssi[:2])
	v.handleOpusFragment(first)
	_, ok := v.FindMatchForPlayer(1)
	require.False(t, ok)

	second := buildOpusFragment(t, 1, 2, 2, pssi[2:])
	v.handleOpusFragment(second)

	m, ok := v.FindMatchForPlayer(1)
	require.True(t, ok)
	require.Equal(t, uint32(55), m.RekordboxID)
}

// buildOpusFragment constructs a minimal OPUS_METADATA/PSSI packet with
// the given raw player number, fragment index, fragment count, and payload.
func buildOpusFragment(t *testing.T, player byte, num, count byte, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, 0x34+len(payload))
	copy(buf[:10], packet.Magic)
	buf[0x0a] = byte(packet.TypeOpusMetadata)
	buf[0x21] = player
	buf[0x25] = byte(packet.OpusMetadataTypePSSI)
	buf[0x31] = num
	buf[0x33] = count + 1
	copy(buf[0x34:], payload)
	return buf
}
