package vrekordbox

import "net"

// Field offsets shared by both fixed-format rekordbox packets below; the
// same layout as a standard device announcement (packet.AnnounceLen == 54
// for the keep-alive), since that is exactly what this packet is.
const (
	offDeviceName   = 0x0c
	lenDeviceName   = 0x14
	offDeviceNumber = 0x24
	offMacAddress   = 0x26
	offIPAddress    = 0x2c
)

// keepAliveTemplate is the literal rekordbox device announcement/keep-alive
// packet, captured from a real rekordbox install. Every virtual-rekordbox
// node starts from this template and patches in its own device number,
// MAC, and IP before broadcasting it.
var keepAliveTemplate = []byte{
	0x51, 0x73, 0x70, 0x74, 0x31, 0x57, 0x6d, 0x4a, 0x4f, 0x4c, 0x06, 0x00, 0x72, 0x65, 0x6b, 0x6f,
	0x72, 0x64, 0x62, 0x6f, 0x78, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x03, 0x00, 0x36, 0x17, 0x01, 0x18, 0x3e, 0xef, 0xda, 0x5b, 0xca, 0xc0, 0xa8, 0x02, 0x0b,
	0x04, 0x01, 0x00, 0x00, 0x04, 0x08,
}

// lightingTemplate is the literal rekordbox lighting-request-status
// packet, broadcast on the update port alongside the keep-alive. Its
// purpose (polling connected gear for DMX/lighting capability) is out of
// this module's scope; it is reproduced and patched only because real
// devices expect to see a legitimate rekordbox send both packets
// together, matching the shape a genuine rekordbox install produces.
var lightingTemplate = []byte{
	0x51, 0x73, 0x70, 0x74, 0x31, 0x57, 0x6d, 0x4a, 0x4f, 0x4c, 0x11, 0x72, 0x65, 0x6b, 0x6f, 0x72,
	0x64, 0x62, 0x6f, 0x78, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
	0x01, 0x17, 0x01, 0x04, 0x17, 0x01, 0x00, 0x00, 0x00, 0x6d, 0x00, 0x61, 0x00, 0x63, 0x00, 0x62,
	0x00, 0x6f, 0x00, 0x6f, 0x00, 0x6b, 0x00, 0x20, 0x00, 0x70, 0x00, 0x72, 0x00, 0x6f, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

// defaultDeviceNumber is the device number a real rekordbox install
// requests before any self-assignment scan runs.
const defaultDeviceNumber = 0x11

// newTemplates clones the two fixed packets so each VirtualRekordbox
// instance patches its own copy rather than a shared package-level slice.
func newTemplates() (keepAlive, lighting []byte) {
	keepAlive = append([]byte(nil), keepAliveTemplate...)
	lighting = append([]byte(nil), lightingTemplate...)
	return keepAlive, lighting
}

func patchDeviceNumber(keepAlive []byte, number byte) {
	keepAlive[offDeviceNumber] = number
}

func patchNetworkIdentity(keepAlive, lighting []byte, mac net.HardwareAddr, ip net.IP) {
	for _, buf := range [][]byte{keepAlive, lighting} {
		if len(mac) >= 6 {
			copy(buf[offMacAddress:offMacAddress+6], mac[:6])
		}
		if ip4 := ip.To4(); ip4 != nil {
			copy(buf[offIPAddress:offIPAddress+4], ip4)
		}
	}
}
