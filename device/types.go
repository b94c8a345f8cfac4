// Package device implements device discovery: the Device Finder UDP
// listener (§4.3), the live device set it maintains, and aging of silent
// devices.
package device

import (
	"fmt"
	"net"
	"strings"
	"time"

	"prolink/packet"
)

// Timeout is how long a device may go silent before it is evicted.
const Timeout = 10 * time.Second

// Key uniquely identifies a live device entry: (address, device number).
type Key struct {
	Address string
	Number  packet.DeviceID
}

func (k Key) String() string { return fmt.Sprintf("%s#%d", k.Address, k.Number) }

// Device is a live entry in the device set.
type Device struct {
	Name       string
	Number     packet.DeviceID
	Type       packet.DeviceType
	MAC        net.HardwareAddr
	Address    net.IP
	PeerCount  uint8
	LastSeen   time.Time
}

// Key returns this device's (address, number) identity.
func (d *Device) Key() Key {
	return Key{Address: d.Address.String(), Number: d.Number}
}

// legacyMetadataLimitedModels names player models that predate the
// extended-device-number query path, the protocol has no on-wire flag for
// this, so the Connection Manager's posing-as-player choice falls back to
// matching the announced name.
var legacyMetadataLimitedModels = []string{"CDJ-350", "CDJ-200", "CDJ-400", "CDJ-800", "CDJ-850", "XDJ-700"}

// IsMetadataLimited reports whether this device is a model known to
// reject queries posed from an extended (>4) device number.
func (d *Device) IsMetadataLimited() bool {
	for _, model := range legacyMetadataLimitedModels {
		if strings.Contains(d.Name, model) || strings.HasPrefix(d.Name, model) {
			return true
		}
	}
	return false
}

// IsOpusEquivalent reports whether this device is one of the logical
// players fanned out from a self-contained multi-deck unit (Opus Quad,
// XDJ-AZ) rather than a standalone CDJ.
func (d *Device) IsOpusEquivalent() bool {
	return packet.IsDeviceLibraryPlus(d.Name)
}

// FromAnnouncement builds a Device from a decoded announcement, for a
// specific (possibly Opus-translated) logical device number.
func FromAnnouncement(a *packet.Announcement, number packet.DeviceID) *Device {
	return &Device{
		Name:      a.Name,
		Number:    number,
		Type:      a.DeviceType,
		MAC:       a.MAC,
		Address:   a.IP,
		PeerCount: a.PeerCount,
		LastSeen:  a.ReceivedAt,
	}
}
