package packet

import (
	"net"
	"time"
)

// AnnounceLen is the fixed size of a device announcement (hello or
// keep-alive) packet. Anything else is invalid.
const AnnounceLen = 54

// Device-Library-Plus names: self-contained units that hide several
// logical players behind one physical network address.
const (
	NameOpusQuad = "OPUS-QUAD"
	NameXDJAZ    = "XDJ-AZ"
)

// IsDeviceLibraryPlus reports whether a device name identifies hardware
// that fans out into multiple logical device numbers (§3).
func IsDeviceLibraryPlus(name string) bool {
	return name == NameOpusQuad || name == NameXDJAZ
}

// Announcement is the decoded 54-byte device hello/keep-alive record.
type Announcement struct {
	Name       string
	DeviceID   DeviceID
	DeviceType DeviceType
	MAC        net.HardwareAddr
	IP         net.IP
	PeerCount  uint8
	ReceivedAt time.Time
}

// announcement field offsets, following IljaN-prolink-go's layout.
const (
	offAnnounceName      = 0x0c
	lenAnnounceName      = 20
	offAnnounceUnknown1  = 0x20
	offAnnounceDeviceID  = 0x24
	offAnnounceMAC       = 0x26
	offAnnounceIP        = 0x2c
	offAnnounceUnknown2  = 0x30
	offAnnouncePeerCount = 0x30
	offAnnounceType      = 0x34
	offAnnounceFinalPad  = 0x35
)

// DecodeAnnouncement parses a device hello (TypeDeviceHello) or keep-alive
// (TypeDeviceKeepAlive) packet. The spec requires exactly 54 bytes; any
// other length is invalid.
func DecodeAnnouncement(buf []byte, receivedAt time.Time) (*Announcement, error) {
	if len(buf) != AnnounceLen {
		return nil, &TooShortError{Expected: AnnounceLen, Actual: len(buf)}
	}
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	if t != TypeDeviceHello && t != TypeDeviceKeepAlive {
		return nil, ErrWrongType
	}

	return &Announcement{
		Name:       FixedString(buf, offAnnounceName, lenAnnounceName),
		DeviceID:   DeviceID(buf[offAnnounceDeviceID]),
		DeviceType: DeviceType(buf[offAnnounceType]),
		MAC:        MACAddr(buf, offAnnounceMAC),
		IP:         IPv4(buf, offAnnounceIP),
		PeerCount:  buf[offAnnouncePeerCount],
		ReceivedAt: receivedAt,
	}, nil
}

// EncodeKeepAlive builds the 54-byte keep-alive/hello packet broadcast by
// a virtual device to announce its presence.
func EncodeKeepAlive(t Type, name string, id DeviceID, devType DeviceType, mac net.HardwareAddr, ip net.IP) []byte {
	buf := make([]byte, AnnounceLen)
	copy(buf[:len(Magic)], Magic)
	buf[TypeByteOffset] = byte(t)
	buf[0x0b] = 0x00
	PutFixedString(buf, offAnnounceName, lenAnnounceName, name)
	// unknown1: observed constant padding that real devices also send.
	copy(buf[offAnnounceUnknown1:offAnnounceUnknown1+4], []byte{0x01, 0x02, 0x00, 0x36})
	buf[offAnnounceDeviceID] = byte(id)
	buf[0x25] = 0x00
	if mac != nil {
		copy(buf[offAnnounceMAC:offAnnounceMAC+6], mac[:6])
	}
	if ip4 := ip.To4(); ip4 != nil {
		copy(buf[offAnnounceIP:offAnnounceIP+4], ip4)
	}
	copy(buf[offAnnounceUnknown2:offAnnounceUnknown2+4], []byte{0x01, 0x00, 0x00, 0x00})
	buf[offAnnounceType] = byte(devType)
	buf[offAnnounceFinalPad] = 0x00
	return buf
}
