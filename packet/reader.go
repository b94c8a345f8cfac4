package packet

import (
	"encoding/binary"
	"net"
	"strings"
)

// Uint16BE reads a big-endian uint16 at offset off.
func Uint16BE(buf []byte, off int) uint16 { return binary.BigEndian.Uint16(buf[off : off+2]) }

// Uint32BE reads a big-endian uint32 at offset off.
func Uint32BE(buf []byte, off int) uint32 { return binary.BigEndian.Uint32(buf[off : off+4]) }

// Uint32LE reads a little-endian uint32 at offset off. A few analysis
// payloads (and nothing on the live network) use little-endian integers;
// exposed for callers that parse those.
func Uint32LE(buf []byte, off int) uint32 { return binary.LittleEndian.Uint32(buf[off : off+4]) }

// Int24BE reads a signed 24-bit big-endian integer stored in 3 bytes,
// sign-extended to int32. Used for the Beat packet's pitch field.
func Int24BE(buf []byte, off int) int32 {
	v := uint32(buf[off])<<16 | uint32(buf[off+1])<<8 | uint32(buf[off+2])
	if v&0x800000 != 0 {
		v |= 0xff000000
	}
	return int32(v)
}

// FixedString reads a fixed-width byte slice as ASCII with trailing NUL
// bytes stripped.
func FixedString(buf []byte, off, length int) string {
	return strings.TrimRight(string(buf[off:off+length]), "\x00")
}

// PutFixedString writes s into dst[off:off+length], zero-padding (or
// truncating) to fit.
func PutFixedString(dst []byte, off, length int, s string) {
	b := []byte(s)
	if len(b) > length {
		b = b[:length]
	}
	copy(dst[off:off+length], b)
}

// MACAddr reads a 6-byte MAC address.
func MACAddr(buf []byte, off int) net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	copy(mac, buf[off:off+6])
	return mac
}

// IPv4 reads a 4-byte IPv4 address.
func IPv4(buf []byte, off int) net.IP {
	ip := make(net.IP, 4)
	copy(ip, buf[off:off+4])
	return ip
}

func putUint16BE(buf []byte, off int, v uint16) { binary.BigEndian.PutUint16(buf[off:off+2], v) }
func putUint32BE(buf []byte, off int, v uint32) { binary.BigEndian.PutUint32(buf[off:off+4], v) }
