// Package packet implements the DJ Link wire codec: header validation,
// packet-type classification by (port, type byte), and fixed-offset field
// decoding for the announcement, beat, and status packet families.
package packet

import (
	"bytes"
	"fmt"
)

// Magic is the 10-byte prefix that begins every DJ Link UDP packet.
var Magic = []byte{0x51, 0x73, 0x70, 0x74, 0x31, 0x57, 0x6d, 0x4a, 0x4f, 0x4c}

// Port is a UDP port used by the DJ Link protocol.
type Port uint16

const (
	PortAnnouncement Port = 50000
	PortBeat         Port = 50001
	PortUpdate       Port = 50002
)

// TCPPort12523 is the fixed dbserver-port-query port every device listens on.
const TCPPort12523 = 12523

// Type identifies the packet's purpose. Values are bit-exact with the
// reverse-engineered protocol; they are scoped to the port they arrive on.
type Type uint8

const (
	// Announcement port (50000)
	TypeDeviceNumberStage1            Type = 0x00
	TypeDeviceNumberWillAssign        Type = 0x01
	TypeDeviceNumberStage2            Type = 0x02
	TypeDeviceNumberAssign            Type = 0x03
	TypeDeviceNumberStage3            Type = 0x04
	TypeDeviceNumberAssignmentFinish  Type = 0x05
	TypeDeviceKeepAlive               Type = 0x06
	TypeDeviceNumberInUse             Type = 0x08
	TypeDeviceHello                   Type = 0x0a

	// Beat port (50001)
	TypeFaderStartCommand   Type = 0x02
	TypeChannelsOnAir       Type = 0x03
	TypePrecisePosition     Type = 0x0b
	TypeMasterHandoffReq    Type = 0x26
	TypeMasterHandoffResp   Type = 0x27
	TypeBeat                Type = 0x28
	TypeSyncControl         Type = 0x2a

	// Update port (50002)
	TypeMediaQuery           Type = 0x05
	TypeMediaResponse        Type = 0x06
	TypeCDJStatus            Type = 0x0a
	TypeRekordboxLightHello  Type = 0x10
	TypeLoadTrackCommand     Type = 0x19
	TypeLoadTrackAck         Type = 0x1a
	TypeMixerStatus          Type = 0x29
	TypeLoadSettingsCommand  Type = 0x34
	TypeOpusMetadata         Type = 0x56
)

// portTypeName names every (port, type) pair the lookup table recognizes;
// an absent entry means "unknown type on this port", which callers drop.
var portTypeName = map[Port]map[Type]string{
	PortAnnouncement: {
		TypeDeviceNumberStage1:           "Device Number Claim Stage 1",
		TypeDeviceNumberWillAssign:       "Device Number Will Be Assigned",
		TypeDeviceNumberStage2:           "Device Number Claim Stage 2",
		TypeDeviceNumberAssign:           "Device Number Assignment",
		TypeDeviceNumberStage3:           "Device Number Claim Stage 3",
		TypeDeviceNumberAssignmentFinish: "Device Number Assignment Finished",
		TypeDeviceKeepAlive:              "Device Keep-Alive",
		TypeDeviceNumberInUse:            "Device Number In Use",
		TypeDeviceHello:                  "Device Hello",
	},
	PortBeat: {
		TypeFaderStartCommand: "Fader Start",
		TypeChannelsOnAir:     "Channels On Air",
		TypePrecisePosition:   "Precise Position",
		TypeMasterHandoffReq:  "Master Handoff Request",
		TypeMasterHandoffResp: "Master Handoff Response",
		TypeBeat:              "Beat",
		TypeSyncControl:       "Sync Control",
	},
	PortUpdate: {
		TypeMediaQuery:          "Media Query",
		TypeMediaResponse:       "Media Response",
		TypeCDJStatus:           "CDJ Status",
		TypeRekordboxLightHello: "Rekordbox Lighting Hello",
		TypeLoadTrackCommand:    "Load Track Command",
		TypeLoadTrackAck:        "Load Track Acknowledgment",
		TypeMixerStatus:         "Mixer Status",
		TypeLoadSettingsCommand: "Load Settings Command",
		TypeOpusMetadata:        "OPUS Metadata",
	},
}

// Lookup returns the human-readable name of a (port, type) pair, and
// whether it is recognized at all. Unknown pairs should be dropped by
// the caller, never propagated.
func Lookup(port Port, t Type) (name string, known bool) {
	byType, ok := portTypeName[port]
	if !ok {
		return "", false
	}
	name, known = byType[t]
	return name, known
}

// TooShortError reports that a packet did not carry enough bytes for its
// claimed type.
type TooShortError struct {
	Expected int
	Actual   int
}

func (e *TooShortError) Error() string {
	return fmt.Sprintf("packet too short: expected %d bytes, got %d", e.Expected, e.Actual)
}

// ErrBadHeader is returned when a packet does not start with the DJ Link
// magic prefix.
var ErrBadHeader = fmt.Errorf("packet does not start with the DJ Link header")

// ErrWrongType is returned when the byte at offset 0x0a does not match the
// type the caller expected to decode.
var ErrWrongType = fmt.Errorf("packet type byte does not match expected type")

// TypeByteOffset is the offset of the packet-type discriminator.
const TypeByteOffset = 0x0a

// CheckHeader validates the magic prefix and returns the packet's type
// byte. It never reads past TypeByteOffset, so it is safe on a 0..11 byte
// buffer check first.
func CheckHeader(buf []byte) (Type, error) {
	if len(buf) <= TypeByteOffset {
		return 0, &TooShortError{Expected: TypeByteOffset + 1, Actual: len(buf)}
	}
	if !bytes.HasPrefix(buf, Magic) {
		return 0, ErrBadHeader
	}
	return Type(buf[TypeByteOffset]), nil
}
