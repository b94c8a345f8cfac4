package packet

import "net"

// ClaimPacket is the shared shape of the announcement-port packets used
// during the three-stage device-number claim (and the defense packet
// sent against a number already in use). Not every field is meaningful
// for every Type; see vplayer's claim state machine for which ones are
// read/written at each stage.
type ClaimPacket struct {
	Type        Type
	DeviceName  string
	MAC         net.HardwareAddr
	IP          net.IP
	Stage       uint8    // 1..3 for the three broadcast repeats of a stage
	Preference  uint8    // assignment-request preference byte
	ProposedID  DeviceID // the number being claimed/defended/assigned
}

const (
	offClaimSubtype = 0x0b
	offClaimName    = 0x0c
	lenClaimName    = 20
	offClaimMAC     = 0x20
	offClaimStage   = 0x26
	offClaimPropID  = 0x27
	offClaimIP      = 0x28
	claimLen        = 0x2c
)

// EncodeClaim serializes a claim/negotiation packet.
func EncodeClaim(p *ClaimPacket) []byte {
	buf := make([]byte, claimLen)
	copy(buf[:len(Magic)], Magic)
	buf[TypeByteOffset] = byte(p.Type)
	buf[offClaimSubtype] = 0x04
	PutFixedString(buf, offClaimName, lenClaimName, p.DeviceName)
	if p.MAC != nil {
		copy(buf[offClaimMAC:offClaimMAC+6], p.MAC[:6])
	}
	buf[offClaimStage] = p.Stage
	buf[offClaimPropID] = byte(p.ProposedID)
	if ip4 := p.IP.To4(); ip4 != nil {
		copy(buf[offClaimIP:offClaimIP+4], ip4)
	}
	// The preference byte is written into the stage slot itself, replacing
	// the stage value, so assignment requests (which have no stage
	// counter) can still carry it; DecodeClaim reads both from that slot.
	if p.Type == TypeDeviceNumberWillAssign || p.Preference != 0 {
		buf[offClaimStage] = p.Preference
	}
	return buf
}

// DecodeClaim parses a claim/negotiation packet addressed to the
// announcement port's negotiation types.
func DecodeClaim(buf []byte) (*ClaimPacket, error) {
	if len(buf) < claimLen {
		return nil, &TooShortError{Expected: claimLen, Actual: len(buf)}
	}
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeDeviceNumberStage1, TypeDeviceNumberWillAssign, TypeDeviceNumberStage2,
		TypeDeviceNumberAssign, TypeDeviceNumberStage3, TypeDeviceNumberAssignmentFinish,
		TypeDeviceNumberInUse:
	default:
		return nil, ErrWrongType
	}

	return &ClaimPacket{
		Type:       t,
		DeviceName: FixedString(buf, offClaimName, lenClaimName),
		MAC:        MACAddr(buf, offClaimMAC),
		IP:         IPv4(buf, offClaimIP),
		Stage:      buf[offClaimStage],
		Preference: buf[offClaimStage],
		ProposedID: DeviceID(buf[offClaimPropID]),
	}, nil
}
