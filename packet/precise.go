package packet

import (
	"encoding/binary"
	"net"
	"time"
)

// PrecisePositionLen is the fixed size of a precise-position packet,
// reported by CDJ-3000-and-later hardware.
const PrecisePositionLen = 60

const (
	offPPDeviceID   = 0x21
	offPPTrackLenMs = 0x24
	offPPPositionMs = 0x28
	offPPPitchPctX100 = 0x2c
	offPPBPMTimes1000 = 0x2e
)

// PrecisePosition is a decoded precise-position packet (port 50001).
type PrecisePosition struct {
	Sender        net.IP
	ReceivedAt    time.Time
	DeviceID      DeviceID
	TrackLengthMs uint32
	PositionMs    uint32
	PitchPercent  float64 // signed percentage, e.g. -6.00..+6.00
	BPMTimes1000  uint32
}

// DecodePrecisePosition parses a precise-position packet.
func DecodePrecisePosition(buf []byte, sender net.IP, receivedAt time.Time) (*PrecisePosition, error) {
	if len(buf) != PrecisePositionLen {
		return nil, &TooShortError{Expected: PrecisePositionLen, Actual: len(buf)}
	}
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	if t != TypePrecisePosition {
		return nil, ErrWrongType
	}

	pitchRaw := int16(binary.BigEndian.Uint16(buf[offPPPitchPctX100 : offPPPitchPctX100+2]))

	return &PrecisePosition{
		Sender:        sender,
		ReceivedAt:    receivedAt,
		DeviceID:      DeviceID(buf[offPPDeviceID]),
		TrackLengthMs: Uint32BE(buf, offPPTrackLenMs),
		PositionMs:    Uint32BE(buf, offPPPositionMs),
		PitchPercent:  float64(pitchRaw) / 100.0,
		BPMTimes1000:  Uint32BE(buf, offPPBPMTimes1000),
	}, nil
}
