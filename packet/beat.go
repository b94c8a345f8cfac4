package packet

import (
	"encoding/binary"
	"net"
	"time"
)

// BeatLen is the fixed size of a Beat packet.
const BeatLen = 96

// NoBeatYet is the sentinel value for the "time until next beat/bar"
// forward-looking fields, meaning "not before the end of the track".
const NoBeatYet = 0xffffffff

// Beat is a decoded Beat packet (port 50001). It carries the sender's
// pitch/tempo at the instant of the beat plus six forward-looking
// millisecond offsets that followers use to predict upcoming
// beats/bars without waiting for them to arrive.
type Beat struct {
	Sender         net.IP
	ReceivedAt     time.Time
	DeviceName     string
	DeviceID       DeviceID
	Pitch          int32 // raw, centered at NeutralPitch
	BPMTimes100    uint16
	BeatWithinBar  uint8
	NextBeat       uint32 // ms until the next beat, NoBeatYet if unknown
	SecondBeat     uint32
	NextBar        uint32
	FourthBeat     uint32
	SecondBar      uint32
	EighthBeat     uint32
}

const (
	offBeatName     = 0x0b
	lenBeatName     = 20
	offBeatDeviceID = 0x21
	offBeatPitch    = 0x55
	offBeatBPM      = 0x5a
	offBeatWithin   = 0x5c
	offBeatForward  = 0x24 // first of the six 4-byte "time until" fields
)

// DecodeBeat parses a Beat packet.
func DecodeBeat(buf []byte, sender net.IP, receivedAt time.Time) (*Beat, error) {
	if len(buf) != BeatLen {
		return nil, &TooShortError{Expected: BeatLen, Actual: len(buf)}
	}
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	if t != TypeBeat {
		return nil, ErrWrongType
	}

	forward := make([]uint32, 6)
	for i := range forward {
		forward[i] = binary.BigEndian.Uint32(buf[offBeatForward+i*4 : offBeatForward+i*4+4])
	}

	return &Beat{
		Sender:        sender,
		ReceivedAt:    receivedAt,
		DeviceName:    FixedString(buf, offBeatName, lenBeatName),
		DeviceID:      DeviceID(buf[offBeatDeviceID]),
		Pitch:         Int24BE(buf, offBeatPitch),
		BPMTimes100:   Uint16BE(buf, offBeatBPM),
		BeatWithinBar: buf[offBeatWithin],
		NextBeat:      forward[0],
		SecondBeat:    forward[1],
		NextBar:       forward[2],
		FourthBeat:    forward[3],
		SecondBar:     forward[4],
		EighthBeat:    forward[5],
	}, nil
}

// EffectiveBPM returns BPM x pitch-multiplier for this beat.
func (b *Beat) EffectiveBPM() float64 { return EffectiveTempo(b.BPMTimes100, b.Pitch) }

// EncodeBeat serializes a Beat packet, the inverse of DecodeBeat. Fields
// not tracked by the caller (the six forward-looking offsets) may be
// left zero/NoBeatYet.
func EncodeBeat(b *Beat) []byte {
	buf := make([]byte, BeatLen)
	copy(buf[:len(Magic)], Magic)
	buf[TypeByteOffset] = byte(TypeBeat)
	PutFixedString(buf, offBeatName, lenBeatName, b.DeviceName)
	buf[offBeatDeviceID] = byte(b.DeviceID)

	forward := []uint32{b.NextBeat, b.SecondBeat, b.NextBar, b.FourthBeat, b.SecondBar, b.EighthBeat}
	for i, v := range forward {
		binary.BigEndian.PutUint32(buf[offBeatForward+i*4:offBeatForward+i*4+4], v)
	}

	pitch := uint32(b.Pitch) & 0x00ffffff
	buf[offBeatPitch] = byte(pitch >> 16)
	buf[offBeatPitch+1] = byte(pitch >> 8)
	buf[offBeatPitch+2] = byte(pitch)
	binary.BigEndian.PutUint16(buf[offBeatBPM:offBeatBPM+2], b.BPMTimes100)
	buf[offBeatWithin] = b.BeatWithinBar
	return buf
}
