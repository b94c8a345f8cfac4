package packet

import (
	"net"
	"time"
)

// MixerStatusLen is the fixed size of a mixer status packet.
const MixerStatusLen = 56

const (
	offMixName        = 0x0b
	lenMixName        = 20
	offMixDeviceID    = 0x21
	offMixStatusFlags = 0x27
	offMixBPM         = 0x2e
)

// MixerStatus is a decoded mixer status packet (port 50002). Mixers
// report a neutral pitch and their beat-within-bar field is meaningless.
type MixerStatus struct {
	Sender      net.IP
	ReceivedAt  time.Time
	DeviceName  string
	DeviceID    DeviceID
	StatusFlags uint8
	BPMTimes100 uint16
}

func (s *MixerStatus) Playing() bool { return s.StatusFlags&FlagPlaying != 0 }
func (s *MixerStatus) Master() bool  { return s.StatusFlags&FlagMaster != 0 }
func (s *MixerStatus) Synced() bool  { return s.StatusFlags&FlagSynced != 0 }
func (s *MixerStatus) OnAir() bool   { return s.StatusFlags&FlagOnAir != 0 }

// Pitch is always neutral for a mixer.
func (s *MixerStatus) Pitch() int32 { return NeutralPitch }

// EffectiveBPM returns BPM x 1.0 since mixers never scale tempo.
func (s *MixerStatus) EffectiveBPM() float64 { return float64(s.BPMTimes100) / 100.0 }

// DecodeMixerStatus parses a mixer status packet.
func DecodeMixerStatus(buf []byte, sender net.IP, receivedAt time.Time) (*MixerStatus, error) {
	if len(buf) != MixerStatusLen {
		return nil, &TooShortError{Expected: MixerStatusLen, Actual: len(buf)}
	}
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	if t != TypeMixerStatus {
		return nil, ErrWrongType
	}

	return &MixerStatus{
		Sender:      sender,
		ReceivedAt:  receivedAt,
		DeviceName:  FixedString(buf, offMixName, lenMixName),
		DeviceID:    DeviceID(buf[offMixDeviceID]),
		StatusFlags: buf[offMixStatusFlags],
		BPMTimes100: Uint16BE(buf, offMixBPM),
	}, nil
}

// EncodeMixerStatus serializes a mixer status packet.
func EncodeMixerStatus(s *MixerStatus) []byte {
	buf := make([]byte, MixerStatusLen)
	copy(buf[:len(Magic)], Magic)
	buf[TypeByteOffset] = byte(TypeMixerStatus)
	PutFixedString(buf, offMixName, lenMixName, s.DeviceName)
	buf[offMixDeviceID] = byte(s.DeviceID)
	buf[offMixStatusFlags] = s.StatusFlags
	putUint16BE(buf, offMixBPM, s.BPMTimes100)
	return buf
}
