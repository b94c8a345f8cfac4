package packet

import (
	"net"
	"time"
)

// CDJStatusMinLen is the minimum size of a CDJ status packet.
const CDJStatusMinLen = 204

// Status-flag bits (offset 0x89).
const (
	FlagPlaying     = 0x40
	FlagMaster      = 0x20
	FlagSynced      = 0x10
	FlagOnAir       = 0x08
	FlagBPMOnlySync = 0x02
)

// NoHandoffTarget is the master-handoff-target sentinel meaning "no
// pending handoff".
const NoHandoffTarget = 0xff

const (
	offCDJName          = 0x0b
	lenCDJName          = 20
	offCDJDeviceID      = 0x21
	offCDJTrackPlayer   = 0x28
	offCDJTrackSlot     = 0x29
	offCDJTrackType     = 0x2a
	offCDJRekordboxID   = 0x2c
	offCDJPlayState     = 0x7b
	offCDJStatusFlags   = 0x89
	offCDJPitch         = 0x8d
	offCDJBPM           = 0x92
	offCDJHandoffTarget = 0x9f
	offCDJBeatWithin    = 0xa6
)

// CDJStatus is a decoded CDJ status packet (port 50002).
type CDJStatus struct {
	Sender        net.IP
	ReceivedAt    time.Time
	DeviceName    string
	DeviceID      DeviceID
	TrackPlayer   DeviceID
	TrackSlot     TrackSourceSlot
	TrackType     TrackType
	RekordboxID   uint32
	PlayState     PlayState
	StatusFlags   uint8
	Pitch         int32
	BPMTimes100   uint16
	HandoffTarget DeviceID // NoHandoffTarget if none
	BeatWithinBar uint8
}

// Playing reports the playing status bit.
func (s *CDJStatus) Playing() bool { return s.StatusFlags&FlagPlaying != 0 }

// Master reports the tempo-master status bit.
func (s *CDJStatus) Master() bool { return s.StatusFlags&FlagMaster != 0 }

// Synced reports the sync status bit.
func (s *CDJStatus) Synced() bool { return s.StatusFlags&FlagSynced != 0 }

// OnAir reports the on-air status bit.
func (s *CDJStatus) OnAir() bool { return s.StatusFlags&FlagOnAir != 0 }

// BPMOnlySynced reports the bpm-only-sync status bit.
func (s *CDJStatus) BPMOnlySynced() bool { return s.StatusFlags&FlagBPMOnlySync != 0 }

// YieldingTo reports the device number this status is handing master off
// to, and whether a handoff is pending at all.
func (s *CDJStatus) YieldingTo() (DeviceID, bool) {
	if s.HandoffTarget == NoHandoffTarget {
		return 0, false
	}
	return s.HandoffTarget, true
}

// EffectiveBPM returns BPM x pitch-multiplier.
func (s *CDJStatus) EffectiveBPM() float64 { return EffectiveTempo(s.BPMTimes100, s.Pitch) }

// DecodeCDJStatus parses a CDJ status packet.
func DecodeCDJStatus(buf []byte, sender net.IP, receivedAt time.Time) (*CDJStatus, error) {
	if len(buf) < CDJStatusMinLen {
		return nil, &TooShortError{Expected: CDJStatusMinLen, Actual: len(buf)}
	}
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	if t != TypeCDJStatus {
		return nil, ErrWrongType
	}

	return &CDJStatus{
		Sender:        sender,
		ReceivedAt:    receivedAt,
		DeviceName:    FixedString(buf, offCDJName, lenCDJName),
		DeviceID:      DeviceID(buf[offCDJDeviceID]),
		TrackPlayer:   DeviceID(buf[offCDJTrackPlayer]),
		TrackSlot:     TrackSourceSlot(buf[offCDJTrackSlot]),
		TrackType:     TrackType(buf[offCDJTrackType]),
		RekordboxID:   Uint32BE(buf, offCDJRekordboxID),
		PlayState:     PlayState(buf[offCDJPlayState]),
		StatusFlags:   buf[offCDJStatusFlags],
		Pitch:         int32(Uint32BE(buf, offCDJPitch)),
		BPMTimes100:   Uint16BE(buf, offCDJBPM),
		HandoffTarget: DeviceID(buf[offCDJHandoffTarget]),
		BeatWithinBar: buf[offCDJBeatWithin],
	}, nil
}

// EncodeCDJStatus serializes a CDJ status packet of CDJStatusMinLen bytes.
func EncodeCDJStatus(s *CDJStatus) []byte {
	buf := make([]byte, CDJStatusMinLen)
	copy(buf[:len(Magic)], Magic)
	buf[TypeByteOffset] = byte(TypeCDJStatus)
	PutFixedString(buf, offCDJName, lenCDJName, s.DeviceName)
	buf[offCDJDeviceID] = byte(s.DeviceID)
	buf[offCDJTrackPlayer] = byte(s.TrackPlayer)
	buf[offCDJTrackSlot] = byte(s.TrackSlot)
	buf[offCDJTrackType] = byte(s.TrackType)
	putUint32BE(buf, offCDJRekordboxID, s.RekordboxID)
	buf[offCDJPlayState] = byte(s.PlayState)
	buf[offCDJStatusFlags] = s.StatusFlags
	putUint32BE(buf, offCDJPitch, uint32(s.Pitch))
	putUint16BE(buf, offCDJBPM, s.BPMTimes100)
	buf[offCDJHandoffTarget] = byte(s.HandoffTarget)
	buf[offCDJBeatWithin] = s.BeatWithinBar
	return buf
}
