package packet

import (
	"net"
	"time"
)

// DeviceUpdate is the sum type over the two update-port packet variants a
// device can send: *CDJStatus and *MixerStatus. It carries only the
// accessors both share; callers type-switch on the concrete type for
// everything else, per the "pattern-matched accessors over dynamic
// dispatch" design note.
type DeviceUpdate interface {
	// Address is the sender's network address.
	Address() net.IP
	// Number is the device number, translated for Opus hardware upstream
	// of decode (the decoder itself only ever sees the wire byte).
	Number() DeviceID
	// Name is the sending device's announced name.
	Name() string
	// When is the local receive timestamp.
	When() time.Time
}

func (s *CDJStatus) Address() net.IP { return s.Sender }
func (s *CDJStatus) Number() DeviceID { return s.DeviceID }
func (s *CDJStatus) Name() string    { return s.DeviceName }
func (s *CDJStatus) When() time.Time { return s.ReceivedAt }

func (s *MixerStatus) Address() net.IP { return s.Sender }
func (s *MixerStatus) Number() DeviceID { return s.DeviceID }
func (s *MixerStatus) Name() string    { return s.DeviceName }
func (s *MixerStatus) When() time.Time { return s.ReceivedAt }

// DecodeUpdate classifies and decodes a packet received on the update
// port (50002), returning the concrete *CDJStatus or *MixerStatus. Media
// query/response and load-track/settings packets are recognized by
// Lookup but are not decoded here; callers that need them should decode
// the narrower type directly.
func DecodeUpdate(buf []byte, sender net.IP, receivedAt time.Time) (DeviceUpdate, error) {
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	if _, known := Lookup(PortUpdate, t); !known {
		return nil, ErrWrongType
	}
	switch t {
	case TypeCDJStatus:
		return DecodeCDJStatus(buf, sender, receivedAt)
	case TypeMixerStatus:
		return DecodeMixerStatus(buf, sender, receivedAt)
	default:
		return nil, ErrWrongType
	}
}
