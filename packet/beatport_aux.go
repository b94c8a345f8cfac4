package packet

import "net"

// ChannelsOnAirLen is the fixed size of a Channels-On-Air packet.
const ChannelsOnAirLen = 0x28

// ChannelsOnAir reports which of the four mixer channels currently have
// their fader/crossfader routed "on air".
type ChannelsOnAir struct {
	Sender   net.IP
	OnAir    [4]bool
}

const offChannelsOnAirFlags = 0x24

// DecodeChannelsOnAir parses a Channels-On-Air packet. The byte map below
// is not given by the protocol reference; it follows the same
// name-then-fixed-fields layout every other beat-port packet in this
// codec uses, with one flag byte per channel starting where the
// forward-looking Beat fields would begin.
func DecodeChannelsOnAir(buf []byte, sender net.IP) (*ChannelsOnAir, error) {
	if len(buf) < ChannelsOnAirLen {
		return nil, &TooShortError{Expected: ChannelsOnAirLen, Actual: len(buf)}
	}
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	if t != TypeChannelsOnAir {
		return nil, ErrWrongType
	}
	var c ChannelsOnAir
	c.Sender = sender
	for i := 0; i < 4; i++ {
		c.OnAir[i] = buf[offChannelsOnAirFlags+i] != 0
	}
	return &c, nil
}

// FaderStartLen is the fixed size of a Fader Start Command packet.
const FaderStartLen = 0x28

// FaderChannelCommand is the per-channel instruction carried by a
// Fader Start Command: start playback, stop playback, or leave the
// channel's transport state untouched.
type FaderChannelCommand uint8

const (
	FaderStart  FaderChannelCommand = 0
	FaderStop   FaderChannelCommand = 1
	FaderIgnore FaderChannelCommand = 2
)

// FaderStartCommand is a decoded Fader Start Command packet: one
// instruction per mixer channel.
type FaderStartCommand struct {
	Sender   net.IP
	Channels [4]FaderChannelCommand
}

const offFaderStartFlags = 0x24

// DecodeFaderStartCommand parses a Fader Start Command packet.
func DecodeFaderStartCommand(buf []byte, sender net.IP) (*FaderStartCommand, error) {
	if len(buf) < FaderStartLen {
		return nil, &TooShortError{Expected: FaderStartLen, Actual: len(buf)}
	}
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	if t != TypeFaderStartCommand {
		return nil, ErrWrongType
	}
	var c FaderStartCommand
	c.Sender = sender
	for i := 0; i < 4; i++ {
		c.Channels[i] = FaderChannelCommand(buf[offFaderStartFlags+i])
	}
	return &c, nil
}

// SyncControlLen is the fixed size of a Sync Control packet.
const SyncControlLen = 0x25

// SyncCommand is the instruction carried by a Sync Control packet.
type SyncCommand uint8

const (
	SyncCommandOn          SyncCommand = 0x10
	SyncCommandOff         SyncCommand = 0x20
	SyncCommandBecomeMaster SyncCommand = 0x01
)

// SyncControl targets one device with a sync-on/sync-off/become-master
// instruction.
type SyncControl struct {
	Sender  net.IP
	Target  DeviceID
	Command SyncCommand
}

const (
	offSyncTarget  = 0x21
	offSyncCommand = 0x24
)

// DecodeSyncControl parses a Sync Control packet.
func DecodeSyncControl(buf []byte, sender net.IP) (*SyncControl, error) {
	if len(buf) < SyncControlLen {
		return nil, &TooShortError{Expected: SyncControlLen, Actual: len(buf)}
	}
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	if t != TypeSyncControl {
		return nil, ErrWrongType
	}
	return &SyncControl{
		Sender:  sender,
		Target:  DeviceID(buf[offSyncTarget]),
		Command: SyncCommand(buf[offSyncCommand]),
	}, nil
}

// EncodeSyncControl serializes a Sync Control packet addressed to a
// specific target device.
func EncodeSyncControl(target DeviceID, cmd SyncCommand) []byte {
	buf := make([]byte, SyncControlLen)
	copy(buf[:len(Magic)], Magic)
	buf[TypeByteOffset] = byte(TypeSyncControl)
	buf[offSyncTarget] = byte(target)
	buf[offSyncCommand] = byte(cmd)
	return buf
}

// MasterHandoffLen is the fixed size of both handoff request and
// response packets; they share a layout and differ only by type byte
// and the yielded flag (meaningful on responses only).
const MasterHandoffLen = 0x25

// MasterHandoffRequest asks the current tempo master to yield the role
// to the sender.
type MasterHandoffRequest struct {
	Sender net.IP
	From   DeviceID
}

// MasterHandoffResponse answers a handoff request.
type MasterHandoffResponse struct {
	Sender  net.IP
	From    DeviceID
	Yielded bool
}

const (
	offHandoffDeviceID = 0x21
	offHandoffYielded  = 0x24
)

// DecodeMasterHandoffRequest parses a Master Handoff Request packet.
func DecodeMasterHandoffRequest(buf []byte, sender net.IP) (*MasterHandoffRequest, error) {
	if len(buf) < MasterHandoffLen {
		return nil, &TooShortError{Expected: MasterHandoffLen, Actual: len(buf)}
	}
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	if t != TypeMasterHandoffReq {
		return nil, ErrWrongType
	}
	return &MasterHandoffRequest{Sender: sender, From: DeviceID(buf[offHandoffDeviceID])}, nil
}

// EncodeMasterHandoffRequest serializes a Master Handoff Request packet
// naming the requesting device number.
func EncodeMasterHandoffRequest(from DeviceID) []byte {
	buf := make([]byte, MasterHandoffLen)
	copy(buf[:len(Magic)], Magic)
	buf[TypeByteOffset] = byte(TypeMasterHandoffReq)
	buf[offHandoffDeviceID] = byte(from)
	return buf
}

// DecodeMasterHandoffResponse parses a Master Handoff Response packet.
func DecodeMasterHandoffResponse(buf []byte, sender net.IP) (*MasterHandoffResponse, error) {
	if len(buf) < MasterHandoffLen {
		return nil, &TooShortError{Expected: MasterHandoffLen, Actual: len(buf)}
	}
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	if t != TypeMasterHandoffResp {
		return nil, ErrWrongType
	}
	return &MasterHandoffResponse{
		Sender:  sender,
		From:    DeviceID(buf[offHandoffDeviceID]),
		Yielded: buf[offHandoffYielded] != 0,
	}, nil
}

// EncodeMasterHandoffResponse serializes a Master Handoff Response
// packet.
func EncodeMasterHandoffResponse(from DeviceID, yielded bool) []byte {
	buf := make([]byte, MasterHandoffLen)
	copy(buf[:len(Magic)], Magic)
	buf[TypeByteOffset] = byte(TypeMasterHandoffResp)
	buf[offHandoffDeviceID] = byte(from)
	if yielded {
		buf[offHandoffYielded] = 1
	}
	return buf
}
