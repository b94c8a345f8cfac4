package packet

// OpusLogicalDeviceIDs is the fixed table Opus Quad / XDJ-AZ hardware
// translates to: one physical address, four logical player numbers.
var OpusLogicalDeviceIDs = []DeviceID{1, 2, 3, 4}

// opusRawChannelBase is the raw per-channel device number an Opus Quad or
// XDJ-AZ reports on the wire (9..12); TranslateOpusPlayerNumber maps that
// range down to the logical 1..4 player numbers the rest of this codec
// uses everywhere else.
const opusRawChannelBase = 8

// TranslateOpusPlayerNumber maps a raw device number as seen in an
// OPUS_METADATA packet to the logical player number (1..4) it belongs to.
// Numbers already in 1..4 pass through unchanged.
func TranslateOpusPlayerNumber(raw byte) DeviceID {
	if raw > opusRawChannelBase && int(raw)-opusRawChannelBase <= len(OpusLogicalDeviceIDs) {
		return DeviceID(int(raw) - opusRawChannelBase)
	}
	return DeviceID(raw)
}

// OpusMetadataType distinguishes the payload kinds multiplexed over the
// OPUS_METADATA packet; only PSSI (song structure) is processed today.
type OpusMetadataType byte

const OpusMetadataTypePSSI OpusMetadataType = 10

// OpusFragment is one piece of a reassembled OPUS_METADATA (PSSI)
// response. Replies to a PSSI request arrive as a sequence of these,
// each carrying a running packet number and the total fragment count;
// the caller reassembles complete payloads once packetNumber==packetCount-1.
type OpusFragment struct {
	PlayerNumber DeviceID
	RekordboxID  uint32
	MetadataType OpusMetadataType
	PacketNumber byte
	PacketCount  byte
	Payload      []byte
}

// OPUS_METADATA field offsets, transcribed from the reference
// implementation's virtual-rekordbox packet switch: raw player number,
// metadata-type tag, the rekordbox ID the data concerns, then a
// packet-number/total-count pair immediately before the payload.
const (
	offOpusPlayer      = 0x21
	offOpusMetaType    = 0x25
	offOpusRekordboxID = 0x28
	offOpusPacketNum   = 0x31
	offOpusPacketCnt   = 0x33
	offOpusPayload     = 0x34
)

// DecodeOpusFragment parses one OPUS_METADATA fragment. PacketCount is
// the reported total-packets-plus-one value as it appears on the wire;
// callers compare PacketNumber against PacketCount-1 for completion.
func DecodeOpusFragment(buf []byte) (*OpusFragment, error) {
	if len(buf) <= offOpusPayload {
		return nil, &TooShortError{Expected: offOpusPayload + 1, Actual: len(buf)}
	}
	t, err := CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	if t != TypeOpusMetadata {
		return nil, ErrWrongType
	}
	return &OpusFragment{
		PlayerNumber: TranslateOpusPlayerNumber(buf[offOpusPlayer]),
		MetadataType: OpusMetadataType(buf[offOpusMetaType]),
		RekordboxID:  Uint32BE(buf, offOpusRekordboxID),
		PacketNumber: buf[offOpusPacketNum],
		PacketCount:  buf[offOpusPacketCnt],
		Payload:      append([]byte(nil), buf[offOpusPayload:]...),
	}, nil
}

// requestPssiBytes is the fixed PSSI-request packet a virtual rekordbox
// node broadcasts to the update port to ask every Opus Quad / XDJ-AZ on
// the LAN for the song-structure data of whatever is currently loaded.
var requestPssiBytes = []byte{
	0x51, 0x73, 0x70, 0x74, 0x31, 0x57, 0x6d, 0x4a, 0x4f, 0x4c, 0x55, 0x72, 0x65, 0x6b, 0x6f, 0x72,
	0x64, 0x62, 0x6f, 0x78, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
	0x00, 0x17, 0x00, 0x08, 0x36, 0x00, 0x00, 0x00, 0x0a, 0x02, 0x03, 0x01,
}

// EncodeRequestPssi returns the literal request packet; it carries no
// per-call fields and never varies.
func EncodeRequestPssi() []byte {
	return append([]byte(nil), requestPssiBytes...)
}
