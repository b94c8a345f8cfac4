package dbserver

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the 4-byte sentinel that opens every message.
var Magic = [4]byte{0xfa, 0xfb, 0xfc, 0xfd}

// NoMenuResultsAvailable is the sentinel argument value a MENU_AVAILABLE
// response carries when a query produced zero results.
const NoMenuResultsAvailable = 0xffffffff

// KnownType is the closed set of message-type codes the protocol defines.
// Values are bit-exact with the reference implementation's KnownType table;
// a value outside this set is still transmitted and parsed (as a raw
// uint16), just not named.
type KnownType uint16

const (
	SetupReq    KnownType = 0x0000
	InvalidData KnownType = 0x0001
	TeardownReq KnownType = 0x0100

	RootMenuReq     KnownType = 0x1000
	GenreMenuReq    KnownType = 0x1001
	ArtistMenuReq   KnownType = 0x1002
	AlbumMenuReq    KnownType = 0x1003
	TrackMenuReq    KnownType = 0x1004
	BPMMenuReq      KnownType = 0x1006
	RatingMenuReq   KnownType = 0x1007
	YearMenuReq     KnownType = 0x1008
	LabelMenuReq    KnownType = 0x100a
	ColorMenuReq    KnownType = 0x100d
	TimeMenuReq     KnownType = 0x1010
	BitRateMenuReq  KnownType = 0x1011
	HistoryMenuReq  KnownType = 0x1012
	FilenameMenuReq KnownType = 0x1013
	KeyMenuReq      KnownType = 0x1014
	FolderMenuReq   KnownType = 0x2006
	SearchMenuReq   KnownType = 0x1300

	PlaylistMenuReq            KnownType = 0x1105
	OriginalArtistMenuReq      KnownType = 0x1302
	RemixerMenuReq             KnownType = 0x1602
	TrackMenuReqForArtistAlbum KnownType = 0x1202
	CueListReq                 KnownType = 0x2104
	AnlzTagReq                 KnownType = 0x2c04

	RekordboxMetadataReq KnownType = 0x2002
	AlbumArtReq          KnownType = 0x2003
	WavePreviewReq       KnownType = 0x2004
	BeatGridReq          KnownType = 0x2204
	WaveDetailReq        KnownType = 0x2904
	CueListExtReq        KnownType = 0x2b04

	RenderMenuReq KnownType = 0x3000

	MenuAvailable KnownType = 0x4000
	MenuHeader    KnownType = 0x4001
	MenuItem      KnownType = 0x4101
	MenuFooter    KnownType = 0x4201

	AlbumArt    KnownType = 0x4002
	Unavailable KnownType = 0x4003
	WavePreview KnownType = 0x4402
	BeatGrid    KnownType = 0x4602
	CueList     KnownType = 0x4702
	WaveDetail  KnownType = 0x4a02
	CueListExt  KnownType = 0x4e02
	AnlzTag     KnownType = 0x4f02
)

// ANLZ file-tag magic constants, read after the 4-byte ANLZ section
// header's fourcc and length fields.
const (
	AnlzFileTagSongStructure = 0x49535350 // "PSSI" when viewed as ASCII
	AnlzFileTagCueComment    = 0x324f4350 // "PCO2"
)

// MenuItemType enumerates the item kind carried by a MENU_ITEM response;
// it is read out of the item's seventh argument (index 6).
type MenuItemType uint32

const (
	MenuItemFolder     MenuItemType = 0x01
	MenuItemAlbumTitle MenuItemType = 0x02
	MenuItemDisc       MenuItemType = 0x03
	MenuItemTrackTitle MenuItemType = 0x04
	MenuItemGenre      MenuItemType = 0x06
	MenuItemArtist     MenuItemType = 0x07
	MenuItemPlaylist   MenuItemType = 0x08
	MenuItemRating     MenuItemType = 0x0a
	MenuItemDuration   MenuItemType = 0x0b
	MenuItemTempo      MenuItemType = 0x0d
	MenuItemKey        MenuItemType = 0x0f
	MenuItemColorNone  MenuItemType = 0x13
	MenuItemYear       MenuItemType = 0x17
	MenuItemLabel      MenuItemType = 0x1a
	MenuItemBitRate    MenuItemType = 0x1d
	MenuItemHistory    MenuItemType = 0x1e
	MenuItemFilename   MenuItemType = 0x2e
	MenuItemUnknown    MenuItemType = 0xffffffff
)

// MenuIdentifier distinguishes which media slot/track-type a menu request
// addresses, folded into the composite request number a caller builds.
type MenuIdentifier uint32

const (
	MenuIdentifierMainMenu MenuIdentifier = 0x00
	MenuIdentifierSubMenu  MenuIdentifier = 0x01
)

// Message is one framed dbserver request or response.
type Message struct {
	Transaction uint32
	Type        KnownType
	Arguments   []Field
}

// argSlots is the fixed width of the argument-type array that follows the
// argument-count byte, regardless of how many arguments are actually
// present.
const argSlots = 12

// Write encodes m onto w: magic, transaction, type, argument count, the
// 12-byte argument-type array, then each argument's own self-delimiting
// encoding.
func (m *Message) Write(w io.Writer) error {
	if len(m.Arguments) > argSlots {
		return fmt.Errorf("dbserver: %d arguments exceeds the %d-slot argument array", len(m.Arguments), argSlots)
	}

	buf := make([]byte, 0, 16+argSlots)
	buf = append(buf, Magic[:]...)

	txn := make([]byte, 4)
	binary.BigEndian.PutUint32(txn, m.Transaction)
	buf = append(buf, txn...)

	typ := make([]byte, 2)
	binary.BigEndian.PutUint16(typ, uint16(m.Type))
	buf = append(buf, typ...)

	buf = append(buf, byte(len(m.Arguments)))

	argTypes := make([]byte, argSlots)
	for i, a := range m.Arguments {
		argTypes[i] = a.ArgTag()
	}
	buf = append(buf, argTypes...)

	for _, a := range m.Arguments {
		buf = a.Encode(buf)
	}

	_, err := w.Write(buf)
	return err
}

// ReadMessage decodes one framed message from r. A mismatched magic is a
// protocol violation; the caller should treat it as fatal for the
// connection, since the stream can no longer be trusted to be
// message-aligned.
func ReadMessage(r io.Reader) (*Message, error) {
	var header [11]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	if header[0] != Magic[0] || header[1] != Magic[1] || header[2] != Magic[2] || header[3] != Magic[3] {
		return nil, fmt.Errorf("dbserver: bad magic %x, stream desynchronized", header[:4])
	}

	m := &Message{
		Transaction: binary.BigEndian.Uint32(header[4:8]),
		Type:        KnownType(binary.BigEndian.Uint16(header[8:10])),
	}
	argCount := int(header[10])

	var argTypes [argSlots]byte
	if _, err := io.ReadFull(r, argTypes[:]); err != nil {
		return nil, err
	}

	m.Arguments = make([]Field, 0, argCount)
	for i := 0; i < argCount; i++ {
		f, err := ReadField(r)
		if err != nil {
			return nil, fmt.Errorf("dbserver: reading argument %d: %w", i, err)
		}
		m.Arguments = append(m.Arguments, f)
	}
	return m, nil
}

// MenuResultsCount reads the item count out of a MENU_AVAILABLE response's
// second argument, translating the protocol's "no results" sentinel to 0.
func (m *Message) MenuResultsCount() (int, bool) {
	if len(m.Arguments) < 2 {
		return 0, false
	}
	n, ok := m.Arguments[1].(NumberField)
	if !ok {
		return 0, false
	}
	if n.Value == NoMenuResultsAvailable {
		return 0, true
	}
	return int(n.Value), true
}

// MenuItemType reads the item-kind out of a MENU_ITEM response's seventh
// argument (index 6).
func (m *Message) MenuItemType() (MenuItemType, bool) {
	if len(m.Arguments) < 7 {
		return 0, false
	}
	n, ok := m.Arguments[6].(NumberField)
	if !ok {
		return 0, false
	}
	return MenuItemType(n.Value), true
}
