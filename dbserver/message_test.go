package dbserver

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := &Message{
		Transaction: 0x12345678,
		Type:        RekordboxMetadataReq,
		Arguments: []Field{
			NewNumberField(3),
			NewNumberField(0x02),
			StringField{Value: "track"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))

	decoded, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, msg.Transaction, decoded.Transaction)
	require.Equal(t, msg.Type, decoded.Type)
	require.Len(t, decoded.Arguments, 3)

	n0, ok := decoded.Arguments[0].(NumberField)
	require.True(t, ok)
	require.Equal(t, uint32(3), n0.Value)

	s2, ok := decoded.Arguments[2].(StringField)
	require.True(t, ok)
	require.Equal(t, "track", s2.Value)
}

func TestReadMessageBadMagicErrors(t *testing.T) {
	buf := bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x00, 0, 0, 0, 1, 0, 0, 0})
	_, err := ReadMessage(buf)
	require.Error(t, err)
}

func TestMenuResultsCountSentinelMeansZero(t *testing.T) {
	m := &Message{
		Type: MenuAvailable,
		Arguments: []Field{
			NewNumberField(1),
			NewNumberField(NoMenuResultsAvailable),
		},
	}
	n, ok := m.MenuResultsCount()
	require.True(t, ok)
	require.Equal(t, 0, n)
}

func TestMenuResultsCountNormalValue(t *testing.T) {
	m := &Message{
		Type: MenuAvailable,
		Arguments: []Field{
			NewNumberField(1),
			NewNumberField(5),
		},
	}
	n, ok := m.MenuResultsCount()
	require.True(t, ok)
	require.Equal(t, 5, n)
}

// TestReplayCapturedMenuExchange simulates a server replying to a
// REKORDBOX_METADATA_REQ with MENU_HEADER, five MENU_ITEM messages, and
// MENU_FOOTER, confirming a byte-for-byte replay reconstructs every field.
func TestReplayCapturedMenuExchange(t *testing.T) {
	var wire bytes.Buffer

	header := &Message{Transaction: 1, Type: MenuHeader}
	require.NoError(t, header.Write(&wire))

	for i := 0; i < 5; i++ {
		item := &Message{
			Transaction: 1,
			Type:        MenuItem,
			Arguments: []Field{
				NewNumberField(uint32(i)),
				NewNumberField(0),
				StringField{Value: "Track"},
				StringField{Value: ""},
				NewNumberField(0),
				NewNumberField(0),
				NewNumberField(uint32(MenuItemTrackTitle)),
			},
		}
		require.NoError(t, item.Write(&wire))
	}

	footer := &Message{Transaction: 1, Type: MenuFooter}
	require.NoError(t, footer.Write(&wire))

	var items []*Message
	for {
		m, err := ReadMessage(&wire)
		require.NoError(t, err)
		if m.Type == MenuFooter {
			break
		}
		if m.Type == MenuItem {
			items = append(items, m)
		}
	}
	require.Len(t, items, 5)
	for i, m := range items {
		n, ok := m.Arguments[0].(NumberField)
		require.True(t, ok)
		require.Equal(t, uint32(i), n.Value)
		typ, ok := m.MenuItemType()
		require.True(t, ok)
		require.Equal(t, MenuItemTrackTitle, typ)
	}
}
