package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"prolink/dbserver"
)

func menuItem(kind dbserver.MenuItemType, number uint32, label string) *dbserver.Message {
	args := make([]dbserver.Field, 7)
	args[0] = dbserver.NumberField{}
	args[1] = dbserver.NumberField{Value: number}
	args[2] = dbserver.NumberField{}
	args[3] = dbserver.StringField{Value: label}
	args[4] = dbserver.NumberField{}
	args[5] = dbserver.NumberField{}
	args[6] = dbserver.NumberField{Value: uint32(kind)}
	return &dbserver.Message{Arguments: args}
}

func TestApplyMenuItemPopulatesKnownFields(t *testing.T) {
	md := &TrackMetadata{}

	applyMenuItem(md, menuItem(dbserver.MenuItemTrackTitle, 0, "Strobe"))
	applyMenuItem(md, menuItem(dbserver.MenuItemArtist, 0, "deadmau5"))
	applyMenuItem(md, menuItem(dbserver.MenuItemDuration, 635, ""))
	applyMenuItem(md, menuItem(dbserver.MenuItemTempo, 12800, ""))

	require.Equal(t, "Strobe", md.Title)
	require.Equal(t, "deadmau5", md.Artist)
	require.Equal(t, 635, md.Duration)
	require.Equal(t, 12800, md.Tempo)
}

func TestApplyMenuItemIgnoresShortMessages(t *testing.T) {
	md := &TrackMetadata{Title: "unchanged"}
	applyMenuItem(md, &dbserver.Message{Arguments: []dbserver.Field{dbserver.NumberField{Value: 1}}})
	require.Equal(t, "unchanged", md.Title)
}
