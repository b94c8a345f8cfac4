package cache

import (
	"context"
	"fmt"

	"prolink/dbserver"
	"prolink/packet"
)

// TrackMetadata is the decoded set of menu-item fields a
// REKORDBOX_METADATA_REQ exchange returns for one track, grounded on
// TrackMetadata.hpp's field list. Menu item field extraction here follows
// a simplified subset of the reference's parseMetadataItem byte layout
// (the item's primary label at argument index 3, a secondary numeric
// value at index 1 for kinds that carry one) rather than reproducing every
// per-type branch of the original's item-layout switch. It fills Title,
// Artist, Album, Genre, Label, Key, Duration, Rating, Tempo, Year and
// BitRate; Remixer, Comment, DateAdded and ArtworkID are left empty.
type TrackMetadata struct {
	Reference TrackRef
	Title     string
	Artist    string
	Album     string
	Genre     string
	Label     string
	Key       string
	Remixer   string
	Comment   string
	DateAdded string
	Duration  int
	Rating    int
	Tempo     int // BPM * 100
	Year      int
	BitRate   int
	ArtworkID int
	CueList   *CueList
}

func (m *TrackMetadata) String() string {
	return fmt.Sprintf("TrackMetadata[title:%q, artist:%q, reference:%+v]", m.Title, m.Artist, m.Reference)
}

// CueList holds the hot cues and memory cues rekordbox stored for a
// track, grounded on CueList.hpp's Entry fields.
type CueList struct {
	Entries []CueEntry
}

// CueEntry is one hot cue or memory point/loop.
type CueEntry struct {
	HotCueNumber int // 0 for a memory cue, 1+ for a hot cue
	IsLoop       bool
	Position     int64 // milliseconds
	LoopPosition int64
	Comment      string
	ColorID      int
}

// MetadataFinder resolves (player, slot, rekordbox-id) references into
// TrackMetadata, driven directly off incoming CDJ status rather than off
// another finder's updates — the one kind in the pattern that is its own
// reference source (§4.9's "TrackMetadataUpdate, or CdjStatus for the
// metadata finder").
type MetadataFinder struct {
	engine *engine[*TrackMetadata]
	cm     *dbserver.ConnectionManager
}

// NewMetadataFinder constructs an unstarted finder. Posing-as-player
// selection for each request is resolved by the Connection Manager
// itself (§4.7); this finder only supplies the track reference.
func NewMetadataFinder(cm *dbserver.ConnectionManager, resolver OpusResolver) *MetadataFinder {
	f := &MetadataFinder{cm: cm}
	f.engine = newEngine[*TrackMetadata](f.fetch, resolver, 0)
	return f
}

// Start begins the worker goroutine. Call HandleStatus with every
// incoming CDJ status to drive it.
func (f *MetadataFinder) Start(ctx context.Context) { f.engine.start(ctx) }

// Stop halts the worker.
func (f *MetadataFinder) Stop() { f.engine.stop() }

// AddListener registers a callback invoked whenever a deck's metadata is
// resolved or cleared.
func (f *MetadataFinder) AddListener(l Listener[*TrackMetadata]) { f.engine.addListener(l) }

// HandleStatus feeds one CDJ status packet in, enqueuing a lookup if the
// deck's track reference has changed.
func (f *MetadataFinder) HandleStatus(status *packet.CDJStatus) {
	if status.TrackSlot == packet.TrackSlotNoTrack {
		f.engine.clearDeck(DeckRef{Player: status.DeviceID})
		return
	}
	ref := TrackRef{
		Player:      status.DeviceID,
		Slot:        status.TrackSlot,
		RekordboxID: status.RekordboxID,
		TrackType:   status.TrackType,
	}
	f.engine.enqueue(DeckRef{Player: status.DeviceID}, ref)
}

// HandleDeviceLost purges every deck entry for a player that has gone
// silent (§4.9's device-lost handling).
func (f *MetadataFinder) HandleDeviceLost(player packet.DeviceID) { f.engine.clearPlayer(player) }

// HandleMountRemoved purges any cached entries sourced from a slot that
// was just unmounted.
func (f *MetadataFinder) HandleMountRemoved(player packet.DeviceID, slot packet.TrackSourceSlot) {
	f.engine.purgeSlot(player, slot)
}

// CurrentMetadata returns the metadata currently cached for a deck.
func (f *MetadataFinder) CurrentMetadata(deck DeckRef) (*TrackMetadata, bool) {
	return f.engine.current(deck)
}

// LoadedTracks returns every deck with metadata currently cached.
func (f *MetadataFinder) LoadedTracks() map[DeckRef]*TrackMetadata { return f.engine.loaded() }

func (f *MetadataFinder) fetch(ctx context.Context, ref TrackRef) (*TrackMetadata, error) {
	return dbserver.InvokeWithClientSession(f.cm, ref.Player, func(client *dbserver.Client) (*TrackMetadata, error) {
		items, err := client.RequestMenuItems(ctx, dbserver.RekordboxMetadataReq, byte(ref.Slot), byte(ref.TrackType), dbserver.NewNumberField(ref.RekordboxID))
		if err != nil {
			return nil, err
		}
		md := &TrackMetadata{Reference: ref}
		for _, item := range items {
			applyMenuItem(md, item)
		}
		cueList, err := fetchCueList(ctx, client, ref)
		if err == nil {
			md.CueList = cueList
		}
		return md, nil
	}, "metadata request")
}

func fetchCueList(ctx context.Context, client *dbserver.Client, ref TrackRef) (*CueList, error) {
	items, err := client.RequestMenuItems(ctx, dbserver.CueListReq, byte(ref.Slot), byte(ref.TrackType), dbserver.NewNumberField(ref.RekordboxID))
	if err != nil {
		return nil, err
	}
	cues := &CueList{}
	for _, item := range items {
		cues.Entries = append(cues.Entries, cueEntryFromItem(item))
	}
	return cues, nil
}

func cueEntryFromItem(item *dbserver.Message) CueEntry {
	var e CueEntry
	if len(item.Arguments) > 1 {
		if n, ok := item.Arguments[1].(dbserver.NumberField); ok {
			e.Position = int64(n.Value)
		}
	}
	if len(item.Arguments) > 3 {
		if s, ok := item.Arguments[3].(dbserver.StringField); ok {
			e.Comment = s.Value
		}
	}
	return e
}

// applyMenuItem folds one MENU_ITEM response into md per its MenuItemType.
func applyMenuItem(md *TrackMetadata, item *dbserver.Message) {
	kind, ok := item.MenuItemType()
	if !ok || len(item.Arguments) < 4 {
		return
	}
	label, _ := item.Arguments[3].(dbserver.StringField)
	var number int
	if len(item.Arguments) > 1 {
		if n, ok := item.Arguments[1].(dbserver.NumberField); ok {
			number = int(n.Value)
		}
	}

	switch kind {
	case dbserver.MenuItemTrackTitle:
		md.Title = label.Value
	case dbserver.MenuItemArtist:
		md.Artist = label.Value
	case dbserver.MenuItemAlbumTitle:
		md.Album = label.Value
	case dbserver.MenuItemGenre:
		md.Genre = label.Value
	case dbserver.MenuItemLabel:
		md.Label = label.Value
	case dbserver.MenuItemKey:
		md.Key = label.Value
	case dbserver.MenuItemDuration:
		md.Duration = number
	case dbserver.MenuItemRating:
		md.Rating = number
	case dbserver.MenuItemTempo:
		md.Tempo = number
	case dbserver.MenuItemYear:
		md.Year = number
	case dbserver.MenuItemBitRate:
		md.BitRate = number
	}
}
