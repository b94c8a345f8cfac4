package cache

import (
	"context"

	"prolink/dbserver"
)

// AlbumArt is the raw JPEG/PNG bytes rekordbox embedded for a track.
// Image decoding is out of scope here (§1 Non-goals); callers that need
// pixels hand this to their own image package.
type AlbumArt struct {
	Reference TrackRef
	Data      []byte
}

// ArtFinder resolves album art, bounded by a second-chance LRU per
// §4.9 (art is bulky enough to warrant one, unlike metadata/beat-grid).
type ArtFinder struct {
	*DependentFinder[*AlbumArt]
	cm *dbserver.ConnectionManager
}

func NewArtFinder(cm *dbserver.ConnectionManager, resolver OpusResolver) *ArtFinder {
	f := &ArtFinder{cm: cm}
	f.DependentFinder = newDependentFinder[*AlbumArt](f.fetch, resolver, defaultArtLRUSize)
	return f
}

func (f *ArtFinder) fetch(_ context.Context, ref TrackRef) (*AlbumArt, error) {
	return dbserver.InvokeWithClientSession(f.cm, ref.Player, func(client *dbserver.Client) (*AlbumArt, error) {
		raw, err := client.RequestBinary(dbserver.AlbumArtReq, dbserver.AlbumArt, byte(ref.Slot), byte(ref.TrackType), ref.RekordboxID)
		if err != nil {
			return nil, err
		}
		return &AlbumArt{Reference: ref, Data: raw}, nil
	}, "album art request")
}
