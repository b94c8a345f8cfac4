package cache

import (
	"context"

	"prolink/dbserver"
)

const (
	defaultWaveformLRUSize = 64
	defaultArtLRUSize      = 64

	// leadingPreviewJunkBytes/leadingDetailJunkBytes skip the header
	// bytes dbserver prepends ahead of the actual per-segment waveform
	// data, grounded on WaveformPreview.hpp/WaveformDetail.hpp's
	// LEADING_DBSERVER_*_JUNK_BYTES constants (blue-style only; color/3-
	// band variants carry additional header bytes this module does not
	// decode, consistent with the waveform color rendering itself being
	// a UI concern out of scope here).
	leadingPreviewJunkBytes = 28
	leadingDetailJunkBytes  = 19
)

// WaveformPreview is the whole-track overview waveform rekordbox renders
// as the scrub strip.
type WaveformPreview struct {
	Reference TrackRef
	Heights   []int // one entry per segment, 0..31
}

func parseWaveformPreview(ref TrackRef, raw []byte) *WaveformPreview {
	w := &WaveformPreview{Reference: ref}
	if len(raw) <= leadingPreviewJunkBytes {
		return w
	}
	body := raw[leadingPreviewJunkBytes:]
	w.Heights = make([]int, len(body))
	for i, b := range body {
		w.Heights[i] = int(b & 0x1f)
	}
	return w
}

// WaveformDetail is the zoomed-in per-frame waveform rekordbox renders
// during playback.
type WaveformDetail struct {
	Reference TrackRef
	Heights   []int
}

func parseWaveformDetail(ref TrackRef, raw []byte) *WaveformDetail {
	w := &WaveformDetail{Reference: ref}
	if len(raw) <= leadingDetailJunkBytes {
		return w
	}
	body := raw[leadingDetailJunkBytes:]
	w.Heights = make([]int, len(body))
	for i, b := range body {
		w.Heights[i] = int(b & 0x1f)
	}
	return w
}

// WaveformPreviewFinder resolves whole-track waveform overviews, bounded
// by a second-chance LRU per §4.9.
type WaveformPreviewFinder struct {
	*DependentFinder[*WaveformPreview]
	cm *dbserver.ConnectionManager
}

func NewWaveformPreviewFinder(cm *dbserver.ConnectionManager, resolver OpusResolver) *WaveformPreviewFinder {
	f := &WaveformPreviewFinder{cm: cm}
	f.DependentFinder = newDependentFinder[*WaveformPreview](f.fetch, resolver, defaultWaveformLRUSize)
	return f
}

func (f *WaveformPreviewFinder) fetch(_ context.Context, ref TrackRef) (*WaveformPreview, error) {
	return dbserver.InvokeWithClientSession(f.cm, ref.Player, func(client *dbserver.Client) (*WaveformPreview, error) {
		raw, err := client.RequestBinary(dbserver.WavePreviewReq, dbserver.WavePreview, byte(ref.Slot), byte(ref.TrackType), ref.RekordboxID)
		if err != nil {
			return nil, err
		}
		return parseWaveformPreview(ref, raw), nil
	}, "waveform preview request")
}

// WaveformDetailFinder resolves zoomed-in per-frame waveforms, also
// bounded by a second-chance LRU.
type WaveformDetailFinder struct {
	*DependentFinder[*WaveformDetail]
	cm *dbserver.ConnectionManager
}

func NewWaveformDetailFinder(cm *dbserver.ConnectionManager, resolver OpusResolver) *WaveformDetailFinder {
	f := &WaveformDetailFinder{cm: cm}
	f.DependentFinder = newDependentFinder[*WaveformDetail](f.fetch, resolver, defaultWaveformLRUSize)
	return f
}

func (f *WaveformDetailFinder) fetch(_ context.Context, ref TrackRef) (*WaveformDetail, error) {
	return dbserver.InvokeWithClientSession(f.cm, ref.Player, func(client *dbserver.Client) (*WaveformDetail, error) {
		raw, err := client.RequestBinary(dbserver.WaveDetailReq, dbserver.WaveDetail, byte(ref.Slot), byte(ref.TrackType), ref.RekordboxID)
		if err != nil {
			return nil, err
		}
		return parseWaveformDetail(ref, raw), nil
	}, "waveform detail request")
}
