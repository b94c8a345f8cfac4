package cache

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"sync"
)

// SignatureFinder computes a stable per-track identity by hashing
// together metadata, the RGB waveform-detail analysis tag, and the beat
// grid — three independently-fetched components that only agree once
// all three have settled on the same track, per §4.9. It holds no
// direct network dependency of its own; it only listens.
type SignatureFinder struct {
	metadata    *MetadataFinder
	waveformTag *AnalysisTagFinder
	beatGrid    *BeatGridFinder

	mu         sync.Mutex
	signatures map[DeckRef]string

	listenersMu sync.Mutex
	listeners   []func(deck DeckRef, signature string, present bool)
}

func NewSignatureFinder(metadata *MetadataFinder, waveformTag *AnalysisTagFinder, beatGrid *BeatGridFinder) *SignatureFinder {
	f := &SignatureFinder{
		metadata:    metadata,
		waveformTag: waveformTag,
		beatGrid:    beatGrid,
		signatures:  map[DeckRef]string{},
	}
	metadata.AddListener(func(deck DeckRef, _ *TrackMetadata, _ bool) { f.recompute(deck) })
	waveformTag.AddListener(func(deck DeckRef, _ *AnalysisTag, _ bool) { f.recompute(deck) })
	beatGrid.AddListener(func(deck DeckRef, _ *BeatGrid, _ bool) { f.recompute(deck) })
	return f
}

// AddListener registers a callback invoked whenever a deck's signature is
// computed or cleared.
func (f *SignatureFinder) AddListener(l func(deck DeckRef, signature string, present bool)) {
	f.listenersMu.Lock()
	defer f.listenersMu.Unlock()
	f.listeners = append(f.listeners, l)
}

func (f *SignatureFinder) deliver(deck DeckRef, signature string, present bool) {
	f.listenersMu.Lock()
	listeners := append([]func(DeckRef, string, bool)(nil), f.listeners...)
	f.listenersMu.Unlock()
	for _, l := range listeners {
		invokeSafely(func() { l(deck, signature, present) })
	}
}

// Current returns the signature currently held for deck.
func (f *SignatureFinder) Current(deck DeckRef) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.signatures[deck]
	return s, ok
}

func (f *SignatureFinder) recompute(deck DeckRef) {
	meta, okMeta := f.metadata.CurrentMetadata(deck)
	tag, okTag := f.waveformTag.Current(deck)
	grid, okGrid := f.beatGrid.Current(deck)

	if !okMeta || !okTag || !okGrid || meta == nil || tag == nil || grid == nil {
		f.mu.Lock()
		_, had := f.signatures[deck]
		delete(f.signatures, deck)
		f.mu.Unlock()
		if had {
			f.deliver(deck, "", false)
		}
		return
	}

	signature := computeSignature(meta, tag, grid)

	f.mu.Lock()
	f.signatures[deck] = signature
	f.mu.Unlock()

	f.deliver(deck, signature, true)
}

// computeSignature follows §4.9's exact byte layout: title, a NUL, the
// artist (or the literal placeholder when blank), a NUL, the duration as
// a little-endian uint32, the raw waveform-detail tag payload, and then
// each beat's (beat-within-bar, time-within-track) as little-endian
// uint32 pairs — all fed to SHA-1, rendered as lowercase hex.
func computeSignature(meta *TrackMetadata, tag *AnalysisTag, grid *BeatGrid) string {
	h := sha1.New()

	h.Write([]byte(meta.Title))
	h.Write([]byte{0})

	artist := meta.Artist
	if artist == "" {
		artist = "[no artist]"
	}
	h.Write([]byte(artist))
	h.Write([]byte{0})

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(meta.Duration))
	h.Write(u32[:])

	h.Write(tag.Payload)

	var beatBuf [8]byte
	for beat := 1; beat <= grid.BeatCount(); beat++ {
		binary.LittleEndian.PutUint32(beatBuf[0:4], uint32(grid.BeatWithinBar(beat)))
		binary.LittleEndian.PutUint32(beatBuf[4:8], uint32(grid.TimeWithinTrack(beat)))
		h.Write(beatBuf[:])
	}

	return hex.EncodeToString(h.Sum(nil))
}
