package cache

import (
	"context"

	"prolink/packet"
)

// DependentFinder is the shared engine wiring for every per-kind Finder
// that reacts to the Metadata Finder's track-reference changes rather
// than to raw CDJ status directly (art, beat grid, waveform
// preview/detail, analysis tags) — "Finders listen to other finders"
// per the lifecycle note in the design notes. Each kind wraps one of
// these with its own Fetcher and field-level accessors.
type DependentFinder[V any] struct {
	engine *engine[V]
}

func newDependentFinder[V any](fetch Fetcher[V], resolver OpusResolver, lruSize int) *DependentFinder[V] {
	return &DependentFinder[V]{engine: newEngine[V](fetch, resolver, lruSize)}
}

// Start launches the worker goroutine.
func (f *DependentFinder[V]) Start(ctx context.Context) { f.engine.start(ctx) }

// Stop halts the worker.
func (f *DependentFinder[V]) Stop() { f.engine.stop() }

// AddListener registers a callback invoked whenever a deck's value is
// resolved or cleared.
func (f *DependentFinder[V]) AddListener(l Listener[V]) { f.engine.addListener(l) }

// HandleMetadataUpdate feeds one Metadata Finder update in: a resolved
// reference enqueues a lookup; a cleared deck clears this kind's entry
// too.
func (f *DependentFinder[V]) HandleMetadataUpdate(deck DeckRef, metadata *TrackMetadata, present bool) {
	if !present || metadata == nil {
		f.engine.clearDeck(deck)
		return
	}
	f.engine.enqueue(deck, metadata.Reference)
}

// HandleDeviceLost purges every deck entry for a player gone silent.
func (f *DependentFinder[V]) HandleDeviceLost(player packet.DeviceID) { f.engine.clearPlayer(player) }

// HandleMountRemoved purges cached entries sourced from an unmounted slot.
func (f *DependentFinder[V]) HandleMountRemoved(player packet.DeviceID, slot packet.TrackSourceSlot) {
	f.engine.purgeSlot(player, slot)
}

// Current returns the value currently cached for deck.
func (f *DependentFinder[V]) Current(deck DeckRef) (V, bool) { return f.engine.current(deck) }

// Loaded returns every deck with a value currently cached.
func (f *DependentFinder[V]) Loaded() map[DeckRef]V { return f.engine.loaded() }
