package cache

import (
	"context"
	"sync"

	"prolink/packet"
)

// maxPendingUpdates bounds the queue a Finder's worker drains; overflow
// silently drops the oldest entry rather than blocking the producer.
const maxPendingUpdates = 100

// Fetcher performs the kind-specific dbserver round trip for one track
// reference, returning the decoded value.
type Fetcher[V any] func(ctx context.Context, ref TrackRef) (V, error)

// Listener receives a deck's value whenever the engine resolves or clears
// it. present=false means "no data for this deck right now".
type Listener[V any] func(deck DeckRef, value V, present bool)

type hotEntry[V any] struct {
	ref     TrackRef
	value   V
	present bool
}

type pendingUpdate struct {
	deck DeckRef
	ref  TrackRef
}

// engine is the generic worker behind every per-kind Finder: a hot
// per-deck cache, an optional bounded second-chance LRU, an active-
// requests de-dupe set, and a single queue-handler goroutine. Grounded on
// MetadataFinder's hotCache_/pendingUpdates_/activeRequests_/
// queueHandler_ fields, generalized across all eight data kinds the
// pattern is specified once for (§4.9).
type engine[V any] struct {
	fetch    Fetcher[V]
	resolver OpusResolver

	useLRU bool
	lru    *secondChanceLRU[TrackRef, V]

	mu     sync.Mutex
	hot    map[DeckRef]hotEntry[V]
	active map[packet.DeviceID]struct{}

	pendingMu   sync.Mutex
	pendingCond *sync.Cond
	pending     []pendingUpdate
	running     bool

	listenersMu sync.Mutex
	listeners   []Listener[V]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newEngine[V any](fetch Fetcher[V], resolver OpusResolver, lruSize int) *engine[V] {
	e := &engine[V]{
		fetch:    fetch,
		resolver: resolver,
		hot:      map[DeckRef]hotEntry[V]{},
		active:   map[packet.DeviceID]struct{}{},
	}
	e.pendingCond = sync.NewCond(&e.pendingMu)
	if lruSize > 0 {
		e.useLRU = true
		e.lru = newSecondChanceLRU[TrackRef, V](lruSize)
	}
	return e
}

func (e *engine[V]) addListener(l Listener[V]) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *engine[V]) deliver(deck DeckRef, value V, present bool) {
	e.listenersMu.Lock()
	listeners := append([]Listener[V](nil), e.listeners...)
	e.listenersMu.Unlock()
	for _, l := range listeners {
		func() {
			defer func() { recover() }() // a single bad listener must not kill the worker
			l(deck, value, present)
		}()
	}
}

// start launches the queue-handler goroutine. Safe to call once per
// engine; a Finder wraps this with its own run-state guard.
func (e *engine[V]) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.pendingMu.Lock()
	e.running = true
	e.pendingMu.Unlock()

	e.wg.Add(1)
	go e.queueHandlerLoop(runCtx)

	go func() {
		<-ctx.Done()
		e.stop()
	}()
}

func (e *engine[V]) stop() {
	e.pendingMu.Lock()
	if !e.running {
		e.pendingMu.Unlock()
		return
	}
	e.running = false
	e.pendingMu.Unlock()
	e.pendingCond.Broadcast()
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// enqueue appends an update for the worker to process, dropping the
// oldest queued entry if the bound is exceeded.
func (e *engine[V]) enqueue(deck DeckRef, ref TrackRef) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if !e.running {
		return
	}
	e.pending = append(e.pending, pendingUpdate{deck: deck, ref: ref})
	if len(e.pending) > maxPendingUpdates {
		e.pending = e.pending[1:]
	}
	e.pendingCond.Signal()
}

func (e *engine[V]) queueHandlerLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		e.pendingMu.Lock()
		for len(e.pending) == 0 && e.running {
			e.pendingCond.Wait()
		}
		if !e.running && len(e.pending) == 0 {
			e.pendingMu.Unlock()
			return
		}
		u := e.pending[0]
		e.pending = e.pending[1:]
		e.pendingMu.Unlock()

		e.handleUpdate(ctx, u)
	}
}

func (e *engine[V]) handleUpdate(ctx context.Context, u pendingUpdate) {
	e.mu.Lock()
	current, ok := e.hot[u.deck]
	if ok && current.ref == u.ref {
		e.mu.Unlock()
		return // unchanged: nothing to do
	}

	if cached, ok := e.lookupCached(u.ref); ok {
		e.hot[u.deck] = hotEntry[V]{ref: u.ref, value: cached, present: true}
		e.mu.Unlock()
		e.deliver(u.deck, cached, true)
		return
	}

	if _, busy := e.active[u.ref.Player]; busy {
		e.mu.Unlock()
		return
	}
	e.active[u.ref.Player] = struct{}{}
	e.mu.Unlock()

	go e.resolveAndFetch(ctx, u)
}

// lookupCached tries the LRU first (if this kind uses one), then falls
// back to scanning the hot cache for any deck currently holding the same
// track reference's value, avoiding a redundant fetch.
func (e *engine[V]) lookupCached(ref TrackRef) (V, bool) {
	if e.useLRU {
		if v, ok := e.lru.get(ref); ok {
			return v, true
		}
	}
	for _, entry := range e.hot {
		if entry.present && entry.ref == ref {
			return entry.value, true
		}
	}
	var zero V
	return zero, false
}

func (e *engine[V]) resolveAndFetch(ctx context.Context, u pendingUpdate) {
	defer func() {
		e.mu.Lock()
		delete(e.active, u.ref.Player)
		e.mu.Unlock()
	}()

	resolved, ok := resolveReference(e.resolver, u.ref)
	if !ok {
		e.clearDeck(u.deck)
		return
	}

	value, err := e.fetch(ctx, resolved)
	if err != nil {
		e.clearDeck(u.deck)
		return
	}

	e.mu.Lock()
	e.hot[u.deck] = hotEntry[V]{ref: u.ref, value: value, present: true}
	if e.useLRU {
		e.lru.put(resolved, value)
	}
	e.mu.Unlock()

	e.deliver(u.deck, value, true)
}

func (e *engine[V]) clearDeck(deck DeckRef) {
	e.mu.Lock()
	delete(e.hot, deck)
	e.mu.Unlock()
	var zero V
	e.deliver(deck, zero, false)
}

// clearPlayer removes every deck entry for player (device-lost handling),
// firing a "no data" update for each one.
func (e *engine[V]) clearPlayer(player packet.DeviceID) {
	e.mu.Lock()
	var decks []DeckRef
	for deck := range e.hot {
		if deck.Player == player {
			decks = append(decks, deck)
		}
	}
	for _, deck := range decks {
		delete(e.hot, deck)
	}
	e.mu.Unlock()

	var zero V
	for _, deck := range decks {
		e.deliver(deck, zero, false)
	}
}

// purgeSlot drops every value sourced from slot on the given player
// (mount-removed handling): matching LRU entries are removed, and each
// deck whose current value came from that slot is cleared with a "no
// data" update.
func (e *engine[V]) purgeSlot(player packet.DeviceID, slot packet.TrackSourceSlot) {
	e.mu.Lock()
	if e.useLRU {
		e.lru.removeMatching(func(ref TrackRef) bool {
			return ref.Player == player && ref.Slot == slot
		})
	}
	var decks []DeckRef
	for deck, entry := range e.hot {
		if entry.ref.Player == player && entry.ref.Slot == slot {
			decks = append(decks, deck)
		}
	}
	for _, deck := range decks {
		delete(e.hot, deck)
	}
	e.mu.Unlock()

	var zero V
	for _, deck := range decks {
		e.deliver(deck, zero, false)
	}
}

// current returns the value currently cached for deck, if any.
func (e *engine[V]) current(deck DeckRef) (V, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.hot[deck]
	return entry.value, ok && entry.present
}

// loaded returns every deck with a value currently present.
func (e *engine[V]) loaded() map[DeckRef]V {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[DeckRef]V, len(e.hot))
	for deck, entry := range e.hot {
		if entry.present {
			out[deck] = entry.value
		}
	}
	return out
}
