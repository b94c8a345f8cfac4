package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prolink/packet"
)

type fakeResolver struct {
	opusPlayers map[packet.DeviceID]bool
	matches     map[packet.DeviceID]OpusMatch
}

func (r *fakeResolver) IsOpusPlayer(p packet.DeviceID) bool { return r.opusPlayers[p] }

func (r *fakeResolver) FindMatchForPlayer(p packet.DeviceID) (OpusMatch, bool) {
	m, ok := r.matches[p]
	return m, ok
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not reached within %s", timeout)
}

func TestEngineResolvesAndDeliversValue(t *testing.T) {
	var fetchCount int
	var mu sync.Mutex
	fetch := func(_ context.Context, ref TrackRef) (string, error) {
		mu.Lock()
		fetchCount++
		mu.Unlock()
		return "value-for-" + string(rune(ref.RekordboxID)), nil
	}

	e := newEngine[string](fetch, &fakeResolver{}, 0)
	e.start(context.Background())
	defer e.stop()

	deck := DeckRef{Player: 2}
	ref := TrackRef{Player: 2, RekordboxID: 7}

	var delivered string
	var present bool
	var deliveries int
	e.addListener(func(d DeckRef, value string, ok bool) {
		mu.Lock()
		deliveries++
		delivered = value
		present = ok
		mu.Unlock()
	})

	e.enqueue(deck, ref)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries > 0
	})

	mu.Lock()
	defer mu.Unlock()
	require.True(t, present)
	require.Equal(t, "value-for-"+string(rune(7)), delivered)
	require.Equal(t, 1, fetchCount)

	v, ok := e.current(deck)
	require.True(t, ok)
	require.Equal(t, delivered, v)
}

func TestEngineClearsDeckOnFetchError(t *testing.T) {
	fetch := func(_ context.Context, ref TrackRef) (int, error) {
		return 0, errors.New("boom")
	}
	e := newEngine[int](fetch, &fakeResolver{}, 0)
	e.start(context.Background())
	defer e.stop()

	deck := DeckRef{Player: 1}
	var sawAbsent bool
	var mu sync.Mutex
	e.addListener(func(d DeckRef, value int, ok bool) {
		mu.Lock()
		sawAbsent = sawAbsent || !ok
		mu.Unlock()
	})

	e.enqueue(deck, TrackRef{Player: 1, RekordboxID: 3})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sawAbsent
	})
}

func TestEngineDropsReferenceForUnresolvedOpusDeck(t *testing.T) {
	var fetched bool
	var mu sync.Mutex
	fetch := func(_ context.Context, ref TrackRef) (int, error) {
		mu.Lock()
		fetched = true
		mu.Unlock()
		return 1, nil
	}
	resolver := &fakeResolver{opusPlayers: map[packet.DeviceID]bool{5: true}}
	e := newEngine[int](fetch, resolver, 0)
	e.start(context.Background())
	defer e.stop()

	deck := DeckRef{Player: 5}
	var gotAbsent bool
	e.addListener(func(d DeckRef, value int, ok bool) {
		mu.Lock()
		gotAbsent = gotAbsent || !ok
		mu.Unlock()
	})

	e.enqueue(deck, TrackRef{Player: 5, RekordboxID: 1})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotAbsent
	})

	mu.Lock()
	defer mu.Unlock()
	require.False(t, fetched, "no dbserver fetch should happen for an unmatched Opus deck")
}

func TestEngineEnqueueDropsOldestWhenFull(t *testing.T) {
	block := make(chan struct{})
	fetch := func(ctx context.Context, ref TrackRef) (int, error) {
		<-block
		return int(ref.RekordboxID), nil
	}
	e := newEngine[int](fetch, &fakeResolver{}, 0)
	e.start(context.Background())
	defer func() {
		close(block)
		e.stop()
	}()

	// Fill well past the bound. Each fetch blocks in its own goroutine, so
	// the worker may drain some entries as they arrive; whatever it has not
	// yet taken must stay within the bound.
	for i := 0; i < maxPendingUpdates+20; i++ {
		e.enqueue(DeckRef{Player: packet.DeviceID(100 + i)}, TrackRef{Player: packet.DeviceID(100 + i), RekordboxID: uint32(i)})
	}

	e.pendingMu.Lock()
	require.LessOrEqual(t, len(e.pending), maxPendingUpdates)
	e.pendingMu.Unlock()
}

func TestEnginePurgeSlotRemovesLRUEntriesFromThatSlot(t *testing.T) {
	fetch := func(_ context.Context, ref TrackRef) (int, error) { return 1, nil }
	e := newEngine[int](fetch, &fakeResolver{}, 8)

	ref := TrackRef{Player: 1, Slot: packet.TrackSlotUSB, RekordboxID: 9}
	e.lru.put(ref, 42)
	require.Equal(t, 1, e.lru.len())

	e.purgeSlot(1, packet.TrackSlotUSB)
	require.Equal(t, 0, e.lru.len())
}
