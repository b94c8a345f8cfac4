package vplayer

import (
	"sync"

	"prolink/packet"
)

// masterState is one of the three states the handoff state machine in
// §4.5 cycles through. Reassignment is driven only by CDJ-status
// observations and explicit handoff request/response packets; a beat
// packet alone never transitions it.
type masterState int

const (
	stateNotMaster masterState = iota
	stateRequesting
	stateMaster
)

// handoff owns the tempo-master pointer and the request/response
// exchange that moves it between devices.
type handoff struct {
	mu sync.Mutex

	state            masterState
	number           packet.DeviceID // our own device number
	masterDevice     packet.DeviceID // who holds master; 0 if us or unknown
	requestingFrom   packet.DeviceID
	masterYieldedFrom packet.DeviceID
	nextMaster       packet.DeviceID

	sendHandoffResponse func(to packet.DeviceID, yielded bool)
	sendHandoffRequest  func(to packet.DeviceID)
}

func newHandoff(number packet.DeviceID) *handoff {
	return &handoff{state: stateNotMaster, number: number}
}

// isMaster reports whether this player currently holds tempo master.
func (h *handoff) isMaster() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateMaster
}

// becomeTempoMaster implements the API call: if a peer is already
// master, request it to yield; otherwise assume the role locally.
func (h *handoff) becomeTempoMaster() {
	h.mu.Lock()
	peer := h.masterDevice
	h.mu.Unlock()

	if peer != 0 && peer != h.number {
		h.mu.Lock()
		h.requestingFrom = peer
		h.state = stateRequesting
		h.mu.Unlock()
		if h.sendHandoffRequest != nil {
			h.sendHandoffRequest(peer)
		}
		return
	}

	h.mu.Lock()
	h.state = stateMaster
	h.masterDevice = h.number
	h.mu.Unlock()
}

// onHandoffRequest handles a peer asking us to yield. Only meaningful
// while we are master and status-sending (the caller gates that).
func (h *handoff) onHandoffRequest(from packet.DeviceID, statusSending bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateMaster || from == h.number || !statusSending {
		return
	}
	h.nextMaster = from
	if h.sendHandoffResponse != nil {
		h.mu.Unlock()
		h.sendHandoffResponse(from, true)
		h.mu.Lock()
	}
}

// onHandoffResponse handles a peer telling us it yielded in response to
// our earlier request.
func (h *handoff) onHandoffResponse(from packet.DeviceID, yielded bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateRequesting || from != h.requestingFrom || !yielded {
		return
	}
	h.masterYieldedFrom = from
}

// onPeerStatus feeds one observed CDJ-status update for another device,
// the only trigger (besides explicit request/response) allowed to move
// the master pointer.
func (h *handoff) onPeerStatus(from packet.DeviceID, peerIsMaster bool, peerYieldingTo packet.DeviceID, hasYieldTarget bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case stateRequesting:
		if from == h.masterYieldedFrom && hasYieldTarget && peerYieldingTo == h.number {
			h.state = stateMaster
			h.masterDevice = h.number
			return
		}
	case stateMaster:
		if from == h.nextMaster && peerIsMaster {
			h.state = stateNotMaster
			h.masterDevice = from
			h.nextMaster = 0
			return
		}
	}

	if peerIsMaster {
		if hasYieldTarget && peerYieldingTo == h.number {
			h.state = stateMaster
			h.masterDevice = h.number
			return
		}
		h.masterDevice = from
	}
}
