package vplayer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"prolink/packet"
)

// ErrNumberInUse is returned by claimNumber when every retry was
// defended against by a peer already holding the number.
var ErrNumberInUse = fmt.Errorf("vplayer: device number claim exhausted retries")

const maxClaimAttempts = 16

// claimState tracks the in-flight negotiation so the announce-port
// receive loop can feed it WILL_ASSIGN / IN_USE packets while
// claimNumber is broadcasting.
type claimState struct {
	mu sync.Mutex

	proposed     packet.DeviceID
	defendedAway bool
	assignedBy   packet.DeviceID // set when a mixer hands us a number
	hasAssigned  bool
}

func newClaimState() *claimState { return &claimState{} }

// observe feeds one announcement-port packet to the in-flight claim.
// It is called from the player's receive loop for every packet
// classified as a claim/negotiation type.
func (c *claimState) observe(p *packet.ClaimPacket, respond func(pkt []byte, to net.IP), self localInterface, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch p.Type {
	case packet.TypeDeviceNumberInUse:
		if p.ProposedID == c.proposed {
			c.defendedAway = true
		}
	case packet.TypeDeviceNumberWillAssign:
		pref := uint8(1)
		if c.proposed != 0 {
			pref = 2
		}
		resp := &packet.ClaimPacket{
			Type:       packet.TypeDeviceNumberStage2,
			DeviceName: name,
			MAC:        self.MAC,
			IP:         self.IP,
			Preference: pref,
		}
		respond(packet.EncodeClaim(resp), p.IP)
	case packet.TypeDeviceNumberAssign:
		c.assignedBy = p.ProposedID
		c.hasAssigned = true
	}
}

func (c *claimState) wasDefended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defendedAway
}

func (c *claimState) assignedNumber() (packet.DeviceID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assignedBy, c.hasAssigned
}

func (c *claimState) reset(proposed packet.DeviceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proposed = proposed
	c.defendedAway = false
	c.assignedBy = 0
	c.hasAssigned = false
}

// seenNumbers is fed every DEVICE_HELLO/KEEP_ALIVE device number observed
// during the auto-assign watch window.
type seenNumbers struct {
	mu  sync.Mutex
	set map[packet.DeviceID]bool
}

func newSeenNumbers() *seenNumbers { return &seenNumbers{set: map[packet.DeviceID]bool{}} }

func (s *seenNumbers) add(id packet.DeviceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[id] = true
}

func (s *seenNumbers) lowestFree(base packet.DeviceID) packet.DeviceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	for n := base; n < 127; n++ {
		if !s.set[n] {
			return n
		}
	}
	return base
}

// broadcaster is the minimal send surface the claim sequence needs;
// satisfied by the player's announce-port socket.
type broadcaster interface {
	BroadcastTo(buf []byte, to *net.UDPAddr)
}

// claimNumber runs the three-stage claim/negotiation sequence and
// returns the device number this player ends up holding.
func claimNumber(ctx context.Context, cfg Config, self localInterface, state *claimState, watch *seenNumbers, send broadcaster) (packet.DeviceID, error) {
	target := cfg.DesiredDeviceNumber
	if target == 0 {
		time.Sleep(AutoAssignWatchWindow)
		target = watch.lowestFree(cfg.Role.startingBase())
	}

	broadcastAddr := &net.UDPAddr{IP: self.Broadcast, Port: int(packet.PortAnnouncement)}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		state.reset(target)

		if ok := runClaimStages(ctx, cfg, self, target, broadcastAddr, state, send); ok {
			if assigned, has := state.assignedNumber(); has {
				return assigned, nil
			}
			return target, nil
		}

		// Defended: the number we just tried is taken regardless of
		// whether it came from the desired field or auto-assignment,
		// so mark it seen and pick another via the self-assignment
		// rule before retrying.
		watch.add(target)
		target = watch.lowestFree(cfg.Role.startingBase())

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
	}
	return 0, ErrNumberInUse
}

// runClaimStages broadcasts the stage-1/2/3 sequence and reports
// whether it completed without being defended against.
func runClaimStages(ctx context.Context, cfg Config, self localInterface, target packet.DeviceID, broadcastAddr *net.UDPAddr, state *claimState, send broadcaster) bool {
	stage1 := &packet.ClaimPacket{Type: packet.TypeDeviceNumberStage1, DeviceName: cfg.DeviceName, MAC: self.MAC, IP: self.IP}
	if !broadcastStage(ctx, stage1, broadcastAddr, state, send) {
		return false
	}

	stage2 := &packet.ClaimPacket{Type: packet.TypeDeviceNumberStage2, DeviceName: cfg.DeviceName, MAC: self.MAC, IP: self.IP, ProposedID: target, Preference: 1}
	if !broadcastStage(ctx, stage2, broadcastAddr, state, send) {
		return false
	}

	stage3 := &packet.ClaimPacket{Type: packet.TypeDeviceNumberStage3, DeviceName: cfg.DeviceName, MAC: self.MAC, IP: self.IP, ProposedID: target}
	return broadcastStage(ctx, stage3, broadcastAddr, state, send)
}

func broadcastStage(ctx context.Context, pkt *packet.ClaimPacket, to *net.UDPAddr, state *claimState, send broadcaster) bool {
	buf := packet.EncodeClaim(pkt)
	for i := 0; i < ClaimStageRepeats; i++ {
		send.BroadcastTo(buf, to)
		select {
		case <-time.After(ClaimStageInterval):
		case <-ctx.Done():
			return false
		}
		if state.wasDefended() {
			return false
		}
	}
	return !state.wasDefended()
}
