package vplayer

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"prolink/device"
	"prolink/internal/events"
	"prolink/internal/netutil"
	"prolink/metronome"
	"prolink/packet"
)

// Player is the virtual player: it claims a device number, announces
// itself, tracks every peer's status, and optionally sends its own
// status and beats while participating in tempo-master handoff.
type Player struct {
	cfg    Config
	finder *device.Finder

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	number  packet.DeviceID
	self    localInterface
	conn    *net.UDPConn

	claim   *claimState
	seen    *seenNumbers
	handoff *handoff
	tracker *updateTracker

	clockMu sync.Mutex
	clock   *metronome.Metronome

	sender     *statusSender
	senderStop chan struct{}
	beatStop   chan struct{}

	logger *log.Logger
}

// New creates an unstarted Player. finder must already be running (or
// about to be started by the caller) so Phase A can observe peers.
func New(cfg Config, finder *device.Finder) *Player {
	cfg = cfg.normalize()
	return &Player{
		cfg:    cfg,
		finder: finder,
		seen:   newSeenNumbers(),
		logger: log.NewWithOptions(log.Default().StandardLog().Writer(), log.Options{Prefix: "virtual-player"}),
	}
}

// DeviceNumber returns the number this player claimed. Valid only
// after Start returns successfully.
func (p *Player) DeviceNumber() packet.DeviceID { return p.number }

// OnTempoChange subscribes to master-tempo change notifications.
func (p *Player) OnTempoChange(fn TempoChangeFunc) events.Token { return p.tracker.OnTempoChange(fn) }

// OnDeviceUpdate subscribes to every observed device update.
func (p *Player) OnDeviceUpdate(fn DeviceUpdateFunc) events.Token {
	return p.tracker.OnDeviceUpdate(fn)
}

// TrackSourcePlayer reports the device number the target player's
// current track came from. Satisfies dbserver's trackSourceLookup.
func (p *Player) TrackSourcePlayer(target packet.DeviceID) (packet.DeviceID, bool) {
	return p.tracker.TrackSourcePlayer(target)
}

// BecomeTempoMaster requests tempo master, yielding from whoever holds
// it today (Phase E).
func (p *Player) BecomeTempoMaster() {
	p.handoff.becomeTempoMaster()
}

// IsTempoMaster reports whether this player currently holds master.
func (p *Player) IsTempoMaster() bool { return p.handoff.isMaster() }

// SetPlaying toggles the playing flag reflected in our own status and
// controls whether the beat-sender subtask runs.
func (p *Player) SetPlaying(playing bool) {
	if p.sender == nil {
		return
	}
	was := p.sender.playing.Swap(playing)
	if playing && !was {
		p.startBeatSender()
	}
	if !playing && was {
		p.stopBeatSender()
	}
	p.sender.notifyTimelineChanged()
}

// Start runs Phase A through C (and D if enabled), returning once a
// device number has been successfully claimed and announcing has
// begun.
func (p *Player) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return nil
	}

	iface, err := selectInterface(ctx, p.finder, p.cfg.NetworkInterface)
	if err != nil {
		return errors.Wrap(err, "vplayer: phase A interface selection")
	}
	p.self = *iface

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	announceConn, err := netutil.ListenUDP(runCtx, &net.UDPAddr{IP: net.IPv4zero, Port: int(packet.PortAnnouncement)})
	if err != nil {
		cancel()
		return errors.Wrap(err, "vplayer: bind announcement port for claim sequence")
	}
	p.conn = announceConn

	p.claim = newClaimState()
	send := udpBroadcaster{conn: announceConn}

	number, err := claimNumber(runCtx, p.cfg, p.self, p.claim, p.seen, send)
	if err != nil {
		announceConn.Close()
		cancel()
		return errors.Wrap(err, "vplayer: phase B device number claim")
	}
	p.number = number

	p.handoff = newHandoff(number)
	p.handoff.sendHandoffRequest = func(to packet.DeviceID) {
		p.sendToNumber(packet.EncodeMasterHandoffRequest(number), to)
	}
	p.handoff.sendHandoffResponse = func(to packet.DeviceID, yielded bool) {
		p.sendToNumber(packet.EncodeMasterHandoffResponse(number, yielded), to)
	}
	p.tracker = newUpdateTracker(p.cfg.MasterTempoEpsilon, p.handoff)

	p.clock = metronome.New(120, time.Now())

	if p.cfg.EnableStatusSending && number >= 1 && number <= 4 {
		p.sender = newStatusSender(number, p.cfg.DeviceName, p.handoff, p.tracker, p.clock, &p.clockMu)
	}

	p.running = true
	p.wg.Add(1)
	go p.keepAliveLoop(runCtx, announceConn)

	return nil
}

// sendToNumber looks up the last-known address for a device number and
// sends buf to it on the beat port. A peer we have never heard from is
// silently skipped, matching the log-and-drop policy elsewhere.
func (p *Player) sendToNumber(buf []byte, number packet.DeviceID) {
	for _, u := range p.tracker.snapshot() {
		if u.Number() == number {
			addr := &net.UDPAddr{IP: u.Address(), Port: int(packet.PortBeat)}
			p.conn.WriteToUDP(buf, addr)
			return
		}
	}
}

func (p *Player) startBeatSender() {
	if p.sender == nil {
		return
	}
	p.beatStop = make(chan struct{})
	broadcastAddr := &net.UDPAddr{IP: p.self.Broadcast, Port: int(packet.PortBeat)}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sender.runBeatSender(p.beatStop, p.conn, broadcastAddr)
	}()
}

func (p *Player) stopBeatSender() {
	if p.beatStop != nil {
		close(p.beatStop)
		p.beatStop = nil
	}
}

func (p *Player) keepAliveLoop(ctx context.Context, conn *net.UDPConn) {
	defer p.wg.Done()

	broadcastAddr := &net.UDPAddr{IP: p.self.Broadcast, Port: int(packet.PortAnnouncement)}
	buf := packet.EncodeKeepAlive(packet.TypeDeviceKeepAlive, p.cfg.DeviceName, p.number, packet.DeviceTypeCDJ, p.self.MAC, p.self.IP)

	ticker := time.NewTicker(p.cfg.AnnounceInterval)
	defer ticker.Stop()

	if p.sender != nil {
		statusStop := make(chan struct{})
		p.senderStop = statusStop
		peers := func() []*net.UDPAddr {
			var out []*net.UDPAddr
			for _, u := range p.tracker.snapshot() {
				out = append(out, &net.UDPAddr{IP: u.Address(), Port: int(packet.PortUpdate)})
			}
			return out
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.sender.run(statusStop, conn, peers)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.WriteToUDP(buf, broadcastAddr)
		}
	}
}

// HandleUpdatePacket feeds one packet received on the update port
// (50002) into processUpdate. The caller (the owning Network) is
// responsible for running the receiver thread described in Phase C.
func (p *Player) HandleUpdatePacket(buf []byte, sender net.IP, receivedAt time.Time) {
	u, err := packet.DecodeUpdate(buf, sender, receivedAt)
	if err != nil {
		return
	}
	p.tracker.process(u)
}

// HandleAnnouncePacket feeds one packet received on the announcement
// port into the claim state machine and the auto-assign watch set.
func (p *Player) HandleAnnouncePacket(buf []byte, senderIP net.IP) {
	t, err := packet.CheckHeader(buf)
	if err != nil {
		return
	}
	switch t {
	case packet.TypeDeviceHello, packet.TypeDeviceKeepAlive:
		if ann, err := packet.DecodeAnnouncement(buf, time.Now()); err == nil {
			p.seen.add(ann.DeviceID)
		}
	case packet.TypeDeviceNumberInUse, packet.TypeDeviceNumberWillAssign, packet.TypeDeviceNumberAssign,
		packet.TypeDeviceNumberStage1, packet.TypeDeviceNumberStage2, packet.TypeDeviceNumberStage3,
		packet.TypeDeviceNumberAssignmentFinish:
		if cp, err := packet.DecodeClaim(buf); err == nil && p.claim != nil {
			p.claim.observe(cp, func(pkt []byte, to net.IP) {
				p.conn.WriteToUDP(pkt, &net.UDPAddr{IP: to, Port: int(packet.PortAnnouncement)})
			}, p.self, p.cfg.DeviceName)
		}
	}
}

// HandleBeatPacket feeds one packet received on the beat port (50001)
// into the handoff state machine when it is a handoff request or
// response.
func (p *Player) HandleBeatPacket(buf []byte, sender net.IP) {
	t, err := packet.CheckHeader(buf)
	if err != nil {
		return
	}
	switch t {
	case packet.TypeMasterHandoffReq:
		if r, err := packet.DecodeMasterHandoffRequest(buf, sender); err == nil {
			p.handoff.onHandoffRequest(r.From, p.sender != nil)
		}
	case packet.TypeMasterHandoffResp:
		if r, err := packet.DecodeMasterHandoffResponse(buf, sender); err == nil {
			p.handoff.onHandoffResponse(r.From, r.Yielded)
		}
	}
}

// Stop tears down the announcer, status sender, and beat sender.
func (p *Player) Stop() {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	conn := p.conn
	p.runMu.Unlock()

	p.stopBeatSender()
	if p.senderStop != nil {
		close(p.senderStop)
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	p.wg.Wait()
}

// udpBroadcaster adapts a *net.UDPConn to the claim sequence's
// broadcaster interface.
type udpBroadcaster struct{ conn *net.UDPConn }

func (b udpBroadcaster) BroadcastTo(buf []byte, to *net.UDPAddr) { b.conn.WriteToUDP(buf, to) }
