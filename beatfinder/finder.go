// Package beatfinder listens on the beat port (50001) and dispatches
// each packet kind to its own typed listener registry: beats,
// channels-on-air, fader-start commands, sync control, master-handoff
// request/response, and precise position.
package beatfinder

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"prolink/internal/events"
	"prolink/internal/netutil"
	"prolink/packet"
)

// IgnoreChecker answers whether a sender address should be dropped
// before dispatch. The Device Finder's ignore list is the single
// source of truth; Finder never keeps its own copy.
type IgnoreChecker interface {
	IsIgnored(addr net.IP) bool
}

type (
	BeatFunc           func(*packet.Beat)
	ChannelsOnAirFunc  func(*packet.ChannelsOnAir)
	FaderStartFunc     func(*packet.FaderStartCommand)
	SyncControlFunc    func(*packet.SyncControl)
	HandoffReqFunc     func(*packet.MasterHandoffRequest)
	HandoffRespFunc    func(*packet.MasterHandoffResponse)
	PrecisePosFunc     func(*packet.PrecisePosition)
)

// Finder is the beat-port (50001) listener.
type Finder struct {
	ignore IgnoreChecker

	beat        *events.Registry[BeatFunc]
	channelsAir *events.Registry[ChannelsOnAirFunc]
	faderStart  *events.Registry[FaderStartFunc]
	syncControl *events.Registry[SyncControlFunc]
	handoffReq  *events.Registry[HandoffReqFunc]
	handoffResp *events.Registry[HandoffRespFunc]
	precisePos  *events.Registry[PrecisePosFunc]

	conn    *net.UDPConn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runMu   sync.Mutex
	running bool

	logger *log.Logger
}

// New creates an unstarted Finder. ignore may be nil, in which case no
// address is ever filtered (useful for unit tests).
func New(ignore IgnoreChecker) *Finder {
	return &Finder{
		ignore:      ignore,
		beat:        events.NewRegistry[BeatFunc](),
		channelsAir: events.NewRegistry[ChannelsOnAirFunc](),
		faderStart:  events.NewRegistry[FaderStartFunc](),
		syncControl: events.NewRegistry[SyncControlFunc](),
		handoffReq:  events.NewRegistry[HandoffReqFunc](),
		handoffResp: events.NewRegistry[HandoffRespFunc](),
		precisePos:  events.NewRegistry[PrecisePosFunc](),
		logger:      log.NewWithOptions(log.Default().StandardLog().Writer(), log.Options{Prefix: "beat-finder"}),
	}
}

func (f *Finder) OnBeat(fn BeatFunc) events.Token                   { return f.beat.Subscribe(fn) }
func (f *Finder) OnChannelsOnAir(fn ChannelsOnAirFunc) events.Token { return f.channelsAir.Subscribe(fn) }
func (f *Finder) OnFaderStart(fn FaderStartFunc) events.Token       { return f.faderStart.Subscribe(fn) }
func (f *Finder) OnSyncControl(fn SyncControlFunc) events.Token     { return f.syncControl.Subscribe(fn) }
func (f *Finder) OnMasterHandoffRequest(fn HandoffReqFunc) events.Token {
	return f.handoffReq.Subscribe(fn)
}
func (f *Finder) OnMasterHandoffResponse(fn HandoffRespFunc) events.Token {
	return f.handoffResp.Subscribe(fn)
}
func (f *Finder) OnPrecisePosition(fn PrecisePosFunc) events.Token { return f.precisePos.Subscribe(fn) }

// Start is idempotent.
func (f *Finder) Start() error {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	if f.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := netutil.ListenUDP(ctx, &net.UDPAddr{IP: net.IPv4zero, Port: int(packet.PortBeat)})
	if err != nil {
		cancel()
		return errors.Wrap(err, "beat finder: bind beat port")
	}

	f.conn = conn
	f.cancel = cancel
	f.running = true

	f.wg.Add(1)
	go f.receiveLoop(conn)
	return nil
}

// Stop closes the socket and joins the receiver goroutine.
func (f *Finder) Stop() {
	f.runMu.Lock()
	if !f.running {
		f.runMu.Unlock()
		return
	}
	f.running = false
	conn := f.conn
	cancel := f.cancel
	f.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	f.wg.Wait()
}

func (f *Finder) receiveLoop(conn *net.UDPConn) {
	defer f.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		f.handlePacket(buf[:n], addr.IP)
	}
}

func (f *Finder) handlePacket(buf []byte, sender net.IP) {
	if f.ignore != nil && f.ignore.IsIgnored(sender) {
		return
	}

	t, err := packet.CheckHeader(buf)
	if err != nil {
		return
	}
	if _, known := packet.Lookup(packet.PortBeat, t); !known {
		return
	}

	now := time.Now()
	switch t {
	case packet.TypeBeat:
		b, err := packet.DecodeBeat(buf, sender, now)
		if err != nil {
			f.logger.Debug("dropping malformed beat", "err", err)
			return
		}
		for _, fn := range f.beat.Snapshot() {
			events.Invoke(func() { fn(b) }, f.onPanic)
		}
	case packet.TypeChannelsOnAir:
		c, err := packet.DecodeChannelsOnAir(buf, sender)
		if err != nil {
			return
		}
		for _, fn := range f.channelsAir.Snapshot() {
			events.Invoke(func() { fn(c) }, f.onPanic)
		}
	case packet.TypeFaderStartCommand:
		c, err := packet.DecodeFaderStartCommand(buf, sender)
		if err != nil {
			return
		}
		for _, fn := range f.faderStart.Snapshot() {
			events.Invoke(func() { fn(c) }, f.onPanic)
		}
	case packet.TypeSyncControl:
		c, err := packet.DecodeSyncControl(buf, sender)
		if err != nil {
			return
		}
		for _, fn := range f.syncControl.Snapshot() {
			events.Invoke(func() { fn(c) }, f.onPanic)
		}
	case packet.TypeMasterHandoffReq:
		r, err := packet.DecodeMasterHandoffRequest(buf, sender)
		if err != nil {
			return
		}
		for _, fn := range f.handoffReq.Snapshot() {
			events.Invoke(func() { fn(r) }, f.onPanic)
		}
	case packet.TypeMasterHandoffResp:
		r, err := packet.DecodeMasterHandoffResponse(buf, sender)
		if err != nil {
			return
		}
		for _, fn := range f.handoffResp.Snapshot() {
			events.Invoke(func() { fn(r) }, f.onPanic)
		}
	case packet.TypePrecisePosition:
		p, err := packet.DecodePrecisePosition(buf, sender, now)
		if err != nil {
			return
		}
		for _, fn := range f.precisePos.Snapshot() {
			events.Invoke(func() { fn(p) }, f.onPanic)
		}
	}
}

func (f *Finder) onPanic(r any) {
	f.logger.Error("beat-finder listener panicked", "recover", r)
}
