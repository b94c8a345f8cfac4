package device

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

// ErrNotRunning is returned by operations that require the finder to be
// started.
var ErrNotRunning = errors.New("device finder is not running")

// FoundFunc is invoked when a new device appears on the network.
type FoundFunc func(*Device)

// LostFunc is invoked when a device is evicted after going silent.
type LostFunc func(*Device)

// Finder listens on the announcement port (50000), maintains the live
// device set keyed by (address, number), ages out silent devices, and
// fans out found/lost events.
type Finder struct {
	devMu   sync.Mutex
	devices map[Key]*Device

	ignoreMu sync.Mutex
	ignored  map[string]bool

	found *events.Registry[FoundFunc]
	lost  *events.Registry[LostFunc]

	conn    *net.UDPConn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex

	logger *log.Logger
}

// New creates an unstarted Finder.
func New() *Finder {
	return &Finder{
		devices: map[Key]*Device{},
		ignored: map[string]bool{},
		found:   events.NewRegistry[FoundFunc](),
		lost:    events.NewRegistry[LostFunc](),
		logger:  log.NewWithOptions(log.Default().StandardLog().Writer(), log.Options{Prefix: "device-finder"}),
	}
}

// OnDeviceFound registers fn to be called (outside any lock) when a new
// device appears.
func (f *Finder) OnDeviceFound(fn FoundFunc) events.Token { return f.found.Subscribe(fn) }

// OnDeviceLost registers fn to be called when a device is evicted.
func (f *Finder) OnDeviceLost(fn LostFunc) events.Token { return f.lost.Subscribe(fn) }

// Ignore adds an address to the ignore list; announcements from it are
// dropped before they are ever keyed into the device set. Ignored
// addresses and registered listeners both survive Stop/Start cycles.
func (f *Finder) Ignore(addr net.IP) {
	f.ignoreMu.Lock()
	defer f.ignoreMu.Unlock()
	f.ignored[addr.String()] = true
}

func (f *Finder) isIgnored(addr net.IP) bool {
	f.ignoreMu.Lock()
	defer f.ignoreMu.Unlock()
	return f.ignored[addr.String()]
}

// IsIgnored reports whether addr is on the ignore list. It satisfies
// beatfinder.IgnoreChecker so the Beat Finder can share this single
// source of truth instead of keeping its own list.
func (f *Finder) IsIgnored(addr net.IP) bool { return f.isIgnored(addr) }

// CurrentDevices returns a snapshot of the live device set.
func (f *Finder) CurrentDevices() []*Device {
	f.devMu.Lock()
	defer f.devMu.Unlock()
	out := make([]*Device, 0, len(f.devices))
	for _, d := range f.devices {
		cp := *d
		out = append(out, &cp)
	}
	return out
}

// Running reports whether the finder's listener goroutine is active.
func (f *Finder) Running() bool {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	return f.running
}

// Start is idempotent: calling it while already running is a no-op.
func (f *Finder) Start() error {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	if f.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := netutil.ListenUDP(ctx, &net.UDPAddr{IP: net.IPv4zero, Port: int(packet.PortAnnouncement)})
	if err != nil {
		cancel()
		return errors.Wrap(err, "device finder: bind announcement port")
	}

	f.conn = conn
	f.cancel = cancel
	f.running = true

	f.wg.Add(1)
	go f.receiveLoop(conn)

	return nil
}

// Stop closes the socket, joins the receiver goroutine, flushes the
// device map, and fires a lost event for every remaining device. The
// ignore list and registered listeners are preserved.
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

	f.devMu.Lock()
	remaining := make([]*Device, 0, len(f.devices))
	for _, d := range f.devices {
		remaining = append(remaining, d)
	}
	f.devices = map[Key]*Device{}
	f.devMu.Unlock()

	for _, d := range remaining {
		f.fireLost(d)
	}
}

func (f *Finder) receiveLoop(conn *net.UDPConn) {
	defer f.wg.Done()
	buf := make([]byte, 2048)
	agingTicker := time.NewTicker(2 * time.Second)
	defer agingTicker.Stop()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-agingTicker.C:
				f.age()
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	for {
		conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				f.age()
				continue
			}
			// Socket closed: time to exit the loop.
			return
		}
		f.age()
		f.handlePacket(buf[:n], addr.IP)
	}
}

func (f *Finder) handlePacket(buf []byte, sender net.IP) {
	t, err := packet.CheckHeader(buf)
	if err != nil {
		return // malformed: log-and-drop at the boundary, no propagation
	}
	if _, known := packet.Lookup(packet.PortAnnouncement, t); !known {
		return
	}
	if t != packet.TypeDeviceHello && t != packet.TypeDeviceKeepAlive {
		return // claim/negotiation packets are vplayer's concern, not discovery
	}

	if f.isIgnored(sender) {
		return
	}

	ann, err := packet.DecodeAnnouncement(buf, time.Now())
	if err != nil {
		f.logger.Debug("dropping malformed announcement", "err", err)
		return
	}

	if packet.IsDeviceLibraryPlus(ann.Name) {
		for _, num := range packet.OpusLogicalDeviceIDs {
			f.upsert(FromAnnouncement(ann, num))
		}
		return
	}

	f.upsert(FromAnnouncement(ann, ann.DeviceID))
}

func (f *Finder) upsert(d *Device) {
	key := d.Key()

	f.devMu.Lock()
	_, existed := f.devices[key]
	f.devices[key] = d
	f.devMu.Unlock()

	if !existed {
		f.fireFound(d)
	}
}

func (f *Finder) age() {
	cutoff := time.Now().Add(-Timeout)

	f.devMu.Lock()
	var expired []*Device
	for key, d := range f.devices {
		if d.LastSeen.Before(cutoff) {
			expired = append(expired, d)
			delete(f.devices, key)
		}
	}
	f.devMu.Unlock()

	for _, d := range expired {
		f.fireLost(d)
	}
}

func (f *Finder) fireFound(d *Device) {
	for _, fn := range f.found.Snapshot() {
		events.Invoke(func() { fn(d) }, func(r any) { f.logger.Error("found listener panicked", "recover", r) })
	}
}

func (f *Finder) fireLost(d *Device) {
	for _, fn := range f.lost.Snapshot() {
		events.Invoke(func() { fn(d) }, func(r any) { f.logger.Error("lost listener panicked", "recover", r) })
	}
}
