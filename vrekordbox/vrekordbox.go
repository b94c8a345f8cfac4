package vrekordbox

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"prolink/device"
	"prolink/internal/netutil"
	"prolink/packet"
)

// ErrNoDevicesVisible is returned by Start when no other device has been
// seen on the network by the time the self-assignment watch period
// elapses, so there is nothing to source PSSI metadata from anyway.
var ErrNoDevicesVisible = errors.New("vrekordbox: no devices visible on the network")

// deviceSource is the slice of *device.Finder this package needs: the
// live device set and the ignore list used to keep the Device Finder
// from treating this node's own broadcasts as a peer. A small interface
// rather than the concrete type so self-assignment and packet-handling
// logic are testable without running real UDP discovery.
type deviceSource interface {
	CurrentDevices() []*device.Device
	Ignore(net.IP)
}

// VirtualRekordbox is a virtual rekordbox node: it claims a high-range
// device number, announces itself like a real rekordbox install, and
// resolves which mounted USB an Opus Quad / XDJ-AZ player is reading from
// by matching the PSSI fragments it broadcasts against an archive index.
type VirtualRekordbox struct {
	cfg    Config
	finder deviceSource
	index  *ArchiveIndex

	keepAlive []byte
	lighting  []byte
	number    packet.DeviceID

	self netutil.LocalInterface
	conn *net.UDPConn

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu               sync.Mutex
	trackers         map[packet.DeviceID]*packetTracker
	playerMatch      map[packet.DeviceID]Match
	previousRbID     map[packet.DeviceID]uint32
	statusFlagGuard  *statusFlagGuard

	logger *log.Logger
}

// New creates an unstarted virtual rekordbox node. finder must already be
// running (or about to be started by the caller) so the self-assignment
// watch can observe peers; once started, the node reads CDJ status and
// PSSI fragments from its own update-port socket.
func New(cfg Config, finder deviceSource, index *ArchiveIndex) *VirtualRekordbox {
	cfg = cfg.normalize()
	keepAlive, lighting := newTemplates()
	patchDeviceNumber(keepAlive, defaultDeviceNumber)

	return &VirtualRekordbox{
		cfg:             cfg,
		finder:          finder,
		index:           index,
		keepAlive:       keepAlive,
		lighting:        lighting,
		trackers:        map[packet.DeviceID]*packetTracker{},
		playerMatch:     map[packet.DeviceID]Match{},
		previousRbID:    map[packet.DeviceID]uint32{},
		statusFlagGuard: newStatusFlagGuard(),
		logger:          log.NewWithOptions(log.Default().StandardLog().Writer(), log.Options{Prefix: "virtual-rekordbox"}),
	}
}

// DeviceNumber returns the number this node claimed. Valid only after
// Start returns successfully.
func (v *VirtualRekordbox) DeviceNumber() packet.DeviceID { return v.number }

// FindMatchForPlayer returns the USB archive match most recently resolved
// for player's current track, if a completed PSSI exchange has matched it
// against the archive index.
func (v *VirtualRekordbox) FindMatchForPlayer(player packet.DeviceID) (Match, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.playerMatch[player]
	return m, ok
}

// Start discovers the local network identity, self-assigns a device
// number in the rekordbox range, and begins announcing and listening for
// CDJ status and PSSI fragments on the update port.
func (v *VirtualRekordbox) Start(ctx context.Context) error {
	v.runMu.Lock()
	defer v.runMu.Unlock()
	if v.running {
		return nil
	}

	anchor, err := netutil.WaitForAnchor(ctx, SelfAssignWatchPeriod, func() []net.IP {
		var out []net.IP
		for _, d := range v.finder.CurrentDevices() {
			out = append(out, d.Address)
		}
		return out
	})
	if err != nil {
		return ErrNoDevicesVisible
	}

	iface, err := netutil.DiscoverLocalInterface(ctx, anchor, int(packet.PortUpdate), v.cfg.NetworkInterface)
	if err != nil {
		return errors.Wrap(err, "vrekordbox: interface discovery")
	}
	v.self = *iface
	patchNetworkIdentity(v.keepAlive, v.lighting, iface.MAC, iface.IP)

	v.finder.Ignore(iface.IP)
	v.finder.Ignore(iface.Broadcast)

	v.number = v.selfAssignDeviceNumber()
	patchDeviceNumber(v.keepAlive, byte(v.number))

	runCtx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel

	conn, err := netutil.ListenUDP(runCtx, &net.UDPAddr{IP: net.IPv4zero, Port: int(packet.PortUpdate)})
	if err != nil {
		v.finder.Ignore(iface.IP) // already ignored; no unignore API, harmless
		cancel()
		return errors.Wrap(err, "vrekordbox: bind update port")
	}
	v.conn = conn

	v.running = true
	v.wg.Add(2)
	go v.receiverLoop(runCtx, conn)
	go v.announcerLoop(runCtx)

	return nil
}

// Stop tears down the announcer and receiver and releases the socket.
func (v *VirtualRekordbox) Stop() {
	v.runMu.Lock()
	if !v.running {
		v.runMu.Unlock()
		return
	}
	v.running = false
	cancel := v.cancel
	conn := v.conn
	v.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	v.wg.Wait()
}

// selfAssignDeviceNumber keeps the template's default number if nothing
// on the network is using it yet, otherwise scans the rekordbox range
// for the lowest free number.
func (v *VirtualRekordbox) selfAssignDeviceNumber() packet.DeviceID {
	used := map[packet.DeviceID]bool{}
	for _, d := range v.finder.CurrentDevices() {
		used[d.Number] = true
	}

	if !used[packet.DeviceID(defaultDeviceNumber)] {
		return packet.DeviceID(defaultDeviceNumber)
	}
	for n := packet.DeviceID(SelfAssignRangeStart); n <= SelfAssignRangeEnd; n++ {
		if !used[n] {
			return n
		}
	}
	return packet.DeviceID(defaultDeviceNumber)
}

func (v *VirtualRekordbox) announcerLoop(ctx context.Context) {
	defer v.wg.Done()
	ticker := time.NewTicker(v.cfg.AnnounceInterval)
	defer ticker.Stop()

	v.sendAnnouncements()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.sendAnnouncements()
		}
	}
}

func (v *VirtualRekordbox) sendAnnouncements() {
	announceAddr := &net.UDPAddr{IP: v.self.Broadcast, Port: int(packet.PortAnnouncement)}
	updateAddr := &net.UDPAddr{IP: v.self.Broadcast, Port: int(packet.PortUpdate)}
	v.conn.WriteToUDP(v.keepAlive, announceAddr)
	v.conn.WriteToUDP(v.lighting, updateAddr)
}

// requestPSSI unicasts the fixed PSSI-request packet to the first known
// device, asking every Opus Quad / XDJ-AZ listening to report the song
// structure of whatever is currently loaded.
func (v *VirtualRekordbox) requestPSSI() {
	devices := v.finder.CurrentDevices()
	if len(devices) == 0 {
		return
	}
	target := &net.UDPAddr{IP: devices[0].Address, Port: int(packet.PortUpdate)}
	v.conn.WriteToUDP(packet.EncodeRequestPssi(), target)
}

func (v *VirtualRekordbox) receiverLoop(ctx context.Context, conn *net.UDPConn) {
	defer v.wg.Done()
	buf := make([]byte, 2048)
	for {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			continue
		}
		v.handlePacket(buf[:n], addr.IP)
	}
}

func (v *VirtualRekordbox) handlePacket(buf []byte, sender net.IP) {
	t, err := packet.CheckHeader(buf)
	if err != nil {
		return
	}
	switch t {
	case packet.TypeCDJStatus:
		v.handleStatus(buf, sender)
	case packet.TypeOpusMetadata:
		v.handleOpusFragment(buf)
	}
}

func (v *VirtualRekordbox) handleStatus(buf []byte, sender net.IP) {
	status, err := packet.DecodeCDJStatus(buf, sender, time.Now())
	if err != nil {
		return
	}

	v.mu.Lock()
	status.StatusFlags = v.statusFlagGuard.apply(status.DeviceID, status.StatusFlags)

	previous := v.previousRbID[status.DeviceID]
	v.previousRbID[status.DeviceID] = status.RekordboxID
	changed := previous != status.RekordboxID
	if changed {
		delete(v.playerMatch, status.DeviceID)
	}
	v.mu.Unlock()

	if changed && status.RekordboxID != 0 {
		v.requestPSSI()
	}
}

func (v *VirtualRekordbox) handleOpusFragment(buf []byte) {
	fragment, err := packet.DecodeOpusFragment(buf)
	if err != nil || fragment.MetadataType != packet.OpusMetadataTypePSSI {
		return
	}

	v.mu.Lock()
	tracker, ok := v.trackers[fragment.PlayerNumber]
	if !ok {
		tracker = &packetTracker{}
		v.trackers[fragment.PlayerNumber] = tracker
	}
	complete := tracker.receivePacket(fragment)
	var pssi []byte
	if complete {
		pssi = tracker.trimmedBytes()
		tracker.reset()
	}
	v.mu.Unlock()

	if !complete || v.index == nil {
		return
	}
	match, ok := v.index.Lookup(pssi)
	if !ok {
		return
	}

	v.mu.Lock()
	v.playerMatch[fragment.PlayerNumber] = match
	v.mu.Unlock()
}

func (v *VirtualRekordbox) String() string {
	return fmt.Sprintf("VirtualRekordbox[number:%d, name:%s]", v.number, v.cfg.DeviceName)
}
