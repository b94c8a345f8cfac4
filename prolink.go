// Package prolink is a client library for the Pioneer Pro DJ Link
// protocol: it discovers devices on a DJ Link LAN, participates as a
// virtual player (and optionally a virtual rekordbox node for Opus-class
// hardware), and serves rich per-track metadata over the discovered
// dbserver TCP connections. Connect wires every subsystem together and
// returns a running Network; Close tears it all down in dependency order.
package prolink

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"prolink/beatfinder"
	"prolink/cache"
	"prolink/dbserver"
	"prolink/device"
	"prolink/internal/netutil"
	"prolink/packet"
	"prolink/vplayer"
	"prolink/vrekordbox"
)

// Config controls every subsystem Connect wires together. Zero-value
// fields are replaced by each subsystem's own defaults.
type Config struct {
	// Player is the virtual player's own configuration (device number,
	// announce interval, status sending, network interface).
	Player vplayer.Config

	// EnableVirtualRekordbox starts the Opus-compatibility layer: a
	// virtual rekordbox node that requests PSSI blobs from Opus Quad /
	// XDJ-AZ hardware and resolves them against Archive.
	EnableVirtualRekordbox bool
	Rekordbox              vrekordbox.Config
	Archive                *vrekordbox.ArchiveIndex

	// IdleLimit bounds how long an unused dbserver connection lingers
	// before the Connection Manager reaps it; 0 closes eagerly.
	IdleLimit time.Duration

	// AnalysisTagExtension/AnalysisTagType name the single analysis
	// section this library fetches directly (the RGB waveform detail
	// tag the Signature Finder composes into a track identity); default
	// ".EXT"/"PWV5" match the values a stock rekordbox install writes.
	AnalysisTagExtension string
	AnalysisTagType      string
}

func (c Config) normalize() Config {
	if c.AnalysisTagExtension == "" {
		c.AnalysisTagExtension = ".EXT"
	}
	if c.AnalysisTagType == "" {
		c.AnalysisTagType = "PWV5"
	}
	return c
}

// Network is the running, wired-together set of subsystems this package
// exposes. It is returned by Connect and torn down by Close.
type Network struct {
	cfg Config

	deviceFinder *device.Finder
	beatFinder   *beatfinder.Finder
	player       *vplayer.Player
	rekordbox    *vrekordbox.VirtualRekordbox
	connMgr      *dbserver.ConnectionManager

	metadata         *cache.MetadataFinder
	beatGrid         *cache.BeatGridFinder
	waveformPreview  *cache.WaveformPreviewFinder
	waveformDetail   *cache.WaveformDetailFinder
	art              *cache.ArtFinder
	rgbWaveformTag   *cache.AnalysisTagFinder
	signature        *cache.SignatureFinder
	timeFinder       *cache.TimeFinder

	relays []*relayLoop

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger *log.Logger
}

// DeviceFinder returns the Device Finder, for device-found/lost
// subscription and the live device set.
func (n *Network) DeviceFinder() *device.Finder { return n.deviceFinder }

// BeatFinder returns the beat-port listener.
func (n *Network) BeatFinder() *beatfinder.Finder { return n.beatFinder }

// Player returns the virtual player this process claimed a device
// number as.
func (n *Network) Player() *vplayer.Player { return n.player }

// Rekordbox returns the virtual rekordbox node, or nil if
// Config.EnableVirtualRekordbox was false.
func (n *Network) Rekordbox() *vrekordbox.VirtualRekordbox { return n.rekordbox }

// Metadata returns the track metadata Finder.
func (n *Network) Metadata() *cache.MetadataFinder { return n.metadata }

// BeatGrid returns the beat-grid Finder.
func (n *Network) BeatGrid() *cache.BeatGridFinder { return n.beatGrid }

// WaveformPreview returns the whole-track waveform-overview Finder.
func (n *Network) WaveformPreview() *cache.WaveformPreviewFinder { return n.waveformPreview }

// WaveformDetail returns the zoomed-in per-frame waveform Finder.
func (n *Network) WaveformDetail() *cache.WaveformDetailFinder { return n.waveformDetail }

// Art returns the album-art Finder.
func (n *Network) Art() *cache.ArtFinder { return n.art }

// Signature returns the composite per-track signature Finder.
func (n *Network) Signature() *cache.SignatureFinder { return n.signature }

// Time returns the interpolated play-position Finder.
func (n *Network) Time() *cache.TimeFinder { return n.timeFinder }

// activeNetwork guards against more than one Network running in this
// process at once: every subsystem below binds an exclusive claim
// (a device number, a set of UDP sockets) that cannot be shared.
var (
	activeMu      sync.Mutex
	activeNetwork *Network
)

// opusResolverAdapter satisfies cache.OpusResolver over a
// *vrekordbox.VirtualRekordbox without the cache package importing
// vrekordbox, keeping the two decoupled per §4.8's design note.
type opusResolverAdapter struct {
	rb *vrekordbox.VirtualRekordbox
}

func (a opusResolverAdapter) IsOpusPlayer(player packet.DeviceID) bool {
	_, ok := a.rb.FindMatchForPlayer(player)
	return ok || a.isOpusNumber(player)
}

func (a opusResolverAdapter) isOpusNumber(player packet.DeviceID) bool {
	for _, n := range packet.OpusLogicalDeviceIDs {
		if n == player {
			return true
		}
	}
	return false
}

func (a opusResolverAdapter) FindMatchForPlayer(player packet.DeviceID) (cache.OpusMatch, bool) {
	m, ok := a.rb.FindMatchForPlayer(player)
	if !ok {
		return cache.OpusMatch{}, false
	}
	return cache.OpusMatch{RekordboxID: m.RekordboxID, Slot: m.Slot}, true
}

// Connect starts device discovery, beat listening, the virtual player,
// the optional virtual rekordbox node, the dbserver Connection Manager,
// and every track-data cache Finder, in the dependency order §9
// requires (Device Finder outlives Connection Manager outlives any
// per-kind Finder). Only one Network may run per process.
func Connect(cfg Config) (*Network, error) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if activeNetwork != nil {
		return activeNetwork, nil
	}

	cfg = cfg.normalize()
	logger := log.NewWithOptions(log.Default().StandardLog().Writer(), log.Options{Prefix: "prolink"})

	n := &Network{
		cfg:          cfg,
		deviceFinder: device.New(),
		logger:       logger,
	}

	if err := n.deviceFinder.Start(); err != nil {
		return nil, errors.Wrap(err, "prolink: starting device finder")
	}

	n.beatFinder = beatfinder.New(n.deviceFinder)
	if err := n.beatFinder.Start(); err != nil {
		n.deviceFinder.Stop()
		return nil, errors.Wrap(err, "prolink: starting beat finder")
	}

	n.player = vplayer.New(cfg.Player, n.deviceFinder)

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	relays, err := startRelayLoops(runCtx, n)
	if err != nil {
		cancel()
		n.beatFinder.Stop()
		n.deviceFinder.Stop()
		return nil, err
	}
	n.relays = relays
	n.wg.Add(len(relays))
	for _, r := range relays {
		go r.run(&n.wg)
	}

	if err := n.player.Start(runCtx); err != nil {
		n.teardownRelays(relays)
		cancel()
		n.beatFinder.Stop()
		n.deviceFinder.Stop()
		return nil, errors.Wrap(err, "prolink: starting virtual player")
	}

	if cfg.EnableVirtualRekordbox {
		index := cfg.Archive
		if index == nil {
			index = vrekordbox.NewArchiveIndex()
		}
		n.rekordbox = vrekordbox.New(cfg.Rekordbox, n.deviceFinder, index)
		if err := n.rekordbox.Start(runCtx); err != nil {
			logger.Warn("virtual rekordbox did not start", "err", err)
			n.rekordbox = nil
		}
	}

	n.connMgr = dbserver.NewConnectionManager(n.deviceFinder, n.player.DeviceNumber, n.player)
	n.connMgr.SetIdleLimit(cfg.IdleLimit)
	n.connMgr.Start()

	var resolver cache.OpusResolver
	if n.rekordbox != nil {
		resolver = opusResolverAdapter{rb: n.rekordbox}
	}

	n.metadata = cache.NewMetadataFinder(n.connMgr, resolver)
	n.beatGrid = cache.NewBeatGridFinder(n.connMgr, resolver)
	n.waveformPreview = cache.NewWaveformPreviewFinder(n.connMgr, resolver)
	n.waveformDetail = cache.NewWaveformDetailFinder(n.connMgr, resolver)
	n.art = cache.NewArtFinder(n.connMgr, resolver)
	n.rgbWaveformTag = cache.NewAnalysisTagFinder(n.connMgr, resolver, cfg.AnalysisTagExtension, cfg.AnalysisTagType)
	n.signature = cache.NewSignatureFinder(n.metadata, n.rgbWaveformTag, n.beatGrid)
	n.timeFinder = cache.NewTimeFinder(n.beatGrid)

	n.metadata.Start(runCtx)
	n.beatGrid.Start(runCtx)
	n.waveformPreview.Start(runCtx)
	n.waveformDetail.Start(runCtx)
	n.art.Start(runCtx)
	n.rgbWaveformTag.Start(runCtx)

	n.wireCacheListeners()

	n.running = true
	activeNetwork = n
	return n, nil
}

// wireCacheListeners feeds raw status/beat/precise-position/device-lost
// events into every cache Finder. The dependent Finders (art, beat grid,
// waveforms, the RGB analysis tag) are driven off the Metadata Finder's
// resolved track references rather than off raw status directly, per
// §4.9's "Finders listen to other finders" design note.
func (n *Network) wireCacheListeners() {
	n.player.OnDeviceUpdate(func(u packet.DeviceUpdate) {
		status, ok := u.(*packet.CDJStatus)
		if !ok {
			return
		}
		n.metadata.HandleStatus(status)
		n.timeFinder.HandleStatus(status)
	})

	n.metadata.AddListener(func(deck cache.DeckRef, md *cache.TrackMetadata, present bool) {
		n.beatGrid.HandleMetadataUpdate(deck, md, present)
		n.waveformPreview.HandleMetadataUpdate(deck, md, present)
		n.waveformDetail.HandleMetadataUpdate(deck, md, present)
		n.art.HandleMetadataUpdate(deck, md, present)
		n.rgbWaveformTag.HandleMetadataUpdate(deck, md, present)
	})

	n.beatFinder.OnBeat(func(b *packet.Beat) { n.timeFinder.HandleBeat(b) })
	n.beatFinder.OnPrecisePosition(func(p *packet.PrecisePosition) { n.timeFinder.HandlePrecisePosition(p) })

	n.deviceFinder.OnDeviceLost(func(d *device.Device) {
		n.metadata.HandleDeviceLost(d.Number)
		n.beatGrid.HandleDeviceLost(d.Number)
		n.waveformPreview.HandleDeviceLost(d.Number)
		n.waveformDetail.HandleDeviceLost(d.Number)
		n.art.HandleDeviceLost(d.Number)
		n.rgbWaveformTag.HandleDeviceLost(d.Number)
	})
}

// Close stops every subsystem in reverse dependency order and releases
// this process's claim, aggregating any shutdown errors encountered
// along the way rather than stopping at the first one.
func (n *Network) Close() error {
	activeMu.Lock()
	defer activeMu.Unlock()
	n.runMu.Lock()
	if !n.running {
		n.runMu.Unlock()
		return nil
	}
	n.running = false
	n.runMu.Unlock()

	var err error

	n.metadata.Stop()
	n.beatGrid.Stop()
	n.waveformPreview.Stop()
	n.waveformDetail.Stop()
	n.art.Stop()
	n.rgbWaveformTag.Stop()

	n.connMgr.Stop()

	if n.rekordbox != nil {
		n.rekordbox.Stop()
	}

	n.player.Stop()

	if n.cancel != nil {
		n.cancel()
	}
	for _, r := range n.relays {
		err = multierr.Append(err, r.conn.Close())
	}
	n.wg.Wait()

	n.beatFinder.Stop()
	n.deviceFinder.Stop()

	if activeNetwork == n {
		activeNetwork = nil
	}
	return err
}

// relayLoop owns one UDP socket this Network binds purely to feed raw
// packets into the virtual player: the Device Finder and beat Finder
// each already run their own self-contained listener, but vplayer.Player
// exposes only HandleAnnouncePacket/HandleBeatPacket/HandleUpdatePacket
// and expects its caller to run the receive loop (§5's scheduling model:
// one thread per UDP listener).
type relayLoop struct {
	conn    *net.UDPConn
	dispatch func(buf []byte, sender net.IP, receivedAt time.Time)
	logger  *log.Logger
}

func (r *relayLoop) run(wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 2048)
	for {
		r.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return // socket closed: time to exit
		}
		r.dispatch(append([]byte(nil), buf[:n]...), addr.IP, time.Now())
	}
}

func startRelayLoops(ctx context.Context, n *Network) ([]*relayLoop, error) {
	announceConn, err := netutil.ListenUDP(ctx, &net.UDPAddr{IP: net.IPv4zero, Port: int(packet.PortAnnouncement)})
	if err != nil {
		return nil, errors.Wrap(err, "prolink: bind announcement relay")
	}
	beatConn, err := netutil.ListenUDP(ctx, &net.UDPAddr{IP: net.IPv4zero, Port: int(packet.PortBeat)})
	if err != nil {
		announceConn.Close()
		return nil, errors.Wrap(err, "prolink: bind beat relay")
	}
	updateConn, err := netutil.ListenUDP(ctx, &net.UDPAddr{IP: net.IPv4zero, Port: int(packet.PortUpdate)})
	if err != nil {
		announceConn.Close()
		beatConn.Close()
		return nil, errors.Wrap(err, "prolink: bind update relay")
	}

	return []*relayLoop{
		{conn: announceConn, logger: n.logger, dispatch: func(buf []byte, sender net.IP, _ time.Time) {
			n.player.HandleAnnouncePacket(buf, sender)
		}},
		{conn: beatConn, logger: n.logger, dispatch: func(buf []byte, sender net.IP, _ time.Time) {
			n.player.HandleBeatPacket(buf, sender)
		}},
		{conn: updateConn, logger: n.logger, dispatch: func(buf []byte, sender net.IP, receivedAt time.Time) {
			n.player.HandleUpdatePacket(buf, sender, receivedAt)
		}},
	}, nil
}

func (n *Network) teardownRelays(relays []*relayLoop) {
	for _, r := range relays {
		r.conn.Close()
	}
	n.wg.Wait()
}
