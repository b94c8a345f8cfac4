package dbserver

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"prolink/device"
	"prolink/internal/events"
	"prolink/packet"
)

// deviceSource is the slice of *device.Finder the Connection Manager
// needs: the live device set and found/lost subscription. A small
// interface rather than the concrete type so tests can substitute a fake
// set of devices without running real UDP discovery.
type deviceSource interface {
	CurrentDevices() []*device.Device
	OnDeviceFound(device.FoundFunc) events.Token
	OnDeviceLost(device.LostFunc) events.Token
}

const (
	queryPort        = 12523
	portProbeTimeout = 5 * time.Second
	idleCloserPeriod = 500 * time.Millisecond
	defaultIdleLimit = 1 * time.Second
)

// queryPacket is the literal 19-byte probe that asks a device's
// dbserver-port listener for the real port its metadata service runs on.
var queryPacket = append(append([]byte{0x00, 0x00, 0x00, 0x0f}, []byte("RemoteDBServer")...), 0x00)

// trackSourceLookup reports the device number the target player's current
// track came from, for the posing-as-player fallback rule. Implemented by
// vplayer.Player's update tracker; kept as a minimal interface so this
// package does not import vplayer.
type trackSourceLookup interface {
	TrackSourcePlayer(target packet.DeviceID) (packet.DeviceID, bool)
}

// ConnectionManager probes every announced device for its dbserver port
// and pools one Client per target player, closing idle entries in the
// background.
type ConnectionManager struct {
	finder         deviceSource
	localNumber    func() packet.DeviceID // this process's own (virtual) device number
	sources        trackSourceLookup
	socketTimeout  time.Duration

	idleLimit time.Duration

	ports *cache.Cache // addr (uint32) -> int port

	mu      sync.Mutex
	clients map[packet.DeviceID]*clientRecord

	active  sync.Map // addr (uint32) -> struct{}, de-dupes in-flight probes
	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger *log.Logger
}

type clientRecord struct {
	client   *Client
	useCount int
	lastUsed time.Time
}

// NewConnectionManager constructs an unstarted manager. localNumber
// reports the virtual player's own claimed device number (0 if none has
// been claimed yet); sources resolves a CDJ's current track-source
// player for the posing-as-player fallback.
func NewConnectionManager(finder deviceSource, localNumber func() packet.DeviceID, sources trackSourceLookup) *ConnectionManager {
	return &ConnectionManager{
		finder:        finder,
		localNumber:   localNumber,
		sources:       sources,
		socketTimeout: DefaultSocketTimeout,
		idleLimit:     defaultIdleLimit,
		ports:         cache.New(cache.NoExpiration, 0),
		clients:       map[packet.DeviceID]*clientRecord{},
		logger:        log.NewWithOptions(log.Default().StandardLog().Writer(), log.Options{Prefix: "connmgr"}),
	}
}

// SetIdleLimit changes how long a zero-use client lingers before the
// idle closer reaps it. Zero closes eagerly as soon as use-count hits 0.
func (cm *ConnectionManager) SetIdleLimit(d time.Duration) { cm.idleLimit = d }

// Start subscribes to the Device Finder and begins background port
// probing and idle closing.
func (cm *ConnectionManager) Start() {
	cm.runMu.Lock()
	defer cm.runMu.Unlock()
	if cm.running {
		return
	}
	cm.running = true

	ctx, cancel := context.WithCancel(context.Background())
	cm.cancel = cancel

	cm.finder.OnDeviceFound(func(d *device.Device) { cm.onDeviceFound(ctx, d) })
	cm.finder.OnDeviceLost(func(d *device.Device) { cm.onDeviceLost(d) })

	for _, d := range cm.finder.CurrentDevices() {
		cm.onDeviceFound(ctx, d)
	}

	cm.wg.Add(1)
	go cm.idleCloserLoop(ctx)
}

// Stop closes every pooled client and stops the idle closer.
func (cm *ConnectionManager) Stop() {
	cm.runMu.Lock()
	if !cm.running {
		cm.runMu.Unlock()
		return
	}
	cm.running = false
	cancel := cm.cancel
	cm.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	cm.wg.Wait()

	cm.mu.Lock()
	for player, rec := range cm.clients {
		rec.client.Close()
		delete(cm.clients, player)
	}
	cm.mu.Unlock()
}

func addrKey(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

func (cm *ConnectionManager) onDeviceFound(ctx context.Context, d *device.Device) {
	key := addrKey(d.Address)
	if _, dup := cm.active.LoadOrStore(key, struct{}{}); dup {
		return
	}
	go func() {
		defer cm.active.Delete(key)
		cm.probePort(ctx, d)
	}()
}

func (cm *ConnectionManager) onDeviceLost(d *device.Device) {
	cm.ports.Delete(fmt.Sprintf("%d", addrKey(d.Address)))
}

// probePort dials TCP 12523, sends the fixed query, and records the
// returned port. Uses exponential backoff across a bounded number of
// attempts, matching the reference's "try four times with growing
// backoff" port-discovery loop.
func (cm *ConnectionManager) probePort(ctx context.Context, d *device.Device) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	op := func() error {
		addr := fmt.Sprintf("%s:%d", d.Address, queryPort)
		conn, err := net.DialTimeout("tcp", addr, portProbeTimeout)
		if err != nil {
			return err
		}
		defer conn.Close()

		conn.SetDeadline(time.Now().Add(portProbeTimeout))
		if _, err := conn.Write(queryPacket); err != nil {
			return err
		}

		var resp [2]byte
		if _, err := readFull(conn, resp[:]); err != nil {
			return err
		}

		port := binary.BigEndian.Uint16(resp[:])
		cm.ports.Set(fmt.Sprintf("%d", addrKey(d.Address)), int(port), cache.NoExpiration)
		return nil
	}

	_ = backoff.Retry(op, policy)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// PlayerDBServerPort returns the dbserver port learned for player, or
// ok=false if it hasn't been probed yet (or the player isn't live).
func (cm *ConnectionManager) PlayerDBServerPort(player packet.DeviceID) (int, bool) {
	d := cm.findDevice(player)
	if d == nil {
		return 0, false
	}
	v, ok := cm.ports.Get(fmt.Sprintf("%d", addrKey(d.Address)))
	if !ok {
		return 0, false
	}
	return v.(int), true
}

func (cm *ConnectionManager) findDevice(player packet.DeviceID) *device.Device {
	for _, d := range cm.finder.CurrentDevices() {
		if d.Number == player {
			return d
		}
	}
	return nil
}

// InvokeWithClientSession borrows (allocating if needed) the pooled
// Client for targetPlayer, runs task against it, and returns its result.
// The client's use-count is decremented whether task succeeds or fails.
func InvokeWithClientSession[T any](cm *ConnectionManager, targetPlayer packet.DeviceID, task func(*Client) (T, error), description string) (T, error) {
	var zero T

	correlationID := uuid.NewString()
	logger := cm.logger.With("correlation_id", correlationID, "player", targetPlayer, "op", description)

	cm.runMu.Lock()
	running := cm.running
	cm.runMu.Unlock()
	if !running {
		return zero, fmt.Errorf("dbserver: connection manager not running, aborting %s", description)
	}

	client, err := cm.allocateClient(targetPlayer, description)
	if err != nil {
		logger.Warn("could not allocate client", "err", err)
		return zero, err
	}

	logger.Debug("invoking")
	result, err := task(client)
	cm.freeClient(targetPlayer)
	if err != nil {
		logger.Warn("invocation failed", "err", err)
		return zero, err
	}
	return result, nil
}

func (cm *ConnectionManager) allocateClient(targetPlayer packet.DeviceID, description string) (*Client, error) {
	cm.mu.Lock()
	if rec, ok := cm.clients[targetPlayer]; ok {
		rec.useCount++
		cm.mu.Unlock()
		return rec.client, nil
	}
	cm.mu.Unlock()

	d := cm.findDevice(targetPlayer)
	if d == nil {
		return nil, fmt.Errorf("dbserver: player %d could not be found, aborting %s", targetPlayer, description)
	}
	port, ok := cm.PlayerDBServerPort(targetPlayer)
	if !ok {
		return nil, fmt.Errorf("dbserver: player %d has no known dbserver port, aborting %s", targetPlayer, description)
	}

	posing := cm.chooseAskingPlayerNumber(d)
	client, err := Dial(fmt.Sprintf("%s:%d", d.Address, port), int(targetPlayer), int(posing), cm.socketTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dbserver: %s", description)
	}

	cm.mu.Lock()
	if rec, ok := cm.clients[targetPlayer]; ok {
		// Lost a race with a concurrent allocate; keep theirs, drop ours.
		rec.useCount++
		cm.mu.Unlock()
		client.Close()
		return rec.client, nil
	}
	cm.clients[targetPlayer] = &clientRecord{client: client, useCount: 1, lastUsed: time.Now()}
	cm.mu.Unlock()
	return client, nil
}

func (cm *ConnectionManager) freeClient(targetPlayer packet.DeviceID) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	rec, ok := cm.clients[targetPlayer]
	if !ok || rec.useCount == 0 {
		return
	}
	rec.useCount--
	rec.lastUsed = time.Now()
	if rec.useCount == 0 && cm.idleLimit == 0 {
		rec.client.Close()
		delete(cm.clients, targetPlayer)
	}
}

// chooseAskingPlayerNumber decides which device number this process
// poses as when querying target, per the fallback order: our own
// number if it's a real CDJ slot (1..4); our extended number if it's
// >4 and target isn't metadata-limited; otherwise another live CDJ
// (1..4) whose current track didn't come from target.
func (cm *ConnectionManager) chooseAskingPlayerNumber(target *device.Device) packet.DeviceID {
	self := cm.localNumber()

	if self >= 1 && self <= 4 {
		return self
	}
	if self > 4 && !target.IsMetadataLimited() {
		return self
	}

	for _, d := range cm.finder.CurrentDevices() {
		if d.Number == target.Number || d.Number < 1 || d.Number > 4 {
			continue
		}
		if cm.sources == nil {
			return d.Number
		}
		if source, ok := cm.sources.TrackSourcePlayer(d.Number); !ok || source != target.Number {
			return d.Number
		}
	}
	return self
}

func (cm *ConnectionManager) idleCloserLoop(ctx context.Context) {
	defer cm.wg.Done()
	ticker := time.NewTicker(idleCloserPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.closeIdleClients()
		}
	}
}

func (cm *ConnectionManager) closeIdleClients() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	now := time.Now()
	for player, rec := range cm.clients {
		if rec.useCount > 0 {
			continue
		}
		if now.Sub(rec.lastUsed) >= cm.idleLimit {
			rec.client.Close()
			delete(cm.clients, player)
		}
	}
}
