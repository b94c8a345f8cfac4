package dbserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ErrProtocolViolation is returned when a peer sends INVALID_DATA or a
// response whose type doesn't match what a request expects.
var ErrProtocolViolation = errors.New("dbserver: protocol violation")

// ErrIoTimeout is returned when a read exceeds the client's socket timeout.
var ErrIoTimeout = errors.New("dbserver: i/o timeout")

// DefaultSocketTimeout is the per-message read deadline a Client applies
// absent an override.
const DefaultSocketTimeout = 10 * time.Second

// Client owns a single TCP socket to one player's dbserver and serializes
// requests through it. Its zero value is not usable; construct with Dial.
type Client struct {
	TargetPlayer   int
	PosingAsPlayer int

	conn          net.Conn
	socketTimeout time.Duration
	txnCounter    uint32

	menuMu sync.Mutex // serializes a whole multi-message menu exchange

	mu     sync.Mutex // serializes individual request/response round trips
	closed atomic.Bool
}

// Dial opens a connection to addr (host:port, the port having already been
// learned via a 12523 probe), performs SETUP_REQ posing as posingAsPlayer,
// and returns a ready Client.
func Dial(addr string, targetPlayer, posingAsPlayer int, socketTimeout time.Duration) (*Client, error) {
	if socketTimeout <= 0 {
		socketTimeout = DefaultSocketTimeout
	}
	conn, err := net.DialTimeout("tcp", addr, socketTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dbserver: dial player %d", targetPlayer)
	}

	c := &Client{
		TargetPlayer:   targetPlayer,
		PosingAsPlayer: posingAsPlayer,
		conn:           conn,
		socketTimeout:  socketTimeout,
	}

	if _, err := c.simpleRequest(SetupReq, MenuAvailable, NewNumberField(uint32(posingAsPlayer))); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "dbserver: setup")
	}
	return c, nil
}

// Close writes a best-effort TEARDOWN_REQ and closes the socket. Safe to
// call more than once.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	_ = c.writeMessage(&Message{Type: TeardownReq, Transaction: c.nextTxn()})
	c.conn.Close()
	c.mu.Unlock()
}

func (c *Client) nextTxn() uint32 {
	return atomic.AddUint32(&c.txnCounter, 1)
}

func (c *Client) writeMessage(m *Message) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.socketTimeout))
	return m.Write(c.conn)
}

func (c *Client) readMessage() (*Message, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.socketTimeout))
	m, err := ReadMessage(c.conn)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrIoTimeout
		}
		return nil, err
	}
	return m, nil
}

// simpleRequest sends a single request message built from typ and args,
// then reads replies until one matches the transaction ID. A response of
// INVALID_DATA, or one whose type doesn't match want (when want != 0), is
// a protocol violation.
func (c *Client) simpleRequest(typ KnownType, want KnownType, args ...Field) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	txn := c.nextTxn()
	req := &Message{Transaction: txn, Type: typ, Arguments: args}
	if err := c.writeMessage(req); err != nil {
		return nil, errors.Wrap(err, "dbserver: write request")
	}

	for {
		resp, err := c.readMessage()
		if err != nil {
			return nil, errors.Wrap(err, "dbserver: read response")
		}
		if resp.Transaction != txn {
			continue // a stale reply from a previous request; keep draining
		}
		if resp.Type == InvalidData {
			return nil, ErrProtocolViolation
		}
		if want != 0 && resp.Type != want {
			return nil, fmt.Errorf("%w: expected %#04x, got %#04x", ErrProtocolViolation, want, resp.Type)
		}
		return resp, nil
	}
}

// menuRequestNumber packs an identifier/slot/track-type into the 32-bit
// "RMST" style composite argument several menu requests take as their
// first field, following the protocol's encoding of (slot, type) into a
// single number rather than separate fields.
func menuRequestNumber(slot, trackType byte, ident MenuIdentifier) uint32 {
	return uint32(ident)<<16 | uint32(slot)<<8 | uint32(trackType)
}

// menuRequest sends a menu request (root/genre/artist/album/track/etc.)
// and returns the MENU_AVAILABLE response announcing the item count.
func (c *Client) menuRequest(ctx context.Context, typ KnownType, slot, trackType byte, ident MenuIdentifier, extra ...Field) (*Message, error) {
	args := append([]Field{NewNumberField(uint32(c.PosingAsPlayer)), NewNumberField(menuRequestNumber(slot, trackType, ident))}, extra...)
	return c.withMenuLock(ctx, func() (*Message, error) {
		return c.simpleRequest(typ, MenuAvailable, args...)
	})
}

// RequestMenuItems performs a complete menu exchange: a menu-availability
// request followed by a RENDER_MENU_REQ page covering every item it
// announced. Returns nil (no error) when the availability response
// reports zero results.
func (c *Client) RequestMenuItems(ctx context.Context, typ KnownType, slot, trackType byte, extra ...Field) ([]*Message, error) {
	avail, err := c.menuRequest(ctx, typ, slot, trackType, MenuIdentifierMainMenu, extra...)
	if err != nil {
		return nil, err
	}
	count, ok := avail.MenuResultsCount()
	if !ok || count == 0 {
		return nil, nil
	}
	return c.renderMenuItems(ctx, count)
}

// RequestBinary issues a single request/response exchange for a kind
// that answers with one binary payload directly (beat grid, waveform
// preview/detail, album art, analysis tags) rather than a rendered menu,
// and returns that payload.
func (c *Client) RequestBinary(typ, want KnownType, slot, trackType byte, rekordboxID uint32, extra ...Field) ([]byte, error) {
	args := append([]Field{
		NewNumberField(uint32(c.PosingAsPlayer)),
		NewNumberField(menuRequestNumber(slot, trackType, MenuIdentifierMainMenu)),
		NewNumberField(rekordboxID),
	}, extra...)

	resp, err := c.simpleRequest(typ, want, args...)
	if err != nil {
		return nil, err
	}
	for _, arg := range resp.Arguments {
		if b, ok := arg.(BinaryField); ok {
			return b.Value, nil
		}
	}
	return nil, fmt.Errorf("%w: %#04x response missing binary payload", ErrProtocolViolation, typ)
}

// ErrMenuLockTimeout is returned by lockMenu (and so by withMenuLock and
// renderMenuItems) when another caller holds the menu exchange lock for
// longer than menuLockTimeout.
var ErrMenuLockTimeout = errors.New("dbserver: menu lock timeout")

const menuLockTimeout = 20 * time.Second

func (c *Client) withMenuLock(ctx context.Context, fn func() (*Message, error)) (*Message, error) {
	unlock, err := c.lockMenu(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return fn()
}

// lockMenu acquires the menu exchange lock, waiting up to menuLockTimeout,
// and returns a function to release it.
func (c *Client) lockMenu(ctx context.Context) (func(), error) {
	acquired := make(chan struct{})
	go func() {
		c.menuMu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return c.menuMu.Unlock, nil
	case <-time.After(menuLockTimeout):
		return nil, ErrMenuLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// renderMenuItems pages through RENDER_MENU_REQ for a menu whose
// availability was already confirmed, collecting every MENU_ITEM between
// the MENU_HEADER and MENU_FOOTER that bracket the page.
func (c *Client) renderMenuItems(ctx context.Context, count int) ([]*Message, error) {
	unlock, err := c.lockMenu(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req := &Message{
		Transaction: c.nextTxn(),
		Type:        RenderMenuReq,
		Arguments: []Field{
			NewNumberField(uint32(c.PosingAsPlayer)),
			NewNumberField(0),
			NewNumberField(uint32(count)),
			NewNumberField(uint32(count)),
			NewNumberField(0),
			NewNumberField(0),
		},
	}

	c.mu.Lock()
	writeErr := c.writeMessage(req)
	c.mu.Unlock()
	if err := writeErr; err != nil {
		return nil, errors.Wrap(err, "dbserver: write render request")
	}

	var items []*Message
	sawHeader := false
	for {
		c.mu.Lock()
		resp, err := c.readMessage()
		c.mu.Unlock()
		if err != nil {
			return nil, errors.Wrap(err, "dbserver: read render response")
		}
		if resp.Transaction != req.Transaction {
			continue
		}
		switch resp.Type {
		case MenuHeader:
			sawHeader = true
		case MenuItem:
			items = append(items, resp)
		case MenuFooter:
			return items, nil
		case InvalidData:
			return nil, ErrProtocolViolation
		default:
			if !sawHeader {
				return nil, fmt.Errorf("%w: expected MENU_HEADER, got %#04x", ErrProtocolViolation, resp.Type)
			}
		}
	}
}
