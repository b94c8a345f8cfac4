// Package vrekordbox implements the Opus-compatibility layer: a virtual
// rekordbox node that lets an Opus Quad or XDJ-AZ (devices that cannot
// provide track metadata over the standard dbserver protocol) source
// metadata matches via the PSSI (song-structure) fragments they
// broadcast on the update port instead.
package vrekordbox

import "time"

// Device-number range a virtual rekordbox node self-assigns from. The
// real rekordbox application occupies this high range so it never
// collides with a CDJ's low, carefully-negotiated number.
const (
	SelfAssignRangeStart = 0x13
	SelfAssignRangeEnd   = 0x27 // inclusive
)

// SelfAssignWatchPeriod bounds how long Start waits for the device finder
// to report a first peer. Start picks the lowest free number in the
// self-assign range as soon as one is seen, and returns
// ErrNoDevicesVisible if none appears within this period.
const SelfAssignWatchPeriod = 4 * time.Second

// Config controls virtual-rekordbox behavior.
type Config struct {
	// DeviceName is carried in every keep-alive and lighting-status
	// packet this node sends; default "rekordbox".
	DeviceName string

	// AnnounceInterval is how often the keep-alive is broadcast; clamped
	// to [200ms, 2000ms], default 1500ms, matching the announce-interval
	// rule every other virtual participant in this module follows.
	AnnounceInterval time.Duration

	// NetworkInterface pins interface selection to a specific name;
	// empty means "whichever interface reaches the first observed peer".
	NetworkInterface string
}

func (c Config) normalize() Config {
	if c.DeviceName == "" {
		c.DeviceName = "rekordbox"
	}
	if c.AnnounceInterval == 0 {
		c.AnnounceInterval = 1500 * time.Millisecond
	} else if c.AnnounceInterval < 200*time.Millisecond {
		c.AnnounceInterval = 200 * time.Millisecond
	}
	if c.AnnounceInterval > 2*time.Second {
		c.AnnounceInterval = 2 * time.Second
	}
	return c
}
