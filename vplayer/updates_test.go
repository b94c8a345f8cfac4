package vplayer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prolink/packet"
)

func TestProcessUpdateStoresLatestAndFansOut(t *testing.T) {
	h := newHandoff(1)
	tr := newUpdateTracker(0.0001, h)

	var seen packet.DeviceUpdate
	tr.OnDeviceUpdate(func(u packet.DeviceUpdate) { seen = u })

	status := &packet.CDJStatus{Sender: net.IPv4(10, 0, 0, 2), DeviceID: 2, ReceivedAt: time.Now(), HandoffTarget: packet.NoHandoffTarget}
	tr.process(status)

	require.Same(t, status, seen)
	snap := tr.snapshot()
	require.Contains(t, snap, packet.DeviceID(2))
}

func TestTempoChangeFiresOnlyBeyondEpsilon(t *testing.T) {
	h := newHandoff(1)
	tr := newUpdateTracker(0.5, h)

	var fired int
	tr.OnTempoChange(func(float64) { fired++ })

	base := &packet.CDJStatus{Sender: net.IPv4(10, 0, 0, 3), DeviceID: 3, Pitch: packet.NeutralPitch, BPMTimes100: 12800, StatusFlags: packet.FlagMaster, HandoffTarget: packet.NoHandoffTarget}
	tr.process(base)
	require.Equal(t, 1, fired)

	tiny := &packet.CDJStatus{Sender: net.IPv4(10, 0, 0, 3), DeviceID: 3, Pitch: packet.NeutralPitch, BPMTimes100: 12801, StatusFlags: packet.FlagMaster, HandoffTarget: packet.NoHandoffTarget}
	tr.process(tiny)
	require.Equal(t, 1, fired, "a sub-epsilon change must not notify")

	big := &packet.CDJStatus{Sender: net.IPv4(10, 0, 0, 3), DeviceID: 3, Pitch: packet.NeutralPitch, BPMTimes100: 13000, StatusFlags: packet.FlagMaster, HandoffTarget: packet.NoHandoffTarget}
	tr.process(big)
	require.Equal(t, 2, fired)
}
