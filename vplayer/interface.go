package vplayer

import (
	"context"
	"fmt"
	"net"
	"time"

	"prolink/device"
	"prolink/packet"
)

// localInterface describes the network identity this player will
// announce: its IP, MAC, and the broadcast address to reach peers on
// the same subnet.
type localInterface struct {
	IP        net.IP
	MAC       net.HardwareAddr
	Broadcast net.IP
}

// selectInterface waits (up to NetworkWaitTimeout) for the Device
// Finder to report at least one peer, then discovers the local
// interface that can reach it: opening a transient UDP socket
// connected to (anchor, update-port) and reading back the socket's
// local address picks the correct interface on a multi-homed host
// without requiring the caller to name one.
func selectInterface(ctx context.Context, finder *device.Finder, forceName string) (*localInterface, error) {
	anchor, err := waitForAnchor(ctx, finder)
	if err != nil {
		return nil, err
	}

	conn, err := net.Dial("udp4", fmt.Sprintf("%s:%d", anchor.String(), packet.PortUpdate))
	if err != nil {
		return nil, fmt.Errorf("vplayer: discovering local interface: %w", err)
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	iface, mask, err := findInterfaceForIP(localAddr.IP, forceName)
	if err != nil {
		return nil, err
	}

	return &localInterface{
		IP:        localAddr.IP,
		MAC:       iface.HardwareAddr,
		Broadcast: broadcastAddress(localAddr.IP, mask),
	}, nil
}

func waitForAnchor(ctx context.Context, finder *device.Finder) (net.IP, error) {
	ctx, cancel := context.WithTimeout(ctx, NetworkWaitTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if devs := finder.CurrentDevices(); len(devs) > 0 {
			return devs[0].Address, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("vplayer: no device seen within %s", NetworkWaitTimeout)
		case <-ticker.C:
		}
	}
}

func findInterfaceForIP(ip net.IP, forceName string) (*net.Interface, net.IPMask, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, err
	}
	for _, iface := range ifaces {
		if forceName != "" && iface.Name != forceName {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			if ipNet.IP.Equal(ip) {
				ifaceCopy := iface
				return &ifaceCopy, ipNet.Mask, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("vplayer: no local interface matches address %s", ip)
}
