package netutil

import (
	"context"
	"fmt"
	"net"
	"time"
)

// LocalInterface describes the network identity a virtual participant
// announces: its IP, MAC, and the broadcast address reaching peers on
// the same subnet.
type LocalInterface struct {
	IP        net.IP
	MAC       net.HardwareAddr
	Broadcast net.IP
}

// DiscoverLocalInterface waits (up to waitTimeout) for anchor to answer a
// transient UDP dial to anchorPort, then resolves the local interface
// that reached it by reading back the socket's local address. This picks
// the correct interface on a multi-homed host without the caller naming
// one. forceName, if non-empty, restricts the match to that interface.
func DiscoverLocalInterface(ctx context.Context, anchor net.IP, anchorPort int, forceName string) (*LocalInterface, error) {
	conn, err := net.Dial("udp4", fmt.Sprintf("%s:%d", anchor.String(), anchorPort))
	if err != nil {
		return nil, fmt.Errorf("netutil: discovering local interface: %w", err)
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	iface, mask, err := findInterfaceForIP(localAddr.IP, forceName)
	if err != nil {
		return nil, err
	}

	return &LocalInterface{
		IP:        localAddr.IP,
		MAC:       iface.HardwareAddr,
		Broadcast: BroadcastAddress(localAddr.IP, mask),
	}, nil
}

// WaitForAnchor polls finder (any type exposing CurrentDevices in the
// shape below) until it reports at least one peer, or ctx/timeout expires.
func WaitForAnchor(ctx context.Context, timeout time.Duration, currentAddrs func() []net.IP) (net.IP, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if addrs := currentAddrs(); len(addrs) > 0 {
			return addrs[0], nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("netutil: no device seen within %s", timeout)
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
	return nil, nil, fmt.Errorf("netutil: no local interface matches address %s", ip)
}

// BroadcastAddress computes the subnet broadcast address for ip given its
// netmask, falling back to the limited broadcast address.
func BroadcastAddress(ip net.IP, mask net.IPMask) net.IP {
	ip4 := ip.To4()
	if ip4 == nil || mask == nil || len(mask) != net.IPv4len {
		return net.IPv4bcast
	}
	out := make(net.IP, net.IPv4len)
	for i := range ip4 {
		out[i] = ip4[i] | ^mask[i]
	}
	return out
}
