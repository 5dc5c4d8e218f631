// Package netutil discovers the host's primary network identity: the
// MAC address a doip.ServerConfig uses as the entity's EID (spec.md §5)
// absent an explicit override, and the interface its announcements
// should be broadcast from.
//
// Grounded on net.Interfaces() directly: none of the retrieved example
// repos or other_examples/ files wire a third-party library for MAC
// address discovery (the CAN-adjacent ones deal with arbitration IDs,
// not interface hardware addresses), and net.Interfaces is the complete,
// portable answer to this one question, so reaching for a dependency
// here would add an import with nothing behind it.
package netutil

import (
	"fmt"
	"net"
)

// PrimaryMAC returns the hardware address of the first up, non-loopback
// interface that has one, formatted as the 6 bytes a doip EID/GID field
// expects.
func PrimaryMAC() ([6]byte, error) {
	var mac [6]byte
	ifaces, err := net.Interfaces()
	if err != nil {
		return mac, fmt.Errorf("netutil: list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) != 6 {
			continue
		}
		copy(mac[:], iface.HardwareAddr)
		return mac, nil
	}
	return mac, fmt.Errorf("netutil: no interface with a MAC address found")
}

// BroadcastAddr returns the IPv4 broadcast address of the first IPv4
// network configured on iface, computed from its address and mask.
func BroadcastAddr(iface string) (net.IP, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("netutil: lookup interface %s: %w", iface, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, fmt.Errorf("netutil: addresses for %s: %w", iface, err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.To4() == nil {
			continue
		}
		bcast := make(net.IP, len(ipNet.IP.To4()))
		for i := range bcast {
			bcast[i] = ipNet.IP.To4()[i] | ^ipNet.Mask[i]
		}
		return bcast, nil
	}
	return nil, fmt.Errorf("netutil: no IPv4 address on %s", iface)
}
