// Package netutil enumerates local IPv4 addresses and the broadcast
// addresses reachable from this host, for use by discovery.
package netutil

import (
	"net"
	"os"
	"strings"
)

// LocalIPv4 picks a usable local IPv4 address for display purposes,
// preferring RFC1918 ranges in the order 10/8, 172.16/12, 192.168/16,
// falling back to any other non-loopback IPv4, then to 0.0.0.0.
func LocalIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "0.0.0.0"
	}

	var tenNet, oneSeventyTwo, oneNinetyTwo, other string

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		ip := ip4.String()
		switch {
		case strings.HasPrefix(ip, "10."):
			if tenNet == "" {
				tenNet = ip
			}
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
			if oneSeventyTwo == "" {
				oneSeventyTwo = ip
			}
		case strings.HasPrefix(ip, "192.168."):
			if oneNinetyTwo == "" {
				oneNinetyTwo = ip
			}
		default:
			if other == "" {
				other = ip
			}
		}
	}

	for _, candidate := range []string{tenNet, oneSeventyTwo, oneNinetyTwo, other} {
		if candidate != "" {
			return candidate
		}
	}
	return "0.0.0.0"
}

// BroadcastAddresses returns the per-interface IPv4 broadcast address for
// every non-loopback interface with an assigned address, plus the limited
// broadcast address 255.255.255.255.
func BroadcastAddresses() []string {
	addrs := map[string]struct{}{"255.255.255.255": {}}

	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		keys := make([]string, 0, len(addrs))
		for k := range addrs {
			keys = append(keys, k)
		}
		return keys
	}

	for _, addr := range ifaceAddrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		mask := ipNet.Mask
		if len(mask) == net.IPv6len {
			mask = mask[12:]
		}
		if len(mask) != net.IPv4len {
			continue
		}
		bcast := make(net.IP, net.IPv4len)
		for i := 0; i < net.IPv4len; i++ {
			bcast[i] = ip4[i] | ^mask[i]
		}
		addrs[bcast.String()] = struct{}{}
	}

	out := make([]string, 0, len(addrs))
	for k := range addrs {
		out = append(out, k)
	}
	return out
}

// Hostname returns the machine hostname, or "unknown" if it cannot be read.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}
