package common

import (
	"context"
	"net"
)

// IsIPv6Available reports whether the host has a routable IPv6 address.
func IsIPv6Available() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.To4() == nil && ipNet.IP.IsGlobalUnicast() {
			return true
		}
	}

	return false
}

func DialContextIPv6(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp6", address)
}
