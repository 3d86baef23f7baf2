package addrutil

import (
	"net"
	"strconv"
	"strings"
)

// ControllerAddr joins a controller host and port into a dialable address.
//
// host may already carry a port (e.g. copied from an ovs-vsctl target); the
// configured port always wins so the probe and the switches agree.
func ControllerAddr(host string, port int) (string, bool) {
	if port <= 0 || port > 65535 {
		return "", false
	}

	h := Host(host)
	if h == "" {
		return "", false
	}

	return net.JoinHostPort(h, strconv.Itoa(port)), true
}

// OpenFlowTarget renders the ovs-vsctl controller target for host:port.
func OpenFlowTarget(host string, port int) (string, bool) {
	addr, ok := ControllerAddr(host, port)
	if !ok {
		return "", false
	}
	return "tcp:" + addr, true
}

// Host strips an optional scheme and port from addr.
func Host(addr string) string {
	a := strings.TrimSpace(addr)
	a = strings.TrimPrefix(a, "tcp:")
	if a == "" {
		return ""
	}

	// Fast path: "host:port" (IPv4 or bracketed IPv6).
	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}

	// Handle unbracketed IPv6 "host:port" by peeling off the last ":port".
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			host := a[:last]
			port := a[last+1:]
			if _, err := strconv.Atoi(port); err == nil && net.ParseIP(host) != nil {
				return host
			}
		}
	}

	// If there's no port at all, accept raw IPs/hosts.
	if strings.Contains(a, ":") {
		// Likely raw IPv6 without port.
		return strings.Trim(a, "[]")
	}
	return a
}
