package canon

import (
	"net"
	"strings"
)

// privateCIDRs are the reserved/private ranges consulted by IsPrivateIP,
// grounded on the teacher's httpgw.safeDialContext blocklist and extended
// with the current-network and IPv4-mapped-IPv6 cases the gateway's
// SSRF defense additionally requires.
var privateCIDRs = mustParseCIDRs([]string{
	"127.0.0.0/8",    // IPv4 loopback
	"10.0.0.0/8",     // RFC 1918
	"172.16.0.0/12",  // RFC 1918
	"192.168.0.0/16", // RFC 1918
	"169.254.0.0/16", // link-local
	"0.0.0.0/8",      // "this network"
	"::1/128",        // IPv6 loopback
	"fe80::/10",      // IPv6 link-local
	"fc00::/7",       // IPv6 unique-local
})

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("canon: invalid built-in CIDR " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

// ParseIP parses s as an IPv4 or IPv6 address, including zone ids
// (e.g. "fe80::1%eth0") and IPv4-mapped IPv6 literals ("::ffff:10.0.0.1").
// It returns nil, false on failure.
func ParseIP(s string) (net.IP, bool) {
	if s == "" {
		return nil, false
	}
	host := s
	if idx := strings.IndexByte(host, '%'); idx >= 0 {
		host = host[:idx]
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, false
	}
	return ip, true
}

// normalizeIP collapses an IPv4-mapped IPv6 address ("::ffff:a.b.c.d") down
// to its 4-byte form so CIDR containment checks behave consistently
// regardless of which family the literal was written in.
func normalizeIP(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// IsPrivateIP reports whether ip falls within loopback, RFC1918, link-local,
// current-network, or IPv6 unique-local ranges. Any string that fails to
// parse as an IP is treated as private (fail-closed), per the gateway's
// SSRF defense requirements.
func IsPrivateIP(s string) bool {
	ip, ok := ParseIP(s)
	if !ok {
		return true
	}
	ip = normalizeIP(ip)
	for _, n := range privateCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// IPInCIDR reports whether the IP address s lies within the CIDR block
// cidr. IPv4-mapped IPv6 addresses are coerced to IPv4 (and vice versa via
// the 4-in-6 mapped form) before the containment check so a v4 literal
// matches a v4 CIDR and a ::ffff:-mapped form of the same address matches
// identically.
func IPInCIDR(s, cidr string) bool {
	ip, ok := ParseIP(s)
	if !ok {
		return false
	}
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}

	ip = normalizeIP(ip)
	netIP := normalizeIP(network.IP)

	if len(ip) == len(netIP) {
		return network.Contains(ip)
	}

	// Family mismatch between the parsed IP and the CIDR's own family: try
	// coercing the IP to the CIDR's family representation before giving up.
	if len(netIP) == net.IPv4len && len(ip) == net.IPv6len {
		if v4 := ip.To4(); v4 != nil {
			return network.Contains(v4)
		}
	}
	if len(netIP) == net.IPv6len && len(ip) == net.IPv4len {
		return network.Contains(ip.To16())
	}
	return false
}
