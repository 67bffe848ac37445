package netguard

import (
	"fmt"
	"net/netip"
	"strings"
)

// PrefixList matches addresses against exact IPs and CIDR ranges.
type PrefixList []netip.Prefix

// ParsePrefixList accepts bare addresses (as /32 or /128) and CIDR ranges.
func ParsePrefixList(entries []string) (PrefixList, error) {
	out := make(PrefixList, 0, len(entries))
	for _, raw := range entries {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if strings.Contains(val, "/") {
			p, err := netip.ParsePrefix(val)
			if err != nil {
				return nil, fmt.Errorf("invalid prefix %q: %w", val, err)
			}
			p, err = unmapPrefix(p)
			if err != nil {
				return nil, fmt.Errorf("invalid prefix %q: %w", val, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(val)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", val, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// unmapPrefix rewrites an IPv4-mapped range such as ::ffff:10.0.0.0/104 to
// 10.0.0.0/8, since Contains compares against unmapped addresses.
func unmapPrefix(p netip.Prefix) (netip.Prefix, error) {
	if !p.Addr().Is4In6() {
		return p, nil
	}
	if p.Bits() < 96 {
		return netip.Prefix{}, fmt.Errorf("ipv4-mapped prefix shorter than /96")
	}
	return netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96), nil
}

func (l PrefixList) Contains(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseIP strips an optional zone and port-less brackets; invalid input yields the zero Addr.
func ParseIP(raw string) netip.Addr {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}
	}
	return addr.WithZone("").Unmap()
}
