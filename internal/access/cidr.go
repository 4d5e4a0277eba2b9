package access

import (
	"fmt"
	"strconv"
	"strings"
)

// IPToUint32 converts a dotted IPv4 address to its unsigned value.
func IPToUint32(ip string) (uint32, error) {
	parts := strings.Split(strings.TrimSpace(ip), ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("invalid ip address: %q", ip)
	}
	var out uint32
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return 0, fmt.Errorf("invalid ip address: %q", ip)
		}
		out = out<<8 | uint32(n)
	}
	return out, nil
}

// CIDRRange returns the inclusive address range covered by cidr.
func CIDRRange(cidr string) (start, end uint32, err error) {
	addr, prefixRaw, ok := strings.Cut(strings.TrimSpace(cidr), "/")
	if !ok || addr == "" || prefixRaw == "" {
		return 0, 0, fmt.Errorf("invalid cidr notation: %q", cidr)
	}
	ipNum, err := IPToUint32(addr)
	if err != nil {
		return 0, 0, err
	}
	prefix, err := strconv.Atoi(prefixRaw)
	if err != nil || prefix < 0 || prefix > 32 {
		return 0, 0, fmt.Errorf("invalid cidr prefix: %q", prefixRaw)
	}
	size := uint64(1) << uint(32-prefix)
	mask := uint32(^uint64(0) << uint(32-prefix))
	start = ipNum & mask
	end = uint32(uint64(start) + size - 1)
	return start, end, nil
}

// IsIPInCIDR reports containment. Malformed input yields false.
func IsIPInCIDR(ip, cidr string) bool {
	n, err := IPToUint32(ip)
	if err != nil {
		return false
	}
	start, end, err := CIDRRange(cidr)
	if err != nil {
		return false
	}
	return n >= start && n <= end
}
