package platform

import (
	"net"
)

// ipv4Mask returns the 4-byte form of mask; 16-byte masks keep their last four bytes
func ipv4Mask(mask net.IPMask) net.IPMask {
	switch len(mask) {
	case net.IPv4len:
		return mask
	case net.IPv6len:
		return mask[12:]
	default:
		return net.CIDRMask(32, 32)
	}
}
