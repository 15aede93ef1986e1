package entities

import (
	"encoding/binary"
	"net"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Key returns the identity of a route: destination, mask, next hop and interface.
// Two rows with the same key are the same forwarding entry as far as the OS is concerned.
func (r RouteEntry) Key() uint64 {
	h := xxhash.New()
	writeIPv4(h, r.Destination)
	writeIPv4(h, net.IP(r.Mask))
	writeIPv4(h, r.NextHop)

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], r.InterfaceIndex)
	_, _ = h.Write(buf[:])

	return h.Sum64()
}

// Fingerprint hashes every field of every row, independent of row order.
// Equal fingerprints mean the tables are identical.
func Fingerprint(routes []RouteEntry) uint64 {
	sums := make([]uint64, 0, len(routes))
	for _, r := range routes {
		h := xxhash.New()
		writeIPv4(h, r.Destination)
		writeIPv4(h, net.IP(r.Mask))
		writeIPv4(h, r.NextHop)

		var buf [16]byte
		binary.BigEndian.PutUint32(buf[0:], r.InterfaceIndex)
		binary.BigEndian.PutUint32(buf[4:], r.Metric)
		binary.BigEndian.PutUint32(buf[8:], r.Type)
		binary.BigEndian.PutUint32(buf[12:], r.Protocol)
		_, _ = h.Write(buf[:])

		sums = append(sums, h.Sum64())
	}
	sort.Slice(sums, func(i, j int) bool { return sums[i] < sums[j] })

	h := xxhash.New()
	var buf [8]byte
	for _, s := range sums {
		binary.BigEndian.PutUint64(buf[:], s)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

func writeIPv4(h *xxhash.Digest, ip net.IP) {
	if ip4 := ip.To4(); ip4 != nil {
		_, _ = h.Write(ip4)
		return
	}
	if len(ip) == net.IPv6len {
		// 16-byte masks carry the IPv4 part in the last four bytes
		_, _ = h.Write(ip[12:])
		return
	}
	_, _ = h.Write([]byte{0, 0, 0, 0})
}
