package platform

import (
	"encoding/binary"
	"fmt"
	"net"
	"syscall"

	"github.com/wesleywu/tunroute/internal/logger"
	"github.com/wesleywu/tunroute/internal/routing/entities"
)

// mibIPForwardRow mirrors MIB_IPFORWARDROW. Addresses are stored in network
// byte order inside a DWORD, so on a little-endian host the first octet is
// the low byte.
type mibIPForwardRow struct {
	ForwardDest      uint32
	ForwardMask      uint32
	ForwardPolicy    uint32
	ForwardNextHop   uint32
	ForwardIfIndex   uint32
	ForwardType      uint32
	ForwardProto     uint32
	ForwardAge       uint32
	ForwardNextHopAS uint32
	ForwardMetric1   uint32
	ForwardMetric2   uint32
	ForwardMetric3   uint32
	ForwardMetric4   uint32
	ForwardMetric5   uint32
}

const (
	forwardRowSize   = 14 * 4
	forwardTableHead = 4 // dwNumEntries

	errInsufficientBuffer = 122 // ERROR_INSUFFICIENT_BUFFER
)

// forwardTableFunc fills buf with the forward table and returns a Win32
// error code. On ERROR_INSUFFICIENT_BUFFER it stores the size it needs.
type forwardTableFunc func(buf []byte, size *uint32) uintptr

// fetchForwardTable asks fetch for the table with a one-row buffer, then
// regrows the buffer exactly once to the size fetch reported. A table that
// grew again in between is a fetch failure.
func fetchForwardTable(fetch forwardTableFunc, log *logger.Logger) ([]mibIPForwardRow, error) {
	size := uint32(forwardTableHead + forwardRowSize)
	buf := make([]byte, size)
	ret := fetch(buf, &size)
	if ret == errInsufficientBuffer {
		log.Debug("forward table buffer too small", "required", size)
		buf = make([]byte, size)
		ret = fetch(buf, &size)
	}
	if ret != 0 {
		return nil, entities.NewError(entities.ErrTableFetch, syscall.Errno(ret), "could not query routing table")
	}

	rows, err := parseForwardTable(buf)
	if err != nil {
		return nil, entities.NewError(entities.ErrTableFetch, err, "could not query routing table")
	}
	return rows, nil
}

func ipToDword(ip net.IP) uint32 {
	ip4 := entities.To4(ip)
	if ip4 == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(ip4)
}

func dwordToIP(v uint32) net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.LittleEndian.PutUint32(ip, v)
	return ip
}

func rowFromEntry(r entities.RouteEntry) mibIPForwardRow {
	return mibIPForwardRow{
		ForwardDest:    ipToDword(r.Destination),
		ForwardMask:    ipToDword(net.IP(ipv4Mask(r.Mask))),
		ForwardNextHop: ipToDword(r.NextHop),
		ForwardIfIndex: r.InterfaceIndex,
		ForwardType:    r.Type,
		ForwardProto:   r.Protocol,
		ForwardMetric1: r.Metric,
	}
}

func entryFromRow(row mibIPForwardRow) entities.RouteEntry {
	return entities.RouteEntry{
		Destination:    dwordToIP(row.ForwardDest),
		Mask:           net.IPMask(dwordToIP(row.ForwardMask)),
		NextHop:        dwordToIP(row.ForwardNextHop),
		InterfaceIndex: row.ForwardIfIndex,
		Metric:         row.ForwardMetric1,
		Type:           row.ForwardType,
		Protocol:       row.ForwardProto,
		Native:         row,
	}
}

// parseForwardTable decodes a MIB_IPFORWARDTABLE as filled in by GetIpForwardTable
func parseForwardTable(buf []byte) ([]mibIPForwardRow, error) {
	if len(buf) < forwardTableHead {
		return nil, fmt.Errorf("forward table too short: %d bytes", len(buf))
	}
	n := int(binary.LittleEndian.Uint32(buf))
	if need := forwardTableHead + n*forwardRowSize; len(buf) < need {
		return nil, fmt.Errorf("forward table truncated: %d rows need %d bytes, have %d", n, need, len(buf))
	}

	rows := make([]mibIPForwardRow, n)
	for i := range rows {
		off := forwardTableHead + i*forwardRowSize
		var f [14]uint32
		for j := range f {
			f[j] = binary.LittleEndian.Uint32(buf[off+j*4:])
		}
		rows[i] = mibIPForwardRow{
			ForwardDest:      f[0],
			ForwardMask:      f[1],
			ForwardPolicy:    f[2],
			ForwardNextHop:   f[3],
			ForwardIfIndex:   f[4],
			ForwardType:      f[5],
			ForwardProto:     f[6],
			ForwardAge:       f[7],
			ForwardNextHopAS: f[8],
			ForwardMetric1:   f[9],
			ForwardMetric2:   f[10],
			ForwardMetric3:   f[11],
			ForwardMetric4:   f[12],
			ForwardMetric5:   f[13],
		}
	}
	return rows, nil
}
