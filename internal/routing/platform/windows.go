//go:build windows

package platform

import (
	"fmt"
	"net"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.zx2c4.com/wireguard/windows/tunnel/winipcfg"

	"github.com/wesleywu/tunroute/internal/logger"
	"github.com/wesleywu/tunroute/internal/routing/entities"
)

var (
	modiphlpapi = windows.NewLazySystemDLL("iphlpapi.dll")

	procGetIpForwardTable    = modiphlpapi.NewProc("GetIpForwardTable")
	procCreateIpForwardEntry = modiphlpapi.NewProc("CreateIpForwardEntry")
	procDeleteIpForwardEntry = modiphlpapi.NewProc("DeleteIpForwardEntry")
	procGetBestInterface     = modiphlpapi.NewProc("GetBestInterface")
)

// WindowsRouteManager drives the IPv4 forward table through iphlpapi
type WindowsRouteManager struct {
	mutex  sync.Mutex
	logger *logger.Logger
}

// NewPlatformRouteManager creates a platform-specific route manager (Windows implementation)
func NewPlatformRouteManager(log *logger.Logger) (entities.RouteManager, error) {
	if err := modiphlpapi.Load(); err != nil {
		return nil, fmt.Errorf("failed to load iphlpapi.dll: %w", err)
	}
	return &WindowsRouteManager{logger: log.WithComponent("iphlpapi")}, nil
}

// Snapshot fetches the forward table with GetIpForwardTable
func (rm *WindowsRouteManager) Snapshot() ([]entities.RouteEntry, error) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	rows, err := fetchForwardTable(getIPForwardTable, rm.logger)
	if err != nil {
		return nil, err
	}

	entries := make([]entities.RouteEntry, len(rows))
	for i, row := range rows {
		entries[i] = entryFromRow(row)
	}
	return entries, nil
}

// CreateRoute adds route with CreateIpForwardEntry
func (rm *WindowsRouteManager) CreateRoute(route entities.RouteEntry) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	row := rowFromEntry(route)
	r, _, _ := procCreateIpForwardEntry.Call(uintptr(unsafe.Pointer(&row)))
	if r != 0 {
		return syscall.Errno(r)
	}
	return nil
}

// DeleteRoute removes the row as it was read, or one rebuilt from route
func (rm *WindowsRouteManager) DeleteRoute(route entities.RouteEntry) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	row, ok := route.Native.(mibIPForwardRow)
	if !ok {
		row = rowFromEntry(route)
	}
	r, _, _ := procDeleteIpForwardEntry.Call(uintptr(unsafe.Pointer(&row)))
	if r != 0 {
		return syscall.Errno(r)
	}
	return nil
}

// BestInterface returns the interface GetBestInterface picks for dst,
// along with that interface's IPv4 metric.
func (rm *WindowsRouteManager) BestInterface(dst net.IP) (entities.Interface, error) {
	var index uint32
	r, _, _ := procGetBestInterface.Call(uintptr(ipToDword(dst)), uintptr(unsafe.Pointer(&index)))
	if r != 0 {
		return entities.Interface{}, syscall.Errno(r)
	}

	luid, err := winipcfg.LUIDFromIndex(index)
	if err != nil {
		return entities.Interface{}, fmt.Errorf("failed to convert interface index %d: %w", index, err)
	}
	ipif, err := luid.IPInterface(windows.AF_INET)
	if err != nil {
		return entities.Interface{}, fmt.Errorf("failed to read IPv4 settings of interface %d: %w", index, err)
	}

	return entities.Interface{Index: index, Metric: ipif.Metric}, nil
}

// Close is a no-op; iphlpapi holds no per-manager handle
func (rm *WindowsRouteManager) Close() error {
	return nil
}

func getIPForwardTable(buf []byte, size *uint32) uintptr {
	r, _, _ := procGetIpForwardTable.Call(
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(size)),
		0,
	)
	return r
}
