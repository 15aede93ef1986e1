//go:build !linux && !windows && !darwin

package platform

import (
	"fmt"
	"runtime"

	"github.com/wesleywu/tunroute/internal/logger"
	"github.com/wesleywu/tunroute/internal/routing/entities"
)

// NewPlatformRouteManager reports that this platform has no route manager
func NewPlatformRouteManager(log *logger.Logger) (entities.RouteManager, error) {
	return nil, fmt.Errorf("route management is not supported on %s", runtime.GOOS)
}
