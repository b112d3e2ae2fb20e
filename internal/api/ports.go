package api

import (
	"context"
	"net/http"

	"github.com/robot-control/rgw/internal/command"
	"github.com/robot-control/rgw/internal/registry"
	"github.com/robot-control/rgw/internal/telemetry"
)

// DispatcherPort is the dispatcher contract consumed by the command routes.
type DispatcherPort = command.DispatcherPort

// VendorLister describes the registered vendors.
type VendorLister interface {
	Vendors() []string
	Describe() []registry.VendorInfo
}

// TelemetryPort serves the command event stream.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	ClientCount() int
}

var (
	_ VendorLister  = (*registry.Registry)(nil)
	_ TelemetryPort = (*telemetry.Hub)(nil)
)
