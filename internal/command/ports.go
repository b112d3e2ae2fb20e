package command

import (
	"context"

	"github.com/robot-control/rgw/internal/adapter"
	"github.com/robot-control/rgw/internal/audit"
	"github.com/robot-control/rgw/internal/model"
	"github.com/robot-control/rgw/internal/registry"
	"github.com/robot-control/rgw/internal/telemetry"
)

// DispatcherPort is what the transport boundary needs from the dispatcher.
type DispatcherPort interface {
	Dispatch(ctx context.Context, req *model.CommandRequest) (*model.Result, error)
}

// Resolver maps vendor identifiers to adapters.
type Resolver interface {
	Resolve(vendorID string) (adapter.VendorAdapter, error)
}

// AuditLogger records dispatched commands.
type AuditLogger interface {
	Log(ctx context.Context, rec audit.Record)
}

// EventPublisher receives command events.
type EventPublisher interface {
	PublishVendor(vendorID, eventType string, data map[string]interface{})
}

var (
	_ DispatcherPort = (*Dispatcher)(nil)
	_ Resolver       = (*registry.Registry)(nil)
	_ AuditLogger    = (*audit.Logger)(nil)
	_ EventPublisher = (*telemetry.Hub)(nil)
)

type correlationKey struct{}

// WithCorrelationID attaches a request correlation ID to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation ID stored in ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
