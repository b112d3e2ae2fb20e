package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/robot-control/rgw/internal/adapter"
	"github.com/robot-control/rgw/internal/audit"
	"github.com/robot-control/rgw/internal/config"
	"github.com/robot-control/rgw/internal/metrics"
	"github.com/robot-control/rgw/internal/model"
	"github.com/robot-control/rgw/internal/telemetry"
	"github.com/robot-control/rgw/internal/tracing"
)

// DefaultTimeout bounds an operation whose configured timeout is not positive.
const DefaultTimeout = 30 * time.Second

// Dispatcher routes canonical commands to vendor adapters. It is safe for
// concurrent use; unrelated commands never wait on each other.
type Dispatcher struct {
	resolver Resolver
	timeouts config.TimeoutConfig

	auditLogger AuditLogger
	events      EventPublisher
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAuditLogger records every dispatch in the audit log.
func WithAuditLogger(l AuditLogger) Option {
	return func(d *Dispatcher) { d.auditLogger = l }
}

// WithEvents publishes command events.
func WithEvents(p EventPublisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// WithMetrics records command counters and latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer overrides the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher over resolver.
func NewDispatcher(resolver Resolver, timeouts config.TimeoutConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver: resolver,
		timeouts: timeouts,
		tracer:   tracing.Tracer(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ExecuteRecipe dispatches a recipe run.
func (d *Dispatcher) ExecuteRecipe(ctx context.Context, vendorID, robotID string, recipe *model.Recipe) (*model.Result, error) {
	return d.Dispatch(ctx, &model.CommandRequest{VendorID: vendorID, RobotID: robotID, Operation: model.OpExecuteRecipe, Payload: recipe})
}

// CaptureImage dispatches an image capture.
func (d *Dispatcher) CaptureImage(ctx context.Context, vendorID, robotID string, params *model.ImageParams) (*model.Result, error) {
	return d.Dispatch(ctx, &model.CommandRequest{VendorID: vendorID, RobotID: robotID, Operation: model.OpCaptureImage, Payload: params})
}

// Unscrew dispatches an unscrew action.
func (d *Dispatcher) Unscrew(ctx context.Context, vendorID, robotID string, params *model.UnscrewParams) (*model.Result, error) {
	return d.Dispatch(ctx, &model.CommandRequest{VendorID: vendorID, RobotID: robotID, Operation: model.OpUnscrew, Payload: params})
}

// Dispatch validates req, resolves its vendor adapter and invokes the
// matching operation under the operation's timeout. It returns either a
// result or a *model.Failure, never both and never neither.
func (d *Dispatcher) Dispatch(ctx context.Context, req *model.CommandRequest) (*model.Result, error) {
	start := time.Now()
	if req == nil {
		req = &model.CommandRequest{}
	}

	ctx, span := d.tracer.Start(ctx, "dispatch "+string(req.Operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("rgw.vendor", req.VendorID),
			attribute.String("rgw.operation", string(req.Operation)),
			attribute.String("rgw.robot_id", req.RobotID),
		),
	)
	defer span.End()

	res, vendor, failure := d.dispatch(ctx, req)
	latency := time.Since(start)

	if failure != nil {
		span.SetStatus(codes.Error, string(failure.Kind))
		span.SetAttributes(attribute.String("rgw.failure_kind", string(failure.Kind)))
	}
	d.record(ctx, req, vendor, failure, latency)

	if failure != nil {
		return nil, failure
	}
	return res, nil
}

// dispatch runs the command. vendor is the registered identifier of the
// resolved adapter, or empty when the request never reached one.
func (d *Dispatcher) dispatch(ctx context.Context, req *model.CommandRequest) (res *model.Result, vendor string, failure *model.Failure) {
	if err := model.ValidateRequest(req); err != nil {
		return nil, "", validationFailure(err)
	}

	a, err := d.resolver.Resolve(req.VendorID)
	if err != nil {
		if errors.Is(err, model.ErrUnsupportedVendor) {
			return nil, "", model.Failf(model.KindUnsupportedVendor, "vendor %q is not supported", req.VendorID).WithCause(err)
		}
		return nil, "", model.Failf(model.KindInternalError, "vendor resolution failed").WithCause(err)
	}
	vendor = a.Vendor()

	timeout := d.timeouts.For(req.Operation)
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := d.metrics.TrackInFlight(vendor)
	defer done()

	outcome := make(chan callResult, 1)
	go func() {
		outcome <- d.invoke(callCtx, a, req)
	}()

	select {
	case r := <-outcome:
		res, failure = d.normalize(req, r)
		return res, vendor, failure
	case <-callCtx.Done():
		// The adapter ignored cancellation; its goroutine finishes on its own
		// and the buffered channel absorbs the late result.
		return nil, vendor, model.Failf(model.KindVendorUnavailable, "%s did not respond within %v", vendor, timeout).
			WithDetail(map[string]any{"vendor": vendor, "error": callCtx.Err().Error()}).
			WithCause(callCtx.Err())
	}
}

type callResult struct {
	res      *model.Result
	err      error
	panicked any
}

func (d *Dispatcher) invoke(ctx context.Context, a adapter.VendorAdapter, req *model.CommandRequest) (out callResult) {
	defer func() {
		if r := recover(); r != nil {
			out = callResult{panicked: r}
		}
	}()

	switch p := req.Payload.(type) {
	case *model.Recipe:
		out.res, out.err = a.ExecuteRecipe(ctx, p, req.RobotID)
	case *model.ImageParams:
		out.res, out.err = a.CaptureImage(ctx, p, req.RobotID)
	case *model.UnscrewParams:
		out.res, out.err = a.Unscrew(ctx, p, req.RobotID)
	default:
		out.err = fmt.Errorf("no adapter operation for payload %T", req.Payload)
	}
	return out
}

func (d *Dispatcher) normalize(req *model.CommandRequest, r callResult) (*model.Result, *model.Failure) {
	if r.panicked != nil {
		d.logger.Error("adapter panicked",
			zap.String("vendor", req.VendorID),
			zap.String("operation", string(req.Operation)),
			zap.Any("panic", r.panicked),
			zap.Stack("stack"),
		)
		return nil, model.Failf(model.KindInternalError, "internal error while executing %s", req.Operation)
	}

	if r.err != nil {
		if f, ok := model.AsFailure(r.err); ok {
			return nil, f
		}
		if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled) {
			return nil, adapter.NormalizeVendorError(req.VendorID, r.err, nil)
		}
		d.logger.Error("adapter returned an unnormalized error",
			zap.String("vendor", req.VendorID),
			zap.String("operation", string(req.Operation)),
			zap.Error(r.err),
		)
		return nil, model.Failf(model.KindInternalError, "internal error while executing %s", req.Operation).WithCause(r.err)
	}

	if r.res == nil {
		return nil, model.Failf(model.KindInternalError, "%s returned no result for %s", req.VendorID, req.Operation)
	}
	return r.res, nil
}

func validationFailure(err error) *model.Failure {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return verr.Failure()
	}
	return model.Failf(model.KindInvalidRequest, "%v", err).WithCause(err)
}

// record reports the outcome to every observer. Metrics and telemetry are
// keyed by the resolved vendor so request input cannot grow their label or
// buffer sets; the audit log keeps the identifier as received.
func (d *Dispatcher) record(ctx context.Context, req *model.CommandRequest, vendor string, failure *model.Failure, latency time.Duration) {
	correlationID := CorrelationID(ctx)
	fields := []zap.Field{
		zap.String("vendor", req.VendorID),
		zap.String("operation", string(req.Operation)),
		zap.String("robot_id", req.RobotID),
		zap.Duration("latency", latency),
		zap.String("correlation_id", correlationID),
	}

	code := audit.OutcomeSuccess
	message := ""
	kind := ""
	eventType := telemetry.EventCommandSucceeded
	if failure != nil {
		kind = string(failure.Kind)
		code = kind
		message = failure.Message
		eventType = telemetry.EventCommandFailed
		fields = append(fields, zap.String("kind", kind), zap.String("message", failure.Message),
			zap.String("failure", adapter.Describe(failure)))
		if failure.Kind == model.KindInternalError || failure.Kind == model.KindVendorUnavailable {
			d.logger.Warn("command failed", fields...)
		} else {
			d.logger.Info("command failed", fields...)
		}
	} else {
		d.logger.Info("command succeeded", fields...)
	}

	vendorLabel, operationLabel := vendor, string(req.Operation)
	if vendorLabel == "" {
		vendorLabel = metrics.LabelUnknown
	}
	if !req.Operation.Valid() {
		operationLabel = metrics.LabelUnknown
	}
	d.metrics.ObserveCommand(vendorLabel, operationLabel, kind, latency)

	if d.auditLogger != nil {
		d.auditLogger.Log(ctx, audit.Record{
			CorrelationID: correlationID,
			Vendor:        req.VendorID,
			RobotID:       req.RobotID,
			Operation:     string(req.Operation),
			Params:        auditParams(req.Payload),
			Code:          code,
			Message:       message,
			Latency:       latency,
		})
	}

	if d.events != nil && vendor != "" {
		data := map[string]interface{}{
			"operation":     string(req.Operation),
			"robotId":       req.RobotID,
			"correlationId": correlationID,
			"latencyMs":     latency.Milliseconds(),
			"ts":            time.Now().UTC().Format(time.RFC3339),
		}
		if failure != nil {
			data["kind"] = kind
			data["message"] = failure.Message
		}
		d.events.PublishVendor(vendor, eventType, data)
	}
}

// auditParams summarises a payload for the audit log.
func auditParams(p model.Payload) map[string]any {
	switch v := p.(type) {
	case *model.Recipe:
		if v == nil {
			return nil
		}
		actions := make([]string, 0, len(v.Steps))
		for _, s := range v.Steps {
			actions = append(actions, string(s.ActionType))
		}
		return map[string]any{"recipe": v.Name, "steps": actions}
	case *model.ImageParams:
		if v == nil {
			return nil
		}
		out := map[string]any{"fullImage": v.FullImage, "includePointcloud": v.IncludePointcloud}
		if v.Coordinates != nil {
			out["coordinates"] = *v.Coordinates
		}
		return out
	case *model.UnscrewParams:
		if v == nil {
			return nil
		}
		out := map[string]any{"automatic": v.Automatic}
		if v.Coordinates != nil {
			out["coordinates"] = *v.Coordinates
		}
		return out
	}
	return nil
}
