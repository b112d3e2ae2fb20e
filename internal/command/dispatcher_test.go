package command

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/robot-control/rgw/internal/adapter/companya"
	"github.com/robot-control/rgw/internal/adapter/companyb"
	"github.com/robot-control/rgw/internal/adapter/fake"
	"github.com/robot-control/rgw/internal/audit"
	"github.com/robot-control/rgw/internal/config"
	"github.com/robot-control/rgw/internal/metrics"
	"github.com/robot-control/rgw/internal/model"
	"github.com/robot-control/rgw/internal/registry"
	"github.com/robot-control/rgw/internal/vendorsim"
)

// MockAuditLogger records audit records.
type MockAuditLogger struct {
	mu      sync.Mutex
	Records []audit.Record
}

func (m *MockAuditLogger) Log(_ context.Context, rec audit.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, rec)
}

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	Events []PublishedEvent
}

type PublishedEvent struct {
	Vendor string
	Type   string
	Data   map[string]interface{}
}

func (m *MockPublisher) PublishVendor(vendorID, eventType string, data map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, PublishedEvent{Vendor: vendorID, Type: eventType, Data: data})
}

func testTimeouts() config.TimeoutConfig {
	return config.TimeoutConfig{
		ExecuteRecipe: 2 * time.Second,
		CaptureImage:  2 * time.Second,
		Unscrew:       2 * time.Second,
	}
}

func setupDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *fake.Adapter, *fake.Adapter) {
	t.Helper()
	a := fake.New("company_a")
	b := fake.New("company_b")
	reg, err := registry.New(a, b)
	if err != nil {
		t.Fatalf("registry.New() failed: %v", err)
	}
	return NewDispatcher(reg, testTimeouts(), opts...), a, b
}

func validRecipe() *model.Recipe {
	return &model.Recipe{
		Name: "R1",
		Steps: []model.RecipeStep{
			{ActionType: model.ActionTakeImage, Parameters: map[string]any{"x": 1.0, "y": 2.0}},
		},
	}
}

func validRequests(vendor string) []*model.CommandRequest {
	return []*model.CommandRequest{
		{VendorID: vendor, Operation: model.OpExecuteRecipe, Payload: validRecipe()},
		{VendorID: vendor, Operation: model.OpCaptureImage, Payload: &model.ImageParams{Coordinates: &model.Coordinate{X: 3, Y: 4}}},
		{VendorID: vendor, Operation: model.OpUnscrew, Payload: &model.UnscrewParams{Automatic: true}},
	}
}

func wantKind(t *testing.T, err error, kind model.ErrorKind) *model.Failure {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s failure, got nil", kind)
	}
	f, ok := model.AsFailure(err)
	if !ok {
		t.Fatalf("expected *model.Failure, got %T: %v", err, err)
	}
	if f.Kind != kind {
		t.Fatalf("failure kind = %s, want %s (message %q)", f.Kind, kind, f.Message)
	}
	return f
}

func TestDispatchEveryVendorAndOperation(t *testing.T) {
	d, a, b := setupDispatcher(t)

	for _, vendor := range []string{"company_a", "company_b"} {
		for _, req := range validRequests(vendor) {
			t.Run(vendor+"/"+string(req.Operation), func(t *testing.T) {
				res, err := d.Dispatch(context.Background(), req)
				if err != nil {
					t.Fatalf("Dispatch() failed: %v", err)
				}
				if res == nil || res.Status != model.StatusSuccess || res.Data == nil {
					t.Fatalf("unexpected result %+v", res)
				}
			})
		}
	}

	if a.TotalCalls() != 3 || b.TotalCalls() != 3 {
		t.Errorf("calls a=%d b=%d, want 3 each", a.TotalCalls(), b.TotalCalls())
	}
}

func TestDispatchUnsupportedVendor(t *testing.T) {
	d, a, b := setupDispatcher(t)

	_, err := d.Dispatch(context.Background(), &model.CommandRequest{
		VendorID:  "company_c",
		Operation: model.OpExecuteRecipe,
		Payload:   validRecipe(),
	})

	f := wantKind(t, err, model.KindUnsupportedVendor)
	if !strings.Contains(f.Message, "company_c") {
		t.Errorf("message %q does not name the vendor", f.Message)
	}
	if !errors.Is(err, model.ErrUnsupportedVendor) {
		t.Error("failure does not match ErrUnsupportedVendor")
	}
	if a.TotalCalls()+b.TotalCalls() != 0 {
		t.Errorf("adapters invoked %d times for an unknown vendor", a.TotalCalls()+b.TotalCalls())
	}
}

func TestDispatchVendorCaseInsensitive(t *testing.T) {
	d, a, _ := setupDispatcher(t)

	for _, id := range []string{"Company_A", "company_a", "COMPANY_A", "cOmPaNy_A"} {
		if _, err := d.Dispatch(context.Background(), &model.CommandRequest{
			VendorID:  id,
			Operation: model.OpUnscrew,
			Payload:   &model.UnscrewParams{Automatic: true},
		}); err != nil {
			t.Errorf("Dispatch(%q) failed: %v", id, err)
		}
	}
	if got := a.Calls(model.OpUnscrew); got != 4 {
		t.Errorf("company_a unscrew calls = %d, want 4", got)
	}

	_, err := d.Dispatch(context.Background(), &model.CommandRequest{
		VendorID:  " company_a ",
		Operation: model.OpUnscrew,
		Payload:   &model.UnscrewParams{Automatic: true},
	})
	wantKind(t, err, model.KindUnsupportedVendor)
}

func TestDispatchRejectsInvalidPayloadBeforeAdapter(t *testing.T) {
	tests := []struct {
		name string
		req  *model.CommandRequest
		kind model.ErrorKind
	}{
		{
			name: "nil request",
			req:  nil,
			kind: model.KindInvalidRequest,
		},
		{
			name: "empty recipe name",
			req:  &model.CommandRequest{VendorID: "company_a", Operation: model.OpExecuteRecipe, Payload: &model.Recipe{Steps: validRecipe().Steps}},
			kind: model.KindInvalidRequest,
		},
		{
			name: "no steps",
			req:  &model.CommandRequest{VendorID: "company_a", Operation: model.OpExecuteRecipe, Payload: &model.Recipe{Name: "R"}},
			kind: model.KindInvalidRequest,
		},
		{
			name: "unknown action",
			req: &model.CommandRequest{VendorID: "company_a", Operation: model.OpExecuteRecipe, Payload: &model.Recipe{
				Name:  "R",
				Steps: []model.RecipeStep{{ActionType: "weld"}},
			}},
			kind: model.KindInvalidRequest,
		},
		{
			name: "takeImage with scalar coordinate",
			req: &model.CommandRequest{VendorID: "company_a", Operation: model.OpExecuteRecipe, Payload: &model.Recipe{
				Name:  "R",
				Steps: []model.RecipeStep{{ActionType: model.ActionTakeImage, Parameters: map[string]any{"coordinates": 5.0}}},
			}},
			kind: model.KindInvalidParameters,
		},
		{
			name: "payload does not match operation",
			req:  &model.CommandRequest{VendorID: "company_a", Operation: model.OpUnscrew, Payload: validRecipe()},
			kind: model.KindInvalidRequest,
		},
		{
			name: "capture without coordinates",
			req:  &model.CommandRequest{VendorID: "company_a", Operation: model.OpCaptureImage, Payload: &model.ImageParams{}},
			kind: model.KindInvalidParameters,
		},
		{
			name: "unknown vendor with invalid payload",
			req:  &model.CommandRequest{VendorID: "company_c", Operation: model.OpCaptureImage, Payload: &model.ImageParams{}},
			kind: model.KindInvalidParameters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, a, b := setupDispatcher(t)
			_, err := d.Dispatch(context.Background(), tt.req)
			wantKind(t, err, tt.kind)
			if a.TotalCalls()+b.TotalCalls() != 0 {
				t.Error("adapter invoked with an invalid payload")
			}
		})
	}
}

func TestDispatchPropagatesAdapterFailureUnchanged(t *testing.T) {
	d, a, _ := setupDispatcher(t)
	vendorFailure := model.Failf(model.KindVendorRejected, "company_a: TOOL_FAULT").
		WithDetail(map[string]any{"vendor": "company_a", "code": "TOOL_FAULT"})
	a.FailWith(vendorFailure)

	_, err := d.Dispatch(context.Background(), validRequests("company_a")[2])

	f := wantKind(t, err, model.KindVendorRejected)
	if f != vendorFailure {
		t.Error("dispatcher re-wrapped an already normalized failure")
	}
	if f.VendorDetail["code"] != "TOOL_FAULT" {
		t.Errorf("vendor detail lost: %v", f.VendorDetail)
	}
}

func TestDispatchConvertsAdapterPanic(t *testing.T) {
	d, a, _ := setupDispatcher(t)
	a.PanicWith("nil map write in native client")

	_, err := d.Dispatch(context.Background(), validRequests("company_a")[1])

	f := wantKind(t, err, model.KindInternalError)
	if strings.Contains(f.Message, "nil map") {
		t.Errorf("panic value leaked into message %q", f.Message)
	}
}

func TestDispatchConvertsStrayError(t *testing.T) {
	d, a, _ := setupDispatcher(t)
	a.FailWith(errors.New("socket: weird state"))

	_, err := d.Dispatch(context.Background(), validRequests("company_a")[0])

	f := wantKind(t, err, model.KindInternalError)
	if strings.Contains(f.Message, "socket") {
		t.Errorf("raw error leaked into message %q", f.Message)
	}
}

// nilResultAdapter returns neither a result nor an error from Unscrew.
type nilResultAdapter struct {
	*fake.Adapter
}

func (nilResultAdapter) Unscrew(context.Context, *model.UnscrewParams, string) (*model.Result, error) {
	return nil, nil
}

func TestDispatchNeverReturnsSilently(t *testing.T) {
	reg, err := registry.New(nilResultAdapter{fake.New("company_a")})
	if err != nil {
		t.Fatalf("registry.New() failed: %v", err)
	}
	d := NewDispatcher(reg, testTimeouts())

	res, err := d.Dispatch(context.Background(), validRequests("company_a")[2])
	if res != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	wantKind(t, err, model.KindInternalError)
}

func TestDispatchHungAdapterTimesOut(t *testing.T) {
	a := fake.New("company_a")
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	a.BlockUntil(release)

	reg, _ := registry.New(a)
	timeouts := testTimeouts()
	timeouts.Unscrew = 50 * time.Millisecond
	d := NewDispatcher(reg, timeouts)

	start := time.Now()
	_, err := d.Dispatch(context.Background(), validRequests("company_a")[2])
	elapsed := time.Since(start)

	wantKind(t, err, model.KindVendorUnavailable)
	if elapsed > time.Second {
		t.Errorf("dispatch took %v, want close to the 50ms bound", elapsed)
	}
}

func TestDispatchHonoursCallerCancellation(t *testing.T) {
	a := fake.New("company_a")
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	a.BlockUntil(release)

	reg, _ := registry.New(a)
	d := NewDispatcher(reg, testTimeouts())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := d.Dispatch(ctx, validRequests("company_a")[0])
	wantKind(t, err, model.KindVendorUnavailable)
}

func TestDispatchSlowVendorDoesNotBlockOthers(t *testing.T) {
	d, a, _ := setupDispatcher(t)
	release := make(chan struct{})
	a.BlockUntil(release)

	slowDone := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), validRequests("company_a")[0])
		slowDone <- err
	}()

	// Another vendor and the blocked vendor's ordering are independent.
	fastDone := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), validRequests("company_b")[1])
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("company_b dispatch failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("company_b dispatch waited on the hung company_a call")
	}

	close(release)
	if err := <-slowDone; err != nil {
		t.Fatalf("company_a dispatch failed after release: %v", err)
	}
}

func TestDispatchConcurrentSameVendor(t *testing.T) {
	d, a, _ := setupDispatcher(t)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Dispatch(context.Background(), validRequests("company_a")[1]); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent dispatch failed: %v", err)
	}
	if got := a.Calls(model.OpCaptureImage); got != 50 {
		t.Errorf("capture calls = %d, want 50", got)
	}
}

func TestDispatchRecordsAuditEventsAndMetrics(t *testing.T) {
	auditLog := &MockAuditLogger{}
	events := &MockPublisher{}
	m := metrics.New()
	d, _, b := setupDispatcher(t, WithAuditLogger(auditLog), WithEvents(events), WithMetrics(m))
	b.FailWith(model.Failf(model.KindVendorRejected, "company_b: E_TOOL").WithDetail(map[string]any{"vendor": "company_b", "code": "E_TOOL"}))

	ctx := WithCorrelationID(context.Background(), "corr-1")
	if _, err := d.Dispatch(ctx, &model.CommandRequest{
		VendorID:  "company_a",
		RobotID:   "cell-7",
		Operation: model.OpExecuteRecipe,
		Payload:   validRecipe(),
	}); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	_, _ = d.Dispatch(ctx, &model.CommandRequest{VendorID: "company_c", Operation: model.OpUnscrew, Payload: &model.UnscrewParams{Automatic: true}})
	_, _ = d.Dispatch(ctx, &model.CommandRequest{VendorID: "Company_B", Operation: model.OpUnscrew, Payload: &model.UnscrewParams{Automatic: true}})

	if len(auditLog.Records) != 3 {
		t.Fatalf("audit records = %d, want 3", len(auditLog.Records))
	}
	ok := auditLog.Records[0]
	if ok.Code != audit.OutcomeSuccess || ok.Vendor != "company_a" || ok.RobotID != "cell-7" || ok.CorrelationID != "corr-1" {
		t.Errorf("unexpected success record %+v", ok)
	}
	if ok.Params["recipe"] != "R1" {
		t.Errorf("audit params = %v", ok.Params)
	}
	if auditLog.Records[1].Code != string(model.KindUnsupportedVendor) {
		t.Errorf("failure record code = %q", auditLog.Records[1].Code)
	}

	if auditLog.Records[1].Vendor != "company_c" {
		t.Errorf("audit must keep the requested vendor, got %q", auditLog.Records[1].Vendor)
	}

	// Unresolved vendors publish nothing; resolved ones publish under the
	// registered identifier.
	if len(events.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(events.Events))
	}
	if events.Events[0].Type != "commandSucceeded" || events.Events[1].Type != "commandFailed" {
		t.Errorf("event types = %s, %s", events.Events[0].Type, events.Events[1].Type)
	}
	if events.Events[1].Vendor != "company_b" || events.Events[1].Data["kind"] != string(model.KindVendorRejected) {
		t.Errorf("failure event = %+v", events.Events[1])
	}
}

func seriesCount(t *testing.T, m *metrics.Metrics, name string) int {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return len(f.GetMetric())
		}
	}
	return 0
}

func TestDispatchLabelsStayBounded(t *testing.T) {
	events := &MockPublisher{}
	m := metrics.New()
	d, _, _ := setupDispatcher(t, WithEvents(events), WithMetrics(m))
	ctx := context.Background()
	unscrew := &model.UnscrewParams{Automatic: true}

	for i := 0; i < 200; i++ {
		_, err := d.Unscrew(ctx, fmt.Sprintf("vendor_%d", i), "", unscrew)
		wantKind(t, err, model.KindUnsupportedVendor)
	}
	for _, id := range []string{"company_a", "Company_A", "COMPANY_A"} {
		if _, err := d.Unscrew(ctx, id, "", unscrew); err != nil {
			t.Fatalf("Unscrew(%q) failed: %v", id, err)
		}
	}
	_, _ = d.Dispatch(ctx, &model.CommandRequest{VendorID: "company_a", Operation: model.Operation("selfDestruct"), Payload: unscrew})

	// One series per (vendor, operation, outcome, kind): unknown/unscrew/failure,
	// company_a/unscrew/success and unknown/unknown/failure.
	if got := seriesCount(t, m, "rgw_commands_total"); got != 3 {
		t.Errorf("rgw_commands_total series = %d, want 3", got)
	}
	if len(events.Events) != 3 {
		t.Fatalf("events = %d, want 3 (only resolved vendors)", len(events.Events))
	}
	for _, e := range events.Events {
		if e.Vendor != "company_a" {
			t.Errorf("event vendor = %q, want company_a", e.Vendor)
		}
	}
}

func TestDispatchCaptureImageHelper(t *testing.T) {
	d, a, _ := setupDispatcher(t)

	res, err := d.CaptureImage(context.Background(), "company_a", "cell-1", &model.ImageParams{FullImage: true})
	if err != nil {
		t.Fatalf("CaptureImage() failed: %v", err)
	}
	if _, ok := res.Data.(model.ImageCapture); !ok {
		t.Errorf("result data is %T, want model.ImageCapture", res.Data)
	}
	if a.Calls(model.OpCaptureImage) != 1 || a.Robots()[0] != "cell-1" {
		t.Errorf("adapter saw calls=%d robots=%v", a.Calls(model.OpCaptureImage), a.Robots())
	}
}

func TestDispatchFailureLogCarriesVendorCode(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	d, _, b := setupDispatcher(t, WithLogger(zap.New(core)))
	b.FailWith(model.Failf(model.KindVendorRejected, "company_b: E_TOOL").WithDetail(map[string]any{"vendor": "company_b", "code": "E_TOOL"}))

	_, err := d.Unscrew(context.Background(), "company_b", "", &model.UnscrewParams{Automatic: true})
	wantKind(t, err, model.KindVendorRejected)

	entries := logs.FilterMessage("command failed").All()
	if len(entries) != 1 {
		t.Fatalf("got %d failure log entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["failure"]; got != "VENDOR_REJECTED (vendor code E_TOOL)" {
		t.Errorf("failure field = %v", got)
	}
}

func TestDispatchResolutionIsIdempotent(t *testing.T) {
	d, a, _ := setupDispatcher(t)

	first, err := d.resolver.Resolve("company_a")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	second, err := d.resolver.Resolve("COMPANY_A")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if first != second || first != a {
		t.Error("repeated resolution returned different adapters")
	}
}

// Dispatch against both real adapters and the vendor simulator.

func newSimulatedDispatcher(t *testing.T, timeouts config.TimeoutConfig) (*Dispatcher, *vendorsim.Robot) {
	t.Helper()
	cfg := vendorsim.DefaultConfig()
	cfg.Timing.StepLatencyMs = 0
	robot := vendorsim.NewRobot(cfg)

	srvA := httptest.NewServer(vendorsim.NewCompanyAHandler(robot, ""))
	srvB := httptest.NewServer(vendorsim.NewCompanyBHandler(robot))
	t.Cleanup(srvA.Close)
	t.Cleanup(srvB.Close)

	reg, err := registry.New(
		companya.New(companya.NewHTTPClient(srvA.URL, "", 5*time.Second)),
		companyb.New(companyb.NewRPCClient(srvB.URL+"/rpc", 5*time.Second)),
	)
	if err != nil {
		t.Fatalf("registry.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return NewDispatcher(reg, timeouts), robot
}

func TestDispatchSimulatedVendors(t *testing.T) {
	d, _ := newSimulatedDispatcher(t, testTimeouts())

	for _, vendor := range []string{"company_a", "company_b"} {
		for _, req := range validRequests(vendor) {
			t.Run(vendor+"/"+string(req.Operation), func(t *testing.T) {
				res, err := d.Dispatch(context.Background(), req)
				if err != nil {
					t.Fatalf("Dispatch() failed: %v", err)
				}
				if res.Data == nil {
					t.Fatal("result carries no data")
				}
			})
		}
	}
}

func TestDispatchRecipeScenario(t *testing.T) {
	d, _ := newSimulatedDispatcher(t, testTimeouts())

	res, err := d.ExecuteRecipe(context.Background(), "company_a", "", validRecipe())
	if err != nil {
		t.Fatalf("ExecuteRecipe() failed: %v", err)
	}
	run, ok := res.Data.(model.RecipeRun)
	if !ok {
		t.Fatalf("result data is %T, want model.RecipeRun", res.Data)
	}
	if run.RunID == "" || len(run.Steps) != 1 || run.Steps[0].ActionType != model.ActionTakeImage {
		t.Errorf("unexpected run %+v", run)
	}
}

func TestDispatchNativeTimeoutOnUnscrew(t *testing.T) {
	timeouts := testTimeouts()
	timeouts.Unscrew = 100 * time.Millisecond
	d, robot := newSimulatedDispatcher(t, timeouts)
	robot.InjectFault(vendorsim.OpUnscrew, vendorsim.FaultHang)

	start := time.Now()
	_, err := d.Unscrew(context.Background(), "company_a", "", &model.UnscrewParams{Automatic: true})
	elapsed := time.Since(start)

	wantKind(t, err, model.KindVendorUnavailable)
	if elapsed > 2*time.Second {
		t.Errorf("unscrew returned after %v, want close to the 100ms bound", elapsed)
	}
}
