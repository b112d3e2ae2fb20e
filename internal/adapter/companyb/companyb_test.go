package companyb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robot-control/rgw/internal/adapter"
	"github.com/robot-control/rgw/internal/adaptertest"
	"github.com/robot-control/rgw/internal/model"
	"github.com/robot-control/rgw/internal/vendorsim"
)

func newSimulator(t *testing.T) (*vendorsim.Robot, string) {
	t.Helper()
	cfg := vendorsim.DefaultConfig()
	cfg.Timing.StepLatencyMs = 0
	robot := vendorsim.NewRobot(cfg)
	srv := httptest.NewServer(vendorsim.NewCompanyBHandler(robot))
	t.Cleanup(srv.Close)
	return robot, srv.URL + "/rpc"
}

func newTestAdapter(t *testing.T) (*Adapter, *vendorsim.Robot) {
	t.Helper()
	robot, endpoint := newSimulator(t)
	a := New(NewRPCClient(endpoint, 5*time.Second))
	t.Cleanup(func() { _ = a.Close() })
	return a, robot
}

func TestConformance(t *testing.T) {
	_, endpoint := newSimulator(t)
	adaptertest.RunConformance(t, func() adapter.VendorAdapter {
		return New(NewRPCClient(endpoint, 5*time.Second))
	}, adaptertest.Expectations{
		Actions:    []model.ActionType{model.ActionTakeImage, model.ActionUnscrew},
		Pointcloud: false,
		Coordinate: model.Coordinate{X: 10, Y: 20},
		RobotID:    "unit-1",
	})
}

// stubClient records calls and replies with canned results.
type stubClient struct {
	methods []string
	params  []any
	reply   func(method string, result any) error
}

func (c *stubClient) Call(_ context.Context, method string, params, result any) error {
	c.methods = append(c.methods, method)
	c.params = append(c.params, params)
	if c.reply != nil {
		return c.reply(method, result)
	}
	return nil
}

func TestProgramOpsAreOneBasedAndOrdered(t *testing.T) {
	client := &stubClient{reply: func(_ string, result any) error {
		*result.(*ProgramResult) = ProgramResult{Job: "job-1", Done: []OpResult{
			{Seq: 1, OK: true, Href: "/a.png"}, {Seq: 2, OK: true}, {Seq: 3, OK: true, Href: "/b.png"},
		}}
		return nil
	}}
	a := New(client)

	res, err := a.ExecuteRecipe(context.Background(), &model.Recipe{Name: "P", Steps: []model.RecipeStep{
		{ActionType: model.ActionTakeImage, Parameters: map[string]any{"coordinates": map[string]any{"x": 1.0, "y": 2.25}}},
		{ActionType: model.ActionUnscrew, Parameters: map[string]any{"automatic": true}},
		{ActionType: "image", Parameters: map[string]any{"isFullImage": true}},
	}}, "unit-4")
	require.NoError(t, err)

	require.Equal(t, []string{MethodProgramExecute}, client.methods)
	sent := client.params[0].(ProgramParams)
	assert.Equal(t, "unit-4", sent.Unit)
	assert.Equal(t, []Op{
		{Seq: 1, Op: "IMG", Pos: "1.000;2.250"},
		{Seq: 2, Op: "UNSCREW", Pos: "AUTO"},
		{Seq: 3, Op: "IMG", Pos: "FULL"},
	}, sent.Ops)

	run := res.Data.(model.RecipeRun)
	require.Len(t, run.Steps, 3)
	for i, s := range run.Steps {
		assert.Equal(t, i, s.Index)
	}
	assert.Equal(t, "/b.png", run.Steps[2].ImageURI)
}

func TestUnsupportedFeaturesNeverReachVendor(t *testing.T) {
	client := &stubClient{}
	a := New(client)
	ctx := context.Background()

	_, err := a.ExecuteRecipe(ctx, &model.Recipe{Name: "P", Steps: []model.RecipeStep{
		{ActionType: model.ActionUnscrew, Parameters: map[string]any{"automatic": true}},
		{ActionType: model.ActionWait, Parameters: map[string]any{"durationMs": 100.0}},
	}}, "")
	assert.ErrorIs(t, err, model.ErrUnsupportedOperation)

	_, err = a.ExecuteRecipe(ctx, &model.Recipe{Name: "P", Steps: []model.RecipeStep{
		{ActionType: model.ActionTakeImage, Parameters: map[string]any{"fullImage": true, "includePointcloud": true}},
	}}, "")
	assert.ErrorIs(t, err, model.ErrUnsupportedOperation)

	_, err = a.CaptureImage(ctx, &model.ImageParams{FullImage: true, IncludePointcloud: true}, "")
	assert.ErrorIs(t, err, model.ErrUnsupportedOperation)

	assert.Empty(t, client.methods)
}

func TestFailedOpIsRejected(t *testing.T) {
	client := &stubClient{reply: func(_ string, result any) error {
		*result.(*ProgramResult) = ProgramResult{Job: "job-2", Done: []OpResult{{Seq: 1, OK: false}}}
		return nil
	}}
	_, err := New(client).ExecuteRecipe(context.Background(), &model.Recipe{Name: "P", Steps: []model.RecipeStep{
		{ActionType: model.ActionUnscrew, Parameters: map[string]any{"automatic": true}},
	}}, "")
	assert.ErrorIs(t, err, model.ErrVendorRejected)
}

func TestIncompleteJobIsMalformed(t *testing.T) {
	recipe := &model.Recipe{Name: "P", Steps: []model.RecipeStep{
		{ActionType: model.ActionUnscrew, Parameters: map[string]any{"automatic": true}},
		{ActionType: model.ActionTakeImage, Parameters: map[string]any{"isFullImage": true}},
	}}

	tests := map[string][]OpResult{
		"missing op":   {{Seq: 1, OK: true}},
		"no results":   nil,
		"duplicate op": {{Seq: 1, OK: true}, {Seq: 1, OK: true}},
	}
	for name, done := range tests {
		t.Run(name, func(t *testing.T) {
			client := &stubClient{reply: func(_ string, result any) error {
				*result.(*ProgramResult) = ProgramResult{Job: "job-3", Done: done}
				return nil
			}}
			res, err := New(client).ExecuteRecipe(context.Background(), recipe, "")
			assert.Nil(t, res)
			require.ErrorIs(t, err, model.ErrVendorRejected)
			f, _ := model.AsFailure(err)
			assert.Contains(t, f.Message, "malformed")
		})
	}
}

func TestMalformedResolutionIsRejected(t *testing.T) {
	client := &stubClient{reply: func(_ string, result any) error {
		*result.(*SnapResult) = SnapResult{Frame: "f", Res: "big"}
		return nil
	}}
	_, err := New(client).CaptureImage(context.Background(), &model.ImageParams{FullImage: true}, "")
	assert.ErrorIs(t, err, model.ErrVendorRejected)
}

func TestVendorFaultMapping(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*vendorsim.Robot)
		want  error
		code  string
	}{
		{"offline", func(r *vendorsim.Robot) { _ = r.SetMode(vendorsim.ModeOffline) }, model.ErrVendorUnavailable, "E_OFFLINE"},
		{"busy", func(r *vendorsim.Robot) { _ = r.SetMode(vendorsim.ModeBusy) }, model.ErrVendorRejected, "E_BUSY"},
		{"axis limit", func(r *vendorsim.Robot) { r.InjectFault(vendorsim.OpUnscrew, vendorsim.FaultWorkspace) }, model.ErrInvalidParameters, "E_AXIS_LIMIT"},
		{"tool", func(r *vendorsim.Robot) { r.InjectFault(vendorsim.OpUnscrew, vendorsim.FaultTool) }, model.ErrVendorRejected, "E_TOOL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, robot := newTestAdapter(t)
			tt.setup(robot)

			_, err := a.Unscrew(context.Background(), &model.UnscrewParams{Automatic: true}, "")
			require.ErrorIs(t, err, tt.want)

			f, ok := model.AsFailure(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, f.VendorDetail["code"])
			assert.EqualValues(t, -32000, f.VendorDetail["rpcCode"])
		})
	}
}

func TestHangTimesOut(t *testing.T) {
	a, robot := newTestAdapter(t)
	robot.InjectFault(vendorsim.OpCapture, vendorsim.FaultHang)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.CaptureImage(ctx, &model.ImageParams{FullImage: true}, "")
	assert.ErrorIs(t, err, model.ErrVendorUnavailable)
}

func TestRPCClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "mismatched id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": map[string]any{}, "id": 999})
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrMalformedResponse) },
		},
		{
			name: "html gateway error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte("<html>upstream down</html>"))
			},
			check: func(t *testing.T, err error) {
				var rpcErr *RPCError
				require.ErrorAs(t, err, &rpcErr)
				assert.Equal(t, -32603, rpcErr.Code)
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrMalformedResponse) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			client := NewRPCClient(srv.URL, time.Second)
			tt.check(t, client.Call(context.Background(), MethodCameraSnap, SnapParams{Pos: "FULL"}, &SnapResult{}))
		})
	}
}

func TestRPCErrorVendorCode(t *testing.T) {
	tests := []struct {
		err  RPCError
		want string
	}{
		{RPCError{Code: -32000, Message: "E_AXIS_LIMIT: x out of range"}, "E_AXIS_LIMIT"},
		{RPCError{Code: -32000, Message: "E_ESTOP"}, "E_ESTOP"},
		{RPCError{Code: -32601, Message: "Method not found"}, "-32601"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.VendorCode())
	}
}
