// Package companyb adapts the Company B JSON-RPC controller to the canonical
// operations. Company B numbers program ops from 1, encodes positions as
// "x;y" strings and has no dwell op and no point cloud camera.
package companyb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/robot-control/rgw/internal/adapter"
	"github.com/robot-control/rgw/internal/model"
)

// VendorID is the registry key for Company B.
const VendorID = "company_b"

// Native op codes and special positions.
const (
	opImage   = "IMG"
	opUnscrew = "UNSCREW"
	posAuto   = "AUTO"
	posFull   = "FULL"
)

// Adapter implements adapter.VendorAdapter for Company B.
type Adapter struct {
	adapter.AdapterBase
	client Client
}

var _ adapter.VendorAdapter = (*Adapter)(nil)

// New creates a Company B adapter over the given native client.
func New(client Client) *Adapter {
	return &Adapter{
		AdapterBase: adapter.NewAdapterBase(VendorID, adapter.Capabilities{
			Protocol: "jsonrpc",
			Actions:  []model.ActionType{model.ActionTakeImage, model.ActionUnscrew},
		}),
		client: client,
	}
}

// ExecuteRecipe sends the recipe as one program; seq follows step order.
func (a *Adapter) ExecuteRecipe(ctx context.Context, recipe *model.Recipe, robotID string) (*model.Result, error) {
	if err := model.ValidateRecipe(recipe); err != nil {
		return nil, adapter.InvalidPayload(err)
	}
	if err := a.CheckRecipe(recipe); err != nil {
		return nil, err
	}

	params := ProgramParams{
		Program: recipe.Name,
		Unit:    robotID,
		Ops:     make([]Op, 0, len(recipe.Steps)),
	}
	for i, step := range recipe.Steps {
		op, err := toNativeOp(step)
		if err != nil {
			return nil, adapter.ParamFailure(i, err)
		}
		op.Seq = i + 1
		params.Ops = append(params.Ops, op)
	}

	var res ProgramResult
	if err := a.client.Call(ctx, MethodProgramExecute, params, &res); err != nil {
		return nil, a.fail(err)
	}

	run := model.RecipeRun{
		RunID:  res.Job,
		Recipe: recipe.Name,
		Vendor: VendorID,
		State:  "completed",
		Steps:  make([]model.StepOutcome, 0, len(res.Done)),
	}
	seen := make([]bool, len(recipe.Steps))
	for _, done := range res.Done {
		idx := done.Seq - 1
		if idx < 0 || idx >= len(recipe.Steps) {
			return nil, adapter.MalformedResponse(VendorID, fmt.Errorf("result for unknown seq %d", done.Seq))
		}
		if seen[idx] {
			return nil, adapter.MalformedResponse(VendorID, fmt.Errorf("duplicate result for seq %d", done.Seq))
		}
		seen[idx] = true
		action, _ := recipe.Steps[idx].ActionType.Canonical()
		status := "done"
		if !done.OK {
			status = "failed"
			run.State = "failed"
		}
		run.Steps = append(run.Steps, model.StepOutcome{
			Index:      idx,
			ActionType: action,
			Status:     status,
			ImageURI:   done.Href,
		})
	}

	if run.State == "failed" {
		return nil, model.Failf(model.KindVendorRejected, "%s job %s did not complete", VendorID, res.Job).
			WithDetail(map[string]any{"vendor": VendorID, "job": res.Job, "steps": run.Steps})
	}
	if len(run.Steps) != len(recipe.Steps) {
		return nil, adapter.MalformedResponse(VendorID,
			fmt.Errorf("job %s reported %d results for %d ops", res.Job, len(run.Steps), len(recipe.Steps)))
	}
	return model.Success(run), nil
}

// CaptureImage calls camera.snap.
func (a *Adapter) CaptureImage(ctx context.Context, params *model.ImageParams, robotID string) (*model.Result, error) {
	if err := model.ValidateImageParams(params); err != nil {
		return nil, adapter.InvalidPayload(err)
	}
	if params.IncludePointcloud {
		return nil, a.Unsupported("point clouds")
	}

	pos := posFull
	if !params.FullImage {
		pos = encodePos(*params.Coordinates)
	}

	var res SnapResult
	if err := a.client.Call(ctx, MethodCameraSnap, SnapParams{Unit: robotID, Pos: pos}, &res); err != nil {
		return nil, a.fail(err)
	}

	width, height, err := parseRes(res.Res)
	if err != nil {
		return nil, adapter.MalformedResponse(VendorID, err)
	}
	return model.Success(model.ImageCapture{
		ImageID: res.Frame,
		URI:     res.Href,
		Width:   width,
		Height:  height,
	}), nil
}

// Unscrew calls tool.unscrew.
func (a *Adapter) Unscrew(ctx context.Context, params *model.UnscrewParams, robotID string) (*model.Result, error) {
	if err := model.ValidateUnscrewParams(params); err != nil {
		return nil, adapter.InvalidPayload(err)
	}
	pos := posAuto
	mode := model.UnscrewModeAutomatic
	if !params.Automatic {
		pos = encodePos(*params.Coordinates)
		mode = model.UnscrewModeManual
	}

	var res UnscrewResult
	if err := a.client.Call(ctx, MethodToolUnscrew, UnscrewParams{Unit: robotID, Pos: pos}, &res); err != nil {
		return nil, a.fail(err)
	}
	return model.Success(model.UnscrewOutcome{Mode: mode, ScrewsRemoved: res.Count}), nil
}

// Close releases the native client's connections.
func (a *Adapter) Close() error {
	if c, ok := a.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *Adapter) fail(err error) *model.Failure {
	if errors.Is(err, ErrMalformedResponse) {
		return adapter.MalformedResponse(VendorID, err)
	}
	var detail map[string]any
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		detail = map[string]any{"rpcCode": rpcErr.Code}
		if rpcErr.Data != nil {
			detail["data"] = rpcErr.Data
		}
	}
	return adapter.NormalizeVendorError(VendorID, err, detail)
}

func toNativeOp(step model.RecipeStep) (Op, error) {
	action, _ := step.ActionType.Canonical()
	switch action {
	case model.ActionTakeImage:
		p, err := model.StepImage(step)
		if err != nil {
			return Op{}, err
		}
		if p.FullImage {
			return Op{Op: opImage, Pos: posFull}, nil
		}
		return Op{Op: opImage, Pos: encodePos(*p.Coordinates)}, nil
	case model.ActionUnscrew:
		p, err := model.StepUnscrew(step)
		if err != nil {
			return Op{}, err
		}
		if p.Automatic {
			return Op{Op: opUnscrew, Pos: posAuto}, nil
		}
		return Op{Op: opUnscrew, Pos: encodePos(*p.Coordinates)}, nil
	}
	return Op{}, fmt.Errorf("no native op for %q", step.ActionType)
}

func encodePos(c model.Coordinate) string {
	return strconv.FormatFloat(c.X, 'f', 3, 64) + ";" + strconv.FormatFloat(c.Y, 'f', 3, 64)
}

func parseRes(res string) (int, int, error) {
	w, h, ok := strings.Cut(res, "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q is not WIDTHxHEIGHT", res)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution width %q: %w", w, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution height %q: %w", h, err)
	}
	return width, height, nil
}
