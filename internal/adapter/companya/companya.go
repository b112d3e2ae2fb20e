// Package companya adapts the Company A REST controller API to the
// canonical operations.
package companya

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/robot-control/rgw/internal/adapter"
	"github.com/robot-control/rgw/internal/model"
)

// VendorID is the registry key for Company A.
const VendorID = "company_a"

// Native step action names.
const (
	nativeTakeImage = "takeImage"
	nativeUnscrew   = "unscrew"
	nativeWait      = "wait"
)

// Adapter implements adapter.VendorAdapter for Company A.
type Adapter struct {
	adapter.AdapterBase
	client Client
}

var _ adapter.VendorAdapter = (*Adapter)(nil)

// New creates a Company A adapter over the given native client.
func New(client Client) *Adapter {
	return &Adapter{
		AdapterBase: adapter.NewAdapterBase(VendorID, adapter.Capabilities{
			Protocol:   "rest",
			Actions:    []model.ActionType{model.ActionTakeImage, model.ActionUnscrew, model.ActionWait},
			Pointcloud: true,
		}),
		client: client,
	}
}

// ExecuteRecipe translates the recipe step by step, preserving order.
func (a *Adapter) ExecuteRecipe(ctx context.Context, recipe *model.Recipe, robotID string) (*model.Result, error) {
	if err := model.ValidateRecipe(recipe); err != nil {
		return nil, adapter.InvalidPayload(err)
	}
	if err := a.CheckRecipe(recipe); err != nil {
		return nil, err
	}

	req := RunRecipeRequest{
		RecipeName: recipe.Name,
		RobotID:    robotID,
		Steps:      make([]Step, 0, len(recipe.Steps)),
	}
	for i, step := range recipe.Steps {
		native, err := toNativeStep(step)
		if err != nil {
			return nil, adapter.ParamFailure(i, err)
		}
		req.Steps = append(req.Steps, native)
	}

	resp, err := a.client.RunRecipe(ctx, req)
	if err != nil {
		return nil, a.fail(err)
	}

	run := model.RecipeRun{
		RunID:  resp.RunID,
		Recipe: recipe.Name,
		Vendor: VendorID,
		State:  resp.State,
		Steps:  make([]model.StepOutcome, 0, len(resp.Results)),
	}
	seen := make([]bool, len(recipe.Steps))
	for _, r := range resp.Results {
		if r.Step < 0 || r.Step >= len(recipe.Steps) {
			return nil, adapter.MalformedResponse(VendorID, fmt.Errorf("result for unknown step %d", r.Step))
		}
		if seen[r.Step] {
			return nil, adapter.MalformedResponse(VendorID, fmt.Errorf("duplicate result for step %d", r.Step))
		}
		seen[r.Step] = true
		action, _ := recipe.Steps[r.Step].ActionType.Canonical()
		run.Steps = append(run.Steps, model.StepOutcome{
			Index:      r.Step,
			ActionType: action,
			Status:     r.Status,
			ImageURI:   r.ImageURI,
		})
	}

	if resp.State == "failed" || resp.State == "aborted" {
		return nil, model.Failf(model.KindVendorRejected, "%s run %s %s", VendorID, resp.RunID, resp.State).
			WithDetail(map[string]any{"vendor": VendorID, "runId": resp.RunID, "state": resp.State, "steps": run.Steps})
	}
	// A completed run accounts for every step.
	if len(run.Steps) != len(recipe.Steps) {
		return nil, adapter.MalformedResponse(VendorID,
			fmt.Errorf("run %s reported %d step results for %d steps", resp.RunID, len(run.Steps), len(recipe.Steps)))
	}
	return model.Success(run), nil
}

// CaptureImage takes one image at the requested position.
func (a *Adapter) CaptureImage(ctx context.Context, params *model.ImageParams, robotID string) (*model.Result, error) {
	if err := model.ValidateImageParams(params); err != nil {
		return nil, adapter.InvalidPayload(err)
	}
	req := CaptureRequest{
		RobotID:    robotID,
		FullImage:  params.FullImage,
		Pointcloud: params.IncludePointcloud,
	}
	if params.Coordinates != nil {
		req.X, req.Y = params.Coordinates.X, params.Coordinates.Y
	}

	resp, err := a.client.Capture(ctx, req)
	if err != nil {
		return nil, a.fail(err)
	}
	if resp.ImageID == "" {
		return nil, adapter.MalformedResponse(VendorID, errors.New("capture reply has no imageId"))
	}

	return model.Success(model.ImageCapture{
		ImageID:    resp.ImageID,
		URI:        resp.URI,
		Width:      resp.Width,
		Height:     resp.Height,
		Pointcloud: resp.Pointcloud,
	}), nil
}

// Unscrew runs the screwdriver in automatic or targeted mode.
func (a *Adapter) Unscrew(ctx context.Context, params *model.UnscrewParams, robotID string) (*model.Result, error) {
	if err := model.ValidateUnscrewParams(params); err != nil {
		return nil, adapter.InvalidPayload(err)
	}
	req := UnscrewRequest{RobotID: robotID, Mode: "manual"}
	mode := model.UnscrewModeManual
	if params.Automatic {
		req.Mode = "auto"
		mode = model.UnscrewModeAutomatic
	}
	if params.Coordinates != nil {
		x, y := params.Coordinates.X, params.Coordinates.Y
		req.X, req.Y = &x, &y
	}

	resp, err := a.client.Unscrew(ctx, req)
	if err != nil {
		return nil, a.fail(err)
	}
	return model.Success(model.UnscrewOutcome{Mode: mode, ScrewsRemoved: resp.Removed}), nil
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
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		detail = map[string]any{"status": apiErr.Status}
		if apiErr.Code == "" && apiErr.Body != "" {
			detail["body"] = apiErr.Body
		}
	}
	return adapter.NormalizeVendorError(VendorID, err, detail)
}

func toNativeStep(step model.RecipeStep) (Step, error) {
	action, _ := step.ActionType.Canonical()
	switch action {
	case model.ActionTakeImage:
		p, err := model.StepImage(step)
		if err != nil {
			return Step{}, err
		}
		params := map[string]any{"fullImage": p.FullImage, "pointcloud": p.IncludePointcloud}
		if p.Coordinates != nil {
			params["x"], params["y"] = p.Coordinates.X, p.Coordinates.Y
		}
		return Step{ActionType: nativeTakeImage, Parameters: params}, nil
	case model.ActionUnscrew:
		p, err := model.StepUnscrew(step)
		if err != nil {
			return Step{}, err
		}
		params := map[string]any{"mode": "manual"}
		if p.Automatic {
			params["mode"] = "auto"
		}
		if p.Coordinates != nil {
			params["x"], params["y"] = p.Coordinates.X, p.Coordinates.Y
		}
		return Step{ActionType: nativeUnscrew, Parameters: params}, nil
	case model.ActionWait:
		d, err := model.StepWait(step)
		if err != nil {
			return Step{}, err
		}
		return Step{ActionType: nativeWait, Parameters: map[string]any{"ms": d.Milliseconds()}}, nil
	}
	return Step{}, fmt.Errorf("unknown action %q", step.ActionType)
}
