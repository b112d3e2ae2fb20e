// Package fake provides a spy vendor adapter for tests. It records every
// invocation and can be told to fail, block or panic.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/robot-control/rgw/internal/adapter"
	"github.com/robot-control/rgw/internal/model"
)

// Adapter implements adapter.VendorAdapter with canned results.
type Adapter struct {
	adapter.AdapterBase

	mu      sync.Mutex
	calls   map[model.Operation]int
	recipes []*model.Recipe
	robots  []string

	// Error simulation. Checked in order: panic, block, fail.
	panicValue any
	block      <-chan struct{}
	failWith   error
}

var _ adapter.VendorAdapter = (*Adapter)(nil)

// New creates a fake adapter registered under vendorID that supports every
// action and point clouds.
func New(vendorID string) *Adapter {
	return &Adapter{
		AdapterBase: adapter.NewAdapterBase(vendorID, adapter.Capabilities{
			Protocol:   "fake",
			Actions:    []model.ActionType{model.ActionTakeImage, model.ActionUnscrew, model.ActionWait},
			Pointcloud: true,
		}),
		calls: make(map[model.Operation]int),
	}
}

// FailWith makes every operation return err.
func (f *Adapter) FailWith(err error) *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
	return f
}

// BlockUntil makes every operation block until release is closed,
// ignoring context cancellation.
func (f *Adapter) BlockUntil(release <-chan struct{}) *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = release
	return f
}

// PanicWith makes every operation panic with v.
func (f *Adapter) PanicWith(v any) *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panicValue = v
	return f
}

// Calls returns how often op was invoked.
func (f *Adapter) Calls(op model.Operation) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of invocations across all operations.
func (f *Adapter) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Recipes returns the recipes received by ExecuteRecipe, in call order.
func (f *Adapter) Recipes() []*model.Recipe {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Recipe(nil), f.recipes...)
}

// Robots returns the robot IDs received, in call order.
func (f *Adapter) Robots() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.robots...)
}

// ExecuteRecipe records the recipe and reports every step as done.
func (f *Adapter) ExecuteRecipe(ctx context.Context, recipe *model.Recipe, robotID string) (*model.Result, error) {
	if err := f.enter(ctx, model.OpExecuteRecipe, robotID, recipe); err != nil {
		return nil, err
	}
	run := model.RecipeRun{
		RunID:  fmt.Sprintf("fake-run-%d", f.Calls(model.OpExecuteRecipe)),
		Recipe: recipe.Name,
		Vendor: f.Vendor(),
		State:  "completed",
	}
	for i, step := range recipe.Steps {
		action, _ := step.ActionType.Canonical()
		run.Steps = append(run.Steps, model.StepOutcome{Index: i, ActionType: action, Status: "done"})
	}
	return model.Success(run), nil
}

// CaptureImage returns a fixed frame.
func (f *Adapter) CaptureImage(ctx context.Context, params *model.ImageParams, robotID string) (*model.Result, error) {
	if err := f.enter(ctx, model.OpCaptureImage, robotID, nil); err != nil {
		return nil, err
	}
	return model.Success(model.ImageCapture{
		ImageID:    "fake-image",
		URI:        "fake://image",
		Width:      640,
		Height:     480,
		Pointcloud: params.IncludePointcloud,
	}), nil
}

// Unscrew reports one removed screw.
func (f *Adapter) Unscrew(ctx context.Context, params *model.UnscrewParams, robotID string) (*model.Result, error) {
	if err := f.enter(ctx, model.OpUnscrew, robotID, nil); err != nil {
		return nil, err
	}
	mode := model.UnscrewModeManual
	if params.Automatic {
		mode = model.UnscrewModeAutomatic
	}
	return model.Success(model.UnscrewOutcome{Mode: mode, ScrewsRemoved: 1}), nil
}

func (f *Adapter) enter(ctx context.Context, op model.Operation, robotID string, recipe *model.Recipe) error {
	f.mu.Lock()
	f.calls[op]++
	f.robots = append(f.robots, robotID)
	if recipe != nil {
		f.recipes = append(f.recipes, recipe)
	}
	panicValue, block, failWith := f.panicValue, f.block, f.failWith
	f.mu.Unlock()

	if panicValue != nil {
		panic(panicValue)
	}
	if block != nil {
		<-block
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return failWith
}
