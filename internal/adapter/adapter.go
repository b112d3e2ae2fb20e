// Package adapter defines the capability set every vendor adapter implements
// and the table-driven normalization of vendor failures.
//
// Adapters are the only code that knows a vendor's wire shapes. Every error
// an adapter returns is a *model.Failure; vendor-native types never cross
// this boundary.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/robot-control/rgw/internal/model"
)

// VendorAdapter implements the canonical operations for exactly one vendor.
// Implementations must be safe for concurrent use.
type VendorAdapter interface {
	Vendor() string
	Capabilities() Capabilities
	ExecuteRecipe(ctx context.Context, recipe *model.Recipe, robotID string) (*model.Result, error)
	CaptureImage(ctx context.Context, params *model.ImageParams, robotID string) (*model.Result, error)
	Unscrew(ctx context.Context, params *model.UnscrewParams, robotID string) (*model.Result, error)
}

// Capabilities describes what a vendor can do.
type Capabilities struct {
	Protocol   string             `json:"protocol"`
	Actions    []model.ActionType `json:"actions"`
	Pointcloud bool               `json:"pointcloud"`
}

// SupportsAction reports whether recipes for this vendor may contain a.
func (c Capabilities) SupportsAction(a model.ActionType) bool {
	return slices.Contains(c.Actions, a)
}

// AdapterBase carries the identity shared by concrete adapters.
type AdapterBase struct {
	vendor string
	caps   Capabilities
}

// NewAdapterBase creates the shared identity block for an adapter.
func NewAdapterBase(vendor string, caps Capabilities) AdapterBase {
	return AdapterBase{vendor: vendor, caps: caps}
}

// Vendor returns the registered vendor identifier.
func (b *AdapterBase) Vendor() string {
	return b.vendor
}

// Capabilities returns the vendor capability set.
func (b *AdapterBase) Capabilities() Capabilities {
	return b.caps
}

// Unsupported builds the failure for a feature this vendor does not offer.
func (b *AdapterBase) Unsupported(feature string) *model.Failure {
	return model.Failf(model.KindUnsupportedOperation, "%s does not support %s", b.vendor, feature)
}

// CheckRecipe rejects recipes that use actions or features the vendor lacks.
// Step parameters must already be valid.
func (b *AdapterBase) CheckRecipe(recipe *model.Recipe) error {
	for i, step := range recipe.Steps {
		action, _ := step.ActionType.Canonical()
		if !b.caps.SupportsAction(action) {
			return b.Unsupported(fmt.Sprintf("action %q (step %d)", action, i))
		}
		if action == model.ActionTakeImage && !b.caps.Pointcloud {
			if p, err := model.StepImage(step); err == nil && p.IncludePointcloud {
				return b.Unsupported(fmt.Sprintf("point clouds (step %d)", i))
			}
		}
	}
	return nil
}

// ParamFailure converts a parameter decoding error into INVALID_PARAMETERS,
// keeping the step index when the step is known.
func ParamFailure(stepIndex int, err error) *model.Failure {
	if verr, ok := err.(*model.ValidationError); ok {
		v := *verr
		v.StepIndex = stepIndex
		v.Kind = model.KindInvalidParameters
		return v.Failure()
	}
	return model.Failf(model.KindInvalidParameters, "step %d: %v", stepIndex, err).WithCause(err)
}

// InvalidPayload converts a payload validation error into a failure.
func InvalidPayload(err error) *model.Failure {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return verr.Failure()
	}
	return model.Failf(model.KindInvalidParameters, "%v", err).WithCause(err)
}
