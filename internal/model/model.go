// Package model defines the vendor-neutral command vocabulary: the three
// canonical operations, recipes and their steps, typed operation payloads
// and the normalized result and failure values every dispatch produces.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Operation is one of the canonical operations understood by every vendor.
type Operation string

const (
	OpExecuteRecipe Operation = "executeRecipe"
	OpCaptureImage  Operation = "captureImage"
	OpUnscrew       Operation = "unscrew"
)

// Operations lists the canonical operations in declaration order.
var Operations = []Operation{OpExecuteRecipe, OpCaptureImage, OpUnscrew}

// Valid reports whether o is a known canonical operation.
func (o Operation) Valid() bool {
	switch o {
	case OpExecuteRecipe, OpCaptureImage, OpUnscrew:
		return true
	}
	return false
}

// ParseOperation converts a wire name into an Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.TrimSpace(s))
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// ActionType tags a recipe step with an action from the shared vocabulary.
type ActionType string

const (
	ActionTakeImage ActionType = "takeImage"
	ActionUnscrew   ActionType = "unscrew"
	ActionWait      ActionType = "wait"
)

// actionAliases maps accepted spellings onto the canonical action tag.
// "image" is the tag the recipe editor exports.
var actionAliases = map[string]ActionType{
	"takeimage": ActionTakeImage,
	"image":     ActionTakeImage,
	"unscrew":   ActionUnscrew,
	"wait":      ActionWait,
}

// NormalizeAction resolves an action tag case-insensitively.
func NormalizeAction(s string) (ActionType, bool) {
	a, ok := actionAliases[strings.ToLower(strings.TrimSpace(s))]
	return a, ok
}

// Coordinate is a 2-D workspace position.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Recipe is a named ordered sequence of steps. Step order is execution order.
type Recipe struct {
	Name      string       `json:"name"`
	CreatedAt *time.Time   `json:"createdAt,omitempty"`
	Steps     []RecipeStep `json:"steps"`
}

// RecipeStep is one action of a recipe. Parameters are opaque to the
// canonical layer beyond structural validation.
type RecipeStep struct {
	ID         string         `json:"id,omitempty"`
	ActionType ActionType     `json:"actionType"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ImageParams describes a standalone image capture.
type ImageParams struct {
	Coordinates       *Coordinate `json:"coordinates,omitempty"`
	FullImage         bool        `json:"fullImage"`
	IncludePointcloud bool        `json:"includePointcloud"`
}

// UnscrewParams describes a standalone unscrew action.
type UnscrewParams struct {
	Automatic   bool        `json:"automatic"`
	Coordinates *Coordinate `json:"coordinates,omitempty"`
}

// Payload is the typed body of a CommandRequest. It is implemented only by
// *Recipe, *ImageParams and *UnscrewParams.
type Payload interface {
	operation() Operation
}

func (*Recipe) operation() Operation        { return OpExecuteRecipe }
func (*ImageParams) operation() Operation   { return OpCaptureImage }
func (*UnscrewParams) operation() Operation { return OpUnscrew }

// CommandRequest is the unit the dispatcher receives.
type CommandRequest struct {
	VendorID  string
	RobotID   string
	Operation Operation
	Payload   Payload
}

// StatusSuccess is the only status a Result carries.
const StatusSuccess = "success"

// Result is a normalized successful outcome.
type Result struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// Success wraps canonical result data.
func Success(data any) *Result {
	return &Result{Status: StatusSuccess, Data: data}
}

// StepOutcome reports how a vendor executed one recipe step.
type StepOutcome struct {
	Index      int        `json:"index"`
	ActionType ActionType `json:"actionType"`
	Status     string     `json:"status"`
	ImageURI   string     `json:"imageUri,omitempty"`
}

// RecipeRun is the canonical result of ExecuteRecipe.
type RecipeRun struct {
	RunID  string        `json:"runId"`
	Recipe string        `json:"recipe"`
	Vendor string        `json:"vendor"`
	State  string        `json:"state"`
	Steps  []StepOutcome `json:"steps"`
}

// ImageCapture is the canonical result of CaptureImage.
type ImageCapture struct {
	ImageID    string `json:"imageId"`
	URI        string `json:"uri"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Pointcloud bool   `json:"pointcloud"`
}

// UnscrewOutcome is the canonical result of Unscrew.
type UnscrewOutcome struct {
	Mode          string `json:"mode"`
	ScrewsRemoved int    `json:"screwsRemoved"`
}

// Unscrew modes reported in UnscrewOutcome.
const (
	UnscrewModeAutomatic = "automatic"
	UnscrewModeManual    = "manual"
)
