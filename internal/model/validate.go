package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// ValidationError names the offending item of a rejected payload.
// StepIndex is -1 when the problem is not tied to a recipe step.
type ValidationError struct {
	StepIndex int
	Field     string
	Reason    string
	Kind      ErrorKind
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.StepIndex >= 0 {
		fmt.Fprintf(&b, "step %d: ", e.StepIndex)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "%s: ", e.Field)
	}
	b.WriteString(e.Reason)
	return b.String()
}

// Failure converts the validation error into its normalized form.
func (e *ValidationError) Failure() *Failure {
	kind := e.Kind
	if kind == "" {
		kind = KindInvalidRequest
	}
	return &Failure{Kind: kind, Message: e.Error(), Err: e}
}

func requestError(field, reason string) *ValidationError {
	return &ValidationError{StepIndex: -1, Field: field, Reason: reason, Kind: KindInvalidRequest}
}

func paramError(field, reason string) *ValidationError {
	return &ValidationError{StepIndex: -1, Field: field, Reason: reason, Kind: KindInvalidParameters}
}

// MaxWait bounds a single wait step.
const MaxWait = 10 * time.Minute

// Canonical resolves the action tag through the accepted aliases.
func (a ActionType) Canonical() (ActionType, bool) {
	return NormalizeAction(string(a))
}

// ValidateRecipe checks the recipe as a whole and then every step in order,
// reporting the first offending step.
func ValidateRecipe(r *Recipe) error {
	if r == nil {
		return requestError("recipe", "is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return requestError("name", "must not be empty")
	}
	if len(r.Steps) == 0 {
		return requestError("steps", "must contain at least one step")
	}
	for i, step := range r.Steps {
		if err := validateStep(step); err != nil {
			err.StepIndex = i
			return err
		}
	}
	return nil
}

func validateStep(step RecipeStep) *ValidationError {
	action, ok := step.ActionType.Canonical()
	if !ok {
		return requestError("actionType", fmt.Sprintf("unknown action %q", step.ActionType))
	}
	var err error
	switch action {
	case ActionTakeImage:
		_, err = StepImage(step)
	case ActionUnscrew:
		_, err = StepUnscrew(step)
	case ActionWait:
		_, err = StepWait(step)
	}
	if err != nil {
		return err.(*ValidationError)
	}
	return nil
}

// StepImage reads the image parameters of a takeImage step.
func StepImage(step RecipeStep) (ImageParams, error) {
	var p ImageParams
	var verr *ValidationError
	if p.FullImage, verr = boolParam(step.Parameters, "fullImage", "isFullImage"); verr != nil {
		return p, verr
	}
	if p.IncludePointcloud, verr = boolParam(step.Parameters, "includePointcloud", "pointcloud"); verr != nil {
		return p, verr
	}
	if p.Coordinates, verr = coordinateParam(step.Parameters); verr != nil {
		return p, verr
	}
	if p.Coordinates == nil && !p.FullImage {
		return p, paramError("coordinates", "an (x, y) pair is required unless fullImage is set")
	}
	return p, nil
}

// StepUnscrew reads the parameters of an unscrew step.
func StepUnscrew(step RecipeStep) (UnscrewParams, error) {
	var p UnscrewParams
	var verr *ValidationError
	if p.Automatic, verr = boolParam(step.Parameters, "automatic", "isAutomatic"); verr != nil {
		return p, verr
	}
	if p.Coordinates, verr = coordinateParam(step.Parameters); verr != nil {
		return p, verr
	}
	if p.Coordinates == nil && !p.Automatic {
		return p, paramError("coordinates", "an (x, y) pair is required unless automatic is set")
	}
	return p, nil
}

// StepWait reads the dwell duration of a wait step.
func StepWait(step RecipeStep) (time.Duration, error) {
	raw, ok := step.Parameters["durationMs"]
	if !ok {
		return 0, paramError("durationMs", "is required")
	}
	ms, ok := number(raw)
	if !ok {
		return 0, paramError("durationMs", fmt.Sprintf("must be a number, got %s", describe(raw)))
	}
	if ms <= 0 || ms != math.Trunc(ms) {
		return 0, paramError("durationMs", "must be a positive integer")
	}
	// Compare before converting: large floats overflow time.Duration.
	if ms > float64(MaxWait.Milliseconds()) {
		return 0, paramError("durationMs", fmt.Sprintf("must not exceed %d", MaxWait.Milliseconds()))
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// ValidateImageParams checks a standalone capture payload.
func ValidateImageParams(p *ImageParams) error {
	if p == nil {
		return requestError("params", "is required")
	}
	if p.Coordinates == nil {
		if !p.FullImage {
			return paramError("coordinates", "an (x, y) pair is required unless fullImage is set")
		}
		return nil
	}
	if err := checkCoordinate(*p.Coordinates); err != nil {
		return err
	}
	return nil
}

// ValidateUnscrewParams checks a standalone unscrew payload.
func ValidateUnscrewParams(p *UnscrewParams) error {
	if p == nil {
		return requestError("params", "is required")
	}
	if p.Coordinates == nil {
		if !p.Automatic {
			return paramError("coordinates", "an (x, y) pair is required unless automatic is set")
		}
		return nil
	}
	if err := checkCoordinate(*p.Coordinates); err != nil {
		return err
	}
	return nil
}

// ValidateRequest checks the request envelope and its payload.
func ValidateRequest(req *CommandRequest) error {
	if req == nil {
		return requestError("request", "is required")
	}
	if strings.TrimSpace(req.VendorID) == "" {
		return requestError("company", "must not be empty")
	}
	if !req.Operation.Valid() {
		return requestError("operation", fmt.Sprintf("unknown operation %q", req.Operation))
	}
	if req.Payload == nil {
		return requestError("payload", "is required")
	}
	if req.Payload.operation() != req.Operation {
		return requestError("payload", fmt.Sprintf("does not match operation %s", req.Operation))
	}
	switch p := req.Payload.(type) {
	case *Recipe:
		return ValidateRecipe(p)
	case *ImageParams:
		return ValidateImageParams(p)
	case *UnscrewParams:
		return ValidateUnscrewParams(p)
	}
	return requestError("payload", "unsupported payload type")
}

func boolParam(params map[string]any, keys ...string) (bool, *ValidationError) {
	for _, key := range keys {
		raw, ok := params[key]
		if !ok || raw == nil {
			continue
		}
		b, ok := raw.(bool)
		if !ok {
			return false, paramError(key, fmt.Sprintf("must be a boolean, got %s", describe(raw)))
		}
		return b, nil
	}
	return false, nil
}

// coordinateParam accepts x/y keys, coordinates:{x,y} or coordinates:[x,y].
// It returns nil when no coordinate is present.
func coordinateParam(params map[string]any) (*Coordinate, *ValidationError) {
	if raw, ok := params["coordinates"]; ok && raw != nil {
		var (
			c   Coordinate
			err *ValidationError
		)
		switch v := raw.(type) {
		case map[string]any:
			c, err = coordinateFromKeys(v, "coordinates.")
		case []any:
			c, err = coordinateFromPair(v)
		case []float64:
			c, err = coordinateFromPair(anySlice(v))
		case Coordinate:
			c = v
		case *Coordinate:
			c = *v
		default:
			return nil, paramError("coordinates", fmt.Sprintf("must be an (x, y) pair, got %s", describe(raw)))
		}
		if err != nil {
			return nil, err
		}
		if err := checkCoordinate(c); err != nil {
			return nil, err
		}
		return &c, nil
	}

	_, hasX := params["x"]
	_, hasY := params["y"]
	if !hasX && !hasY {
		return nil, nil
	}
	c, err := coordinateFromKeys(params, "")
	if err != nil {
		return nil, err
	}
	if err := checkCoordinate(c); err != nil {
		return nil, err
	}
	return &c, nil
}

func coordinateFromKeys(m map[string]any, prefix string) (Coordinate, *ValidationError) {
	var c Coordinate
	for _, axis := range []string{"x", "y"} {
		raw, ok := m[axis]
		if !ok || raw == nil {
			return c, paramError(prefix+axis, "is required")
		}
		n, ok := number(raw)
		if !ok {
			return c, paramError(prefix+axis, fmt.Sprintf("must be a number, got %s", describe(raw)))
		}
		if axis == "x" {
			c.X = n
		} else {
			c.Y = n
		}
	}
	return c, nil
}

func coordinateFromPair(v []any) (Coordinate, *ValidationError) {
	if len(v) != 2 {
		return Coordinate{}, paramError("coordinates", fmt.Sprintf("must have exactly 2 elements, got %d", len(v)))
	}
	x, okX := number(v[0])
	y, okY := number(v[1])
	if !okX || !okY {
		return Coordinate{}, paramError("coordinates", "elements must be numbers")
	}
	return Coordinate{X: x, Y: y}, nil
}

func checkCoordinate(c Coordinate) *ValidationError {
	if math.IsNaN(c.X) || math.IsInf(c.X, 0) || math.IsNaN(c.Y) || math.IsInf(c.Y, 0) {
		return paramError("coordinates", "must be finite")
	}
	if c.X < 0 || c.Y < 0 {
		return paramError("coordinates", "must not be negative")
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func anySlice(v []float64) []any {
	out := make([]any, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}

func describe(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if _, ok := number(v); ok {
		return "scalar number"
	}
	return fmt.Sprintf("%T", v)
}
