package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/robot-control/rgw/internal/model"
)

// maxBodyBytes bounds a command body.
const maxBodyBytes = 1 << 20

// envelope is embedded by every command body.
type envelope struct {
	Company string `json:"company" validate:"required,max=64"`
	RobotID string `json:"robotId,omitempty" validate:"max=128"`
}

type recipeRequest struct {
	envelope
	Recipe *recipeBody `json:"recipe" validate:"required"`
}

type recipeBody struct {
	Name      string     `json:"name"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	Steps     []stepBody `json:"steps"`
}

// stepBody accepts the canonical step form {id?, actionType, parameters}
// and the recipe editor export form {id, type, includePointcloud,
// isFullImage, isAutomatic, coordinates}.
type stepBody struct {
	ID         string         `json:"id,omitempty"`
	ActionType string         `json:"actionType,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	Type              string `json:"type,omitempty"`
	IncludePointcloud *bool  `json:"includePointcloud,omitempty"`
	IsFullImage       *bool  `json:"isFullImage,omitempty"`
	IsAutomatic       *bool  `json:"isAutomatic,omitempty"`
	Coordinates       any    `json:"coordinates,omitempty"`
}

type captureRequest struct {
	envelope
	Params captureParams `json:"params"`
}

type captureParams struct {
	Coordinates       any  `json:"coordinates,omitempty"`
	IsFullImage       bool `json:"isFullImage,omitempty"`
	IncludePointcloud bool `json:"includePointcloud,omitempty"`
}

type unscrewRequest struct {
	envelope
	Params unscrewParams `json:"params"`
}

type unscrewParams struct {
	IsAutomatic bool `json:"isAutomatic,omitempty"`
	Coordinates any  `json:"coordinates,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeStrict decodes a single JSON object, rejecting unknown fields and
// trailing data, then runs struct validation.
func decodeStrict(w http.ResponseWriter, r *http.Request, dst any) *model.Failure {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return model.Failf(model.KindInvalidRequest, "request body exceeds %d bytes", maxErr.Limit)
		}
		return model.Failf(model.KindInvalidRequest, "malformed JSON or unknown fields: %v", err).WithCause(err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return model.Failf(model.KindInvalidRequest, "trailing data after JSON object")
	}
	if err := validate.Struct(dst); err != nil {
		return validationFailure(err)
	}
	return nil
}

func validationFailure(err error) *model.Failure {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.Failf(model.KindInvalidRequest, "%v", err).WithCause(err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := jsonFieldName(fe)
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return model.Failf(model.KindInvalidRequest, "%s", strings.Join(msgs, "; ")).WithCause(err)
}

func jsonFieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "Company":
		return "company"
	case "RobotID":
		return "robotId"
	case "Recipe":
		return "recipe"
	}
	return fe.Field()
}

func (b *recipeBody) toModel() (*model.Recipe, *model.Failure) {
	recipe := &model.Recipe{
		Name:      b.Name,
		CreatedAt: b.CreatedAt,
		Steps:     make([]model.RecipeStep, 0, len(b.Steps)),
	}
	for i, sb := range b.Steps {
		step, err := sb.toModel()
		if err != nil {
			return nil, model.Failf(model.KindInvalidRequest, "step %d: %s", i, err.Error())
		}
		recipe.Steps = append(recipe.Steps, step)
	}
	return recipe, nil
}

func (b stepBody) toModel() (model.RecipeStep, error) {
	action := b.ActionType
	if b.Type != "" {
		editorAction, ok := model.NormalizeAction(b.Type)
		if !ok {
			return model.RecipeStep{}, fmt.Errorf("unknown step type %q", b.Type)
		}
		if action != "" {
			if canonical, _ := model.NormalizeAction(action); canonical != editorAction {
				return model.RecipeStep{}, fmt.Errorf("type %q conflicts with actionType %q", b.Type, action)
			}
		}
		action = string(editorAction)
	}
	if action == "" {
		return model.RecipeStep{}, errors.New("actionType is required")
	}

	params := make(map[string]any, len(b.Parameters)+4)
	for k, v := range b.Parameters {
		params[k] = v
	}
	if b.IncludePointcloud != nil {
		params["includePointcloud"] = *b.IncludePointcloud
	}
	if b.IsFullImage != nil {
		params["isFullImage"] = *b.IsFullImage
	}
	if b.IsAutomatic != nil {
		params["isAutomatic"] = *b.IsAutomatic
	}
	// The editor keeps stale coordinates when full image or automatic mode
	// hides the field; they are not part of the step.
	if b.Coordinates != nil && !isSet(b.IsFullImage) && !isSet(b.IsAutomatic) {
		params["coordinates"] = b.Coordinates
	}

	id := b.ID
	if id == "" {
		id = uuid.NewString()
	}
	return model.RecipeStep{ID: id, ActionType: model.ActionType(action), Parameters: params}, nil
}

// toModel reads the capture params through the takeImage step rules so
// coordinate shapes are interpreted identically everywhere.
func (p captureParams) toModel() (*model.ImageParams, *model.Failure) {
	params := map[string]any{
		"isFullImage":       p.IsFullImage,
		"includePointcloud": p.IncludePointcloud,
	}
	if p.Coordinates != nil {
		params["coordinates"] = p.Coordinates
	}
	img, err := model.StepImage(model.RecipeStep{ActionType: model.ActionTakeImage, Parameters: params})
	if err != nil {
		return nil, paramFailure(err)
	}
	return &img, nil
}

func (p unscrewParams) toModel() (*model.UnscrewParams, *model.Failure) {
	params := map[string]any{"isAutomatic": p.IsAutomatic}
	if p.Coordinates != nil {
		params["coordinates"] = p.Coordinates
	}
	u, err := model.StepUnscrew(model.RecipeStep{ActionType: model.ActionUnscrew, Parameters: params})
	if err != nil {
		return nil, paramFailure(err)
	}
	return &u, nil
}

func paramFailure(err error) *model.Failure {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return verr.Failure()
	}
	return model.Failf(model.KindInvalidParameters, "%v", err).WithCause(err)
}

func isSet(b *bool) bool { return b != nil && *b }
