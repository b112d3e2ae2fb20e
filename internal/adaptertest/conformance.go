// Package adaptertest provides vendor-agnostic conformance testing for
// vendor adapters. Every adapter must preserve recipe order, reject invalid
// payloads before contacting the vendor and return only normalized failures.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/robot-control/rgw/internal/adapter"
	"github.com/robot-control/rgw/internal/model"
)

// Expectations describes what the adapter under test should support.
type Expectations struct {
	// Actions the vendor executes; other actions must be rejected as
	// UNSUPPORTED_OPERATION.
	Actions    []model.ActionType
	Pointcloud bool
	// Coordinate is a reachable workspace position.
	Coordinate model.Coordinate
	RobotID    string
}

// ConformanceResult represents the result of a conformance test.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]interface{}
}

// ConformanceReport represents the complete conformance test report.
type ConformanceReport struct {
	AdapterName   string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

// RunConformance runs the complete conformance suite for an adapter.
func RunConformance(t *testing.T, newAdapter func() adapter.VendorAdapter, exp Expectations) {
	startTime := time.Now()

	report := &ConformanceReport{
		AdapterName:   newAdapter().Vendor(),
		OverallPassed: true,
	}

	runCapabilityTests(newAdapter, exp, report)
	runRecipeTests(newAdapter, exp, report)
	runCaptureTests(newAdapter, exp, report)
	runUnscrewTests(newAdapter, exp, report)
	runInvalidPayloadTests(newAdapter, exp, report)
	runCancellationTests(newAdapter, exp, report)

	report.Duration = time.Since(startTime)
	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("Adapter conformance test failed: %d/%d tests passed", report.PassedTests, report.TotalTests)
	}
}

func runCapabilityTests(newAdapter func() adapter.VendorAdapter, exp Expectations, report *ConformanceReport) {
	a := newAdapter()
	caps := a.Capabilities()

	result := ConformanceResult{TestName: "Capabilities_Declared", Details: map[string]interface{}{}}
	switch {
	case a.Vendor() == "":
		result.Error = "Vendor() returned an empty identifier"
	case caps.Pointcloud != exp.Pointcloud:
		result.Error = fmt.Sprintf("pointcloud capability = %v, want %v", caps.Pointcloud, exp.Pointcloud)
	default:
		result.Passed = true
		for _, action := range exp.Actions {
			if !caps.SupportsAction(action) {
				result.Passed = false
				result.Error = fmt.Sprintf("capabilities do not list %q", action)
			}
		}
		result.Details["protocol"] = caps.Protocol
	}
	report.addResult(result)
}

func runRecipeTests(newAdapter func() adapter.VendorAdapter, exp Expectations, report *ConformanceReport) {
	a := newAdapter()
	ctx := context.Background()

	recipe := supportedRecipe(exp)
	result := ConformanceResult{TestName: "ExecuteRecipe_PreservesOrder", Details: map[string]interface{}{}}
	start := time.Now()
	res, err := a.ExecuteRecipe(ctx, recipe, exp.RobotID)
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = fmt.Sprintf("ExecuteRecipe failed: %v", err)
	} else if run, ok := res.Data.(model.RecipeRun); !ok {
		result.Error = fmt.Sprintf("ExecuteRecipe returned %T, want model.RecipeRun", res.Data)
	} else if len(run.Steps) != len(recipe.Steps) {
		result.Error = fmt.Sprintf("got %d step outcomes, want %d", len(run.Steps), len(recipe.Steps))
	} else {
		result.Passed = true
		for i, s := range run.Steps {
			want, _ := recipe.Steps[i].ActionType.Canonical()
			if s.Index != i || s.ActionType != want {
				result.Passed = false
				result.Error = fmt.Sprintf("outcome %d is step %d (%s), want step %d (%s)", i, s.Index, s.ActionType, i, want)
				break
			}
		}
		result.Details["steps"] = len(run.Steps)
	}
	report.addResult(result)

	for _, action := range []model.ActionType{model.ActionTakeImage, model.ActionUnscrew, model.ActionWait} {
		if contains(exp.Actions, action) {
			continue
		}
		result := ConformanceResult{TestName: "ExecuteRecipe_Unsupported_" + string(action), Details: map[string]interface{}{}}
		start := time.Now()
		_, err := a.ExecuteRecipe(ctx, &model.Recipe{Name: "unsupported", Steps: []model.RecipeStep{stepFor(action, exp)}}, exp.RobotID)
		result.Duration = time.Since(start)
		checkKind(&result, err, model.ErrUnsupportedOperation)
		report.addResult(result)
	}
}

func runCaptureTests(newAdapter func() adapter.VendorAdapter, exp Expectations, report *ConformanceReport) {
	a := newAdapter()
	ctx := context.Background()

	for name, params := range map[string]*model.ImageParams{
		"Full":       {FullImage: true},
		"Coordinate": {Coordinates: &exp.Coordinate},
	} {
		result := ConformanceResult{TestName: "CaptureImage_" + name, Details: map[string]interface{}{}}
		start := time.Now()
		res, err := a.CaptureImage(ctx, params, exp.RobotID)
		result.Duration = time.Since(start)
		if err != nil {
			result.Error = fmt.Sprintf("CaptureImage failed: %v", err)
		} else if img, ok := res.Data.(model.ImageCapture); !ok || img.ImageID == "" {
			result.Error = fmt.Sprintf("CaptureImage returned %+v", res.Data)
		} else {
			result.Passed = true
			result.Details["imageId"] = img.ImageID
		}
		report.addResult(result)
	}

	if !exp.Pointcloud {
		result := ConformanceResult{TestName: "CaptureImage_PointcloudUnsupported", Details: map[string]interface{}{}}
		start := time.Now()
		_, err := a.CaptureImage(ctx, &model.ImageParams{FullImage: true, IncludePointcloud: true}, exp.RobotID)
		result.Duration = time.Since(start)
		checkKind(&result, err, model.ErrUnsupportedOperation)
		report.addResult(result)
	}
}

func runUnscrewTests(newAdapter func() adapter.VendorAdapter, exp Expectations, report *ConformanceReport) {
	a := newAdapter()
	ctx := context.Background()

	for name, params := range map[string]*model.UnscrewParams{
		"Automatic": {Automatic: true},
		"Targeted":  {Coordinates: &exp.Coordinate},
	} {
		result := ConformanceResult{TestName: "Unscrew_" + name, Details: map[string]interface{}{}}
		start := time.Now()
		res, err := a.Unscrew(ctx, params, exp.RobotID)
		result.Duration = time.Since(start)
		if err != nil {
			result.Error = fmt.Sprintf("Unscrew failed: %v", err)
		} else if out, ok := res.Data.(model.UnscrewOutcome); !ok {
			result.Error = fmt.Sprintf("Unscrew returned %T", res.Data)
		} else {
			result.Passed = true
			result.Details["screwsRemoved"] = out.ScrewsRemoved
		}
		report.addResult(result)
	}
}

func runInvalidPayloadTests(newAdapter func() adapter.VendorAdapter, exp Expectations, report *ConformanceReport) {
	a := newAdapter()
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"ScalarCoordinates", func() error {
			_, err := a.ExecuteRecipe(ctx, &model.Recipe{Name: "scalar", Steps: []model.RecipeStep{
				{ActionType: model.ActionTakeImage, Parameters: map[string]any{"coordinates": 5.0}},
			}}, exp.RobotID)
			return err
		}},
		{"NegativeCoordinate", func() error {
			_, err := a.CaptureImage(ctx, &model.ImageParams{Coordinates: &model.Coordinate{X: -1, Y: 1}}, exp.RobotID)
			return err
		}},
		{"UnscrewWithoutTarget", func() error {
			_, err := a.Unscrew(ctx, &model.UnscrewParams{}, exp.RobotID)
			return err
		}},
	}
	for _, tc := range cases {
		result := ConformanceResult{TestName: "InvalidPayload_" + tc.name, Details: map[string]interface{}{}}
		start := time.Now()
		err := tc.call()
		result.Duration = time.Since(start)
		checkKind(&result, err, model.ErrInvalidParameters)
		report.addResult(result)
	}

	result := ConformanceResult{TestName: "InvalidPayload_NilRecipe", Details: map[string]interface{}{}}
	_, err := a.ExecuteRecipe(ctx, nil, exp.RobotID)
	if _, ok := model.AsFailure(err); !ok {
		result.Error = fmt.Sprintf("nil recipe should return a failure, got %v", err)
	} else {
		result.Passed = true
		result.Details["kind"] = model.KindOf(err)
	}
	report.addResult(result)
}

func runCancellationTests(newAdapter func() adapter.VendorAdapter, exp Expectations, report *ConformanceReport) {
	a := newAdapter()

	result := ConformanceResult{TestName: "Cancellation_Unavailable", Details: map[string]interface{}{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := a.CaptureImage(ctx, &model.ImageParams{FullImage: true}, exp.RobotID)
	result.Duration = time.Since(start)
	checkKind(&result, err, model.ErrVendorUnavailable)
	report.addResult(result)
}

// Helper functions

func supportedRecipe(exp Expectations) *model.Recipe {
	recipe := &model.Recipe{Name: "conformance"}
	for _, action := range exp.Actions {
		recipe.Steps = append(recipe.Steps, stepFor(action, exp))
	}
	if contains(exp.Actions, model.ActionTakeImage) {
		recipe.Steps = append(recipe.Steps, model.RecipeStep{
			ActionType: model.ActionTakeImage,
			Parameters: map[string]any{"fullImage": true},
		})
	}
	return recipe
}

func stepFor(action model.ActionType, exp Expectations) model.RecipeStep {
	switch action {
	case model.ActionTakeImage:
		return model.RecipeStep{ActionType: action, Parameters: map[string]any{
			"coordinates": map[string]any{"x": exp.Coordinate.X, "y": exp.Coordinate.Y},
		}}
	case model.ActionUnscrew:
		return model.RecipeStep{ActionType: action, Parameters: map[string]any{"automatic": true}}
	default:
		return model.RecipeStep{ActionType: action, Parameters: map[string]any{"durationMs": 1.0}}
	}
}

func checkKind(result *ConformanceResult, err error, want error) {
	if err == nil {
		result.Error = fmt.Sprintf("expected %v, got success", want)
		return
	}
	if _, ok := model.AsFailure(err); !ok {
		result.Error = fmt.Sprintf("error is not normalized: %T %v", err, err)
		return
	}
	if !errors.Is(err, want) {
		result.Error = fmt.Sprintf("expected %v, got %v", want, err)
		return
	}
	result.Passed = true
	result.Details["error"] = err.Error()
}

func contains(actions []model.ActionType, a model.ActionType) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
	r.Results = append(r.Results, result)
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Logf("\n%s", strings.Repeat("=", 80))
	t.Logf("ADAPTER CONFORMANCE REPORT")
	t.Logf("%s", strings.Repeat("=", 80))
	t.Logf("Adapter: %s", report.AdapterName)
	t.Logf("Total Tests: %d", report.TotalTests)
	t.Logf("Passed: %d", report.PassedTests)
	t.Logf("Failed: %d", report.FailedTests)
	t.Logf("Overall: %s", map[bool]string{true: "PASS", false: "FAIL"}[report.OverallPassed])
	t.Logf("Duration: %v", report.Duration)
	t.Logf("%s", strings.Repeat("-", 80))

	t.Logf("%-40s %-8s %-12s %-s", "TEST NAME", "RESULT", "DURATION", "DETAILS")
	t.Logf("%s", strings.Repeat("-", 80))

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}

		details := result.Error
		if details == "" && len(result.Details) > 0 {
			var parts []string
			for k, v := range result.Details {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			details = strings.Join(parts, ", ")
		}

		t.Logf("%-40s %-8s %-12s %-s", result.TestName, status, result.Duration.String(), details)
	}

	t.Logf("%s", strings.Repeat("=", 80))
}
