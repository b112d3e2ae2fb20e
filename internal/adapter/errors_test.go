package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/robot-control/rgw/internal/model"
)

type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string      { return e.msg }
func (e *codedError) VendorCode() string { return e.code }

func TestNormalizeVendorError(t *testing.T) {
	tests := []struct {
		name     string
		vendorID string
		err      error
		wantKind model.ErrorKind
		wantCode string
	}{
		{"company_a workspace token", "company_a", &codedError{"OUT_OF_WORKSPACE", "target outside reach"}, model.KindInvalidParameters, "OUT_OF_WORKSPACE"},
		{"company_a unknown action", "company_a", &codedError{"UNKNOWN_ACTION", "no such action"}, model.KindUnsupportedOperation, "UNKNOWN_ACTION"},
		{"company_a offline", "company_a", &codedError{"ROBOT_OFFLINE", "robot is offline"}, model.KindVendorUnavailable, "ROBOT_OFFLINE"},
		{"company_a busy is a rejection", "company_a", &codedError{"ROBOT_BUSY", "busy"}, model.KindVendorRejected, "ROBOT_BUSY"},
		{"company_b axis limit", "company_b", &codedError{"E_AXIS_LIMIT", "axis"}, model.KindInvalidParameters, "E_AXIS_LIMIT"},
		{"company_b method not found", "company_b", &codedError{"-32601", "Method not found"}, model.KindUnsupportedOperation, "-32601"},
		{"vendor id is case-insensitive", "COMPANY_B", &codedError{"E_OFFLINE", "down"}, model.KindVendorUnavailable, "E_OFFLINE"},
		{"message token without code", "company_a", errors.New("controller reports ROBOT_OFFLINE"), model.KindVendorUnavailable, ""},
		{"unknown token", "company_a", &codedError{"E_SOMETHING_NEW", "???"}, model.KindVendorRejected, "E_SOMETHING_NEW"},
		{"unknown vendor uses generic table", "acme", errors.New("NOT_READY"), model.KindVendorUnavailable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NormalizeVendorError(tt.vendorID, tt.err, map[string]any{"status": 409})
			if f == nil {
				t.Fatal("expected failure, got nil")
			}
			if f.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", f.Kind, tt.wantKind)
			}
			if tt.wantCode != "" && f.VendorDetail["code"] != tt.wantCode {
				t.Errorf("VendorDetail[code] = %v, want %s", f.VendorDetail["code"], tt.wantCode)
			}
			if f.VendorDetail["vendor"] != tt.vendorID {
				t.Errorf("VendorDetail[vendor] = %v, want %s", f.VendorDetail["vendor"], tt.vendorID)
			}
			if f.VendorDetail["status"] != 409 {
				t.Errorf("caller detail not merged: %v", f.VendorDetail)
			}
			if !errors.Is(f, tt.err) {
				t.Error("failure must keep the native error as its cause")
			}
		})
	}
}

func TestNormalizeVendorErrorTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded)},
		{"canceled", context.Canceled},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NormalizeVendorError("company_a", tt.err, nil)
			if f.Kind != model.KindVendorUnavailable {
				t.Errorf("Kind = %s, want VENDOR_UNAVAILABLE", f.Kind)
			}
		})
	}
}

func TestNormalizeVendorErrorPassesFailuresThrough(t *testing.T) {
	if NormalizeVendorError("company_a", nil, nil) != nil {
		t.Error("nil error must normalize to nil")
	}

	orig := model.Failf(model.KindUnsupportedOperation, "no point clouds")
	if got := NormalizeVendorError("company_b", orig, nil); got != orig {
		t.Errorf("expected the same failure back, got %v", got)
	}
}

func TestMalformedResponse(t *testing.T) {
	f := MalformedResponse("company_b", errors.New("unexpected EOF"))
	if f.Kind != model.KindVendorRejected {
		t.Errorf("Kind = %s, want VENDOR_REJECTED", f.Kind)
	}
	if f.VendorDetail["error"] != "unexpected EOF" {
		t.Errorf("VendorDetail = %v", f.VendorDetail)
	}
}

func TestCheckRecipe(t *testing.T) {
	base := NewAdapterBase("company_b", Capabilities{
		Protocol: "jsonrpc",
		Actions:  []model.ActionType{model.ActionTakeImage, model.ActionUnscrew},
	})

	ok := &model.Recipe{Name: "r", Steps: []model.RecipeStep{
		{ActionType: "image", Parameters: map[string]any{"x": 1.0, "y": 1.0}},
	}}
	if err := base.CheckRecipe(ok); err != nil {
		t.Fatalf("CheckRecipe() error = %v", err)
	}

	wait := &model.Recipe{Name: "r", Steps: []model.RecipeStep{
		{ActionType: model.ActionUnscrew, Parameters: map[string]any{"automatic": true}},
		{ActionType: model.ActionWait, Parameters: map[string]any{"durationMs": 10.0}},
	}}
	if err := base.CheckRecipe(wait); model.KindOf(err) != model.KindUnsupportedOperation {
		t.Errorf("wait step: got %v, want UNSUPPORTED_OPERATION", err)
	}

	cloud := &model.Recipe{Name: "r", Steps: []model.RecipeStep{
		{ActionType: model.ActionTakeImage, Parameters: map[string]any{"fullImage": true, "includePointcloud": true}},
	}}
	if err := base.CheckRecipe(cloud); model.KindOf(err) != model.KindUnsupportedOperation {
		t.Errorf("point cloud: got %v, want UNSUPPORTED_OPERATION", err)
	}
}
