package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/robot-control/rgw/internal/model"
)

// VendorMap lists the vendor error tokens that map to a precise kind.
// Tokens that match nothing normalize to VENDOR_REJECTED.
type VendorMap struct {
	Parameters  []string // INVALID_PARAMETERS
	Unsupported []string // UNSUPPORTED_OPERATION
	Unavailable []string // VENDOR_UNAVAILABLE
}

// VendorErrorMappings holds the token tables keyed by vendor identifier.
// Vendors without an entry use "generic".
//
// Matching is a case-insensitive substring test against the vendor's error
// code (or message when no code is available), checked in the order
// Parameters, Unsupported, Unavailable.
var VendorErrorMappings = map[string]VendorMap{
	"company_a": {
		Parameters: []string{
			"OUT_OF_WORKSPACE",
			"INVALID_COORDINATE",
			"INVALID_PARAMETER",
			"BAD_REQUEST",
		},
		Unsupported: []string{
			"UNKNOWN_ACTION",
			"NOT_SUPPORTED",
		},
		Unavailable: []string{
			"ROBOT_OFFLINE",
			"CONTROLLER_STARTING",
			"MAINTENANCE_MODE",
		},
	},
	"company_b": {
		Parameters: []string{
			"E_AXIS_LIMIT",
			"E_PARAM",
			"-32602",
		},
		Unsupported: []string{
			"E_UNSUPPORTED",
			"-32601",
		},
		Unavailable: []string{
			"E_OFFLINE",
			"E_ESTOP",
			"E_BOOT",
		},
	},
	"generic": {
		Parameters: []string{
			"OUT_OF_RANGE",
			"INVALID_PARAMETER",
			"BAD_VALUE",
		},
		Unsupported: []string{
			"UNSUPPORTED",
			"NOT_IMPLEMENTED",
		},
		Unavailable: []string{
			"UNAVAILABLE",
			"OFFLINE",
			"NOT_READY",
		},
	},
}

// VendorCoder is implemented by native client errors that carry a
// vendor error code.
type VendorCoder interface {
	VendorCode() string
}

// NormalizeVendorError maps a native client error to a failure.
// Transport and deadline errors become VENDOR_UNAVAILABLE; vendor error
// tokens go through the vendor's table. detail is merged into the failure's
// vendor detail.
func NormalizeVendorError(vendorID string, err error, detail map[string]any) *model.Failure {
	if err == nil {
		return nil
	}
	if f, ok := model.AsFailure(err); ok {
		return f
	}

	vd := map[string]any{"vendor": vendorID}
	for k, v := range detail {
		vd[k] = v
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		vd["error"] = err.Error()
		return model.Failf(model.KindVendorUnavailable, "%s did not respond before the deadline", vendorID).
			WithDetail(vd).WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		vd["error"] = err.Error()
		return model.Failf(model.KindVendorUnavailable, "%s is unreachable", vendorID).
			WithDetail(vd).WithCause(err)
	}

	token := err.Error()
	var coder VendorCoder
	if errors.As(err, &coder) && coder.VendorCode() != "" {
		token = coder.VendorCode()
		vd["code"] = token
	}
	vd["message"] = err.Error()

	kind := mapVendorToken(token, vendorID)
	return model.Failf(kind, "%s: %s", vendorID, err.Error()).WithDetail(vd).WithCause(err)
}

// MalformedResponse reports a vendor reply that could not be decoded.
func MalformedResponse(vendorID string, err error) *model.Failure {
	return model.Failf(model.KindVendorRejected, "%s returned a malformed response", vendorID).
		WithDetail(map[string]any{"vendor": vendorID, "error": err.Error()}).
		WithCause(err)
}

// mapVendorToken resolves a vendor token to a kind using the vendor's table.
func mapVendorToken(token, vendorID string) model.ErrorKind {
	vendorMap, exists := VendorErrorMappings[strings.ToLower(vendorID)]
	if !exists {
		vendorMap = VendorErrorMappings["generic"]
	}

	upper := strings.ToUpper(token)
	for _, group := range []struct {
		tokens []string
		kind   model.ErrorKind
	}{
		{vendorMap.Parameters, model.KindInvalidParameters},
		{vendorMap.Unsupported, model.KindUnsupportedOperation},
		{vendorMap.Unavailable, model.KindVendorUnavailable},
	} {
		for _, t := range group.tokens {
			if strings.Contains(upper, strings.ToUpper(t)) {
				return group.kind
			}
		}
	}
	return model.KindVendorRejected
}

// Describe renders a vendor failure for logs.
func Describe(f *model.Failure) string {
	if f == nil {
		return ""
	}
	if code, ok := f.VendorDetail["code"]; ok {
		return fmt.Sprintf("%s (vendor code %v)", f.Kind, code)
	}
	return string(f.Kind)
}
