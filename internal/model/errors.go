package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a CommandFailure.
type ErrorKind string

const (
	KindInvalidRequest       ErrorKind = "INVALID_REQUEST"
	KindUnsupportedVendor    ErrorKind = "UNSUPPORTED_VENDOR"
	KindUnsupportedOperation ErrorKind = "UNSUPPORTED_OPERATION"
	KindInvalidParameters    ErrorKind = "INVALID_PARAMETERS"
	KindVendorUnavailable    ErrorKind = "VENDOR_UNAVAILABLE"
	KindVendorRejected       ErrorKind = "VENDOR_REJECTED"
	KindInternalError        ErrorKind = "INTERNAL_ERROR"
)

// Sentinel codes, one per kind. A *Failure matches the sentinel of its kind
// under errors.Is.
var (
	ErrInvalidRequest       = errors.New(string(KindInvalidRequest))
	ErrUnsupportedVendor    = errors.New(string(KindUnsupportedVendor))
	ErrUnsupportedOperation = errors.New(string(KindUnsupportedOperation))
	ErrInvalidParameters    = errors.New(string(KindInvalidParameters))
	ErrVendorUnavailable    = errors.New(string(KindVendorUnavailable))
	ErrVendorRejected       = errors.New(string(KindVendorRejected))
	ErrInternal             = errors.New(string(KindInternalError))
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidRequest:       ErrInvalidRequest,
	KindUnsupportedVendor:    ErrUnsupportedVendor,
	KindUnsupportedOperation: ErrUnsupportedOperation,
	KindInvalidParameters:    ErrInvalidParameters,
	KindVendorUnavailable:    ErrVendorUnavailable,
	KindVendorRejected:       ErrVendorRejected,
	KindInternalError:        ErrInternal,
}

// Sentinel returns the sentinel error for k, or ErrInternal for unknown kinds.
func (k ErrorKind) Sentinel() error {
	if err, ok := kindSentinels[k]; ok {
		return err
	}
	return ErrInternal
}

// Failure is the normalized error value. VendorDetail is diagnostic only and
// never carries vendor-native types.
type Failure struct {
	Kind         ErrorKind
	Message      string
	VendorDetail map[string]any
	Err          error
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap exposes the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches the sentinel of the failure's kind.
func (f *Failure) Is(target error) bool {
	return target == f.Kind.Sentinel()
}

// Failf builds a Failure with a formatted message.
func Failf(kind ErrorKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches vendor diagnostics.
func (f *Failure) WithDetail(detail map[string]any) *Failure {
	f.VendorDetail = detail
	return f
}

// WithCause records the error that produced the failure.
func (f *Failure) WithCause(err error) *Failure {
	f.Err = err
	return f
}

// AsFailure extracts a *Failure from err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf classifies err. Errors that are not failures are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if f, ok := AsFailure(err); ok {
		return f.Kind
	}
	return KindInternalError
}
