package api

import (
	"encoding/json"
	"net/http"

	"github.com/robot-control/rgw/internal/command"
	"github.com/robot-control/rgw/internal/model"
)

// Envelope status values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Response represents the unified envelope format.
type Response struct {
	Status        string         `json:"status"`
	Data          interface{}    `json:"data,omitempty"`
	Kind          string         `json:"kind,omitempty"`
	Message       string         `json:"message,omitempty"`
	Vendor        *VendorSection `json:"vendor,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// VendorSection namespaces vendor-native diagnostics so they cannot be
// mistaken for canonical fields.
type VendorSection struct {
	Detail map[string]any `json:"detail"`
}

// StatusForKind maps a failure kind to its HTTP status code.
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindInvalidRequest:
		return http.StatusBadRequest
	case model.KindUnsupportedVendor:
		return http.StatusNotFound
	case model.KindInvalidParameters, model.KindUnsupportedOperation:
		return http.StatusUnprocessableEntity
	case model.KindVendorRejected:
		return http.StatusBadGateway
	case model.KindVendorUnavailable:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeSuccess writes a 200 success envelope.
func writeSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeResponse(w, http.StatusOK, &Response{
		Status:        StatusSuccess,
		Data:          data,
		CorrelationID: command.CorrelationID(r.Context()),
	})
}

// writeError writes a failure envelope with an explicit status and kind.
func writeError(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	writeResponse(w, status, &Response{
		Status:        StatusFailure,
		Kind:          kind,
		Message:       message,
		CorrelationID: command.CorrelationID(r.Context()),
	})
}

// writeFailure writes a normalized failure. Errors that are not failures
// are reported as INTERNAL_ERROR without their text.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	f, ok := model.AsFailure(err)
	if !ok {
		f = model.Failf(model.KindInternalError, "internal error")
	}
	resp := &Response{
		Status:        StatusFailure,
		Kind:          string(f.Kind),
		Message:       f.Message,
		CorrelationID: command.CorrelationID(r.Context()),
	}
	if s.exposeVendorDetail && len(f.VendorDetail) > 0 {
		resp.Vendor = &VendorSection{Detail: f.VendorDetail}
	}
	writeResponse(w, StatusForKind(f.Kind), resp)
}

// WriteAuthError renders auth failures in the failure envelope. It is the
// auth.ErrorWriter the server's auth middleware is built with.
func WriteAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeError(w, r, status, code, message)
}

func writeResponse(w http.ResponseWriter, statusCode int, response *Response) {
	body, err := json.Marshal(response)
	if err != nil {
		statusCode = http.StatusInternalServerError
		body, _ = json.Marshal(&Response{
			Status:        StatusFailure,
			Kind:          string(model.KindInternalError),
			Message:       "failed to encode response",
			CorrelationID: response.CorrelationID,
		})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(append(body, '\n'))
}
