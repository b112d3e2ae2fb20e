package vendorsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcControllerErr  = -32000
)

// Company B fault tokens, carried as the message prefix.
var companyBTokens = map[FaultCode]string{
	FaultBusy:        "E_BUSY",
	FaultOffline:     "E_OFFLINE",
	FaultWorkspace:   "E_AXIS_LIMIT",
	FaultTool:        "E_TOOL",
	FaultUnsupported: "E_UNSUPPORTED",
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type companyBOp struct {
	Seq int    `json:"seq"`
	Op  string `json:"op"`
	Pos string `json:"pos"`
}

type companyBProgram struct {
	Program string       `json:"program"`
	Unit    string       `json:"unit"`
	Ops     []companyBOp `json:"ops"`
}

type companyBTarget struct {
	Unit string `json:"unit"`
	Pos  string `json:"pos"`
}

type rpcMethod func(ctx context.Context, params json.RawMessage) (any, *rpcError)

// NewCompanyBHandler serves the Company B JSON-RPC API for robot at /rpc.
func NewCompanyBHandler(robot *Robot) http.Handler {
	h := &companyBHandler{robot: robot}
	h.methods = map[string]rpcMethod{
		"program.execute": h.programExecute,
		"camera.snap":     h.cameraSnap,
		"tool.unscrew":    h.toolUnscrew,
	}
	r := chi.NewRouter()
	r.Post("/rpc", h.serveRPC)
	r.Mount("/sim", NewAdminHandler(robot))
	return r
}

type companyBHandler struct {
	robot   *Robot
	methods map[string]rpcMethod
}

func (h *companyBHandler) serveRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: rpcParseError, Message: "Parse error"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: rpcInvalidRequest, Message: "Invalid Request"}, ID: req.ID})
		return
	}

	method, ok := h.methods[req.Method]
	if !ok {
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: rpcMethodNotFound, Message: "Method not found"}, ID: req.ID})
		return
	}

	result, rpcErr := method(r.Context(), req.Params)
	if rpcErr != nil {
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", Error: rpcErr, ID: req.ID})
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func (h *companyBHandler) programExecute(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var p companyBProgram
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	if len(p.Ops) == 0 {
		return nil, invalidParams("ops must not be empty")
	}

	actions := make([]Action, 0, len(p.Ops))
	for i, op := range p.Ops {
		if op.Seq != i+1 {
			return nil, invalidParams(fmt.Sprintf("ops out of sequence at index %d (seq %d)", i, op.Seq))
		}
		a, err := companyBAction(op.Op, op.Pos)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}

	results, err := h.robot.RunProgram(ctx, p.Unit, actions)
	if err != nil {
		return nil, companyBFault(err)
	}

	type done struct {
		Seq  int    `json:"seq"`
		OK   bool   `json:"ok"`
		Href string `json:"href,omitempty"`
	}
	out := struct {
		Job  string `json:"job"`
		Done []done `json:"done"`
	}{Job: uuid.NewString()}
	for i, res := range results {
		out.Done = append(out.Done, done{Seq: i + 1, OK: res.OK, Href: res.Href})
	}
	return out, nil
}

func (h *companyBHandler) cameraSnap(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var p companyBTarget
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	a, rpcErr := companyBAction("IMG", p.Pos)
	if rpcErr != nil {
		return nil, rpcErr
	}
	frame, err := h.robot.Capture(ctx, p.Unit, a)
	if err != nil {
		return nil, companyBFault(err)
	}
	return map[string]string{
		"frame": frame.ID,
		"href":  frame.Href,
		"res":   fmt.Sprintf("%dx%d", frame.Width, frame.Height),
	}, nil
}

func (h *companyBHandler) toolUnscrew(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var p companyBTarget
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	a, rpcErr := companyBAction("UNSCREW", p.Pos)
	if rpcErr != nil {
		return nil, rpcErr
	}
	count, err := h.robot.Unscrew(ctx, p.Unit, a)
	if err != nil {
		return nil, companyBFault(err)
	}
	return map[string]int{"count": count}, nil
}

func companyBAction(op, pos string) (Action, *rpcError) {
	var a Action
	switch op {
	case "IMG":
		a.Kind = ActionImage
	case "UNSCREW":
		a.Kind = ActionUnscrew
	default:
		return a, &rpcError{Code: rpcControllerErr, Message: "E_UNSUPPORTED: unknown op " + op}
	}

	switch {
	case pos == "FULL" && a.Kind == ActionImage:
		a.Full = true
	case pos == "AUTO" && a.Kind == ActionUnscrew:
		a.Auto = true
	default:
		xs, ys, ok := strings.Cut(pos, ";")
		x, errX := strconv.ParseFloat(xs, 64)
		y, errY := strconv.ParseFloat(ys, 64)
		if !ok || errX != nil || errY != nil {
			return a, &rpcError{Code: rpcInvalidParams, Message: "E_PARAM: bad pos " + strconv.Quote(pos)}
		}
		a.X, a.Y = x, y
	}
	return a, nil
}

func companyBFault(err error) *rpcError {
	var fault *Fault
	if errors.As(err, &fault) {
		if token, ok := companyBTokens[fault.Code]; ok {
			return &rpcError{Code: rpcControllerErr, Message: token + ": " + fault.Message}
		}
	}
	return &rpcError{Code: rpcControllerErr, Message: "E_INTERNAL: " + err.Error()}
}

func invalidParams(msg string) *rpcError {
	return &rpcError{Code: rpcInvalidParams, Message: "E_PARAM: " + msg}
}
