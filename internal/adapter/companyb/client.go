package companyb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// ErrMalformedResponse marks a reply that is not a valid JSON-RPC response.
var ErrMalformedResponse = errors.New("malformed response")

const maxBodyBytes = 1 << 20

// Client is the Company B JSON-RPC 2.0 controller API.
type Client interface {
	Call(ctx context.Context, method string, params, result any) error
}

// Method names exposed by the controller.
const (
	MethodProgramExecute = "program.execute"
	MethodCameraSnap     = "camera.snap"
	MethodToolUnscrew    = "tool.unscrew"
)

// Op is one entry of a native program.
type Op struct {
	Seq int    `json:"seq"`
	Op  string `json:"op"`
	Pos string `json:"pos"`
}

// ProgramParams are the params of program.execute.
type ProgramParams struct {
	Program string `json:"program"`
	Unit    string `json:"unit,omitempty"`
	Ops     []Op   `json:"ops"`
}

// OpResult reports one executed op.
type OpResult struct {
	Seq  int    `json:"seq"`
	OK   bool   `json:"ok"`
	Href string `json:"href,omitempty"`
}

// ProgramResult is the result of program.execute.
type ProgramResult struct {
	Job  string     `json:"job"`
	Done []OpResult `json:"done"`
}

// SnapParams are the params of camera.snap.
type SnapParams struct {
	Unit string `json:"unit,omitempty"`
	Pos  string `json:"pos"`
}

// SnapResult is the result of camera.snap. Res is "WIDTHxHEIGHT".
type SnapResult struct {
	Frame string `json:"frame"`
	Href  string `json:"href"`
	Res   string `json:"res"`
}

// UnscrewParams are the params of tool.unscrew.
type UnscrewParams struct {
	Unit string `json:"unit,omitempty"`
	Pos  string `json:"pos"`
}

// UnscrewResult is the result of tool.unscrew.
type UnscrewResult struct {
	Count int `json:"count"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      *int64          `json:"id"`
}

// RPCError is a JSON-RPC error object returned by the controller.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("company_b: rpc error %d: %s", e.Code, e.Message)
}

// VendorCode returns the controller's E_* token when the message carries
// one, and the numeric JSON-RPC code otherwise.
func (e *RPCError) VendorCode() string {
	if token, _, ok := strings.Cut(e.Message, ":"); ok && strings.HasPrefix(token, "E_") {
		return token
	}
	if strings.HasPrefix(e.Message, "E_") && !strings.ContainsAny(e.Message, " \t") {
		return e.Message
	}
	return strconv.Itoa(e.Code)
}

// RPCClient calls a Company B controller endpoint. It is safe for
// concurrent use.
type RPCClient struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

// NewRPCClient creates a client for the JSON-RPC endpoint.
func NewRPCClient(endpoint string, timeout time.Duration) *RPCClient {
	return &RPCClient{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Call invokes method and decodes the result into result.
func (c *RPCClient) Call(ctx context.Context, method string, params, result any) error {
	id := c.nextID.Add(1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		if resp.StatusCode >= 500 {
			return &RPCError{Code: -32603, Message: fmt.Sprintf("HTTP %d", resp.StatusCode), Data: string(data)}
		}
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if rpcResp.ID == nil || *rpcResp.ID != id {
		return fmt.Errorf("%w: response id does not match request %d", ErrMalformedResponse, id)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Close releases idle connections.
func (c *RPCClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
