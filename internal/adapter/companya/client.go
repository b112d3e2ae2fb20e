package companya

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMalformedResponse marks a 2xx reply whose body could not be decoded.
var ErrMalformedResponse = errors.New("malformed response")

const maxBodyBytes = 1 << 20

// Client is the Company A controller API.
type Client interface {
	RunRecipe(ctx context.Context, req RunRecipeRequest) (*RunRecipeResponse, error)
	Capture(ctx context.Context, req CaptureRequest) (*CaptureResponse, error)
	Unscrew(ctx context.Context, req UnscrewRequest) (*UnscrewResponse, error)
}

// Step is one entry of a native recipe.
type Step struct {
	ActionType string         `json:"actionType"`
	Parameters map[string]any `json:"parameters"`
}

// RunRecipeRequest is the body of POST /v1/recipes/run.
type RunRecipeRequest struct {
	RecipeName string `json:"recipeName"`
	RobotID    string `json:"robotId,omitempty"`
	Steps      []Step `json:"steps"`
}

// StepResult reports one executed step.
type StepResult struct {
	Step       int    `json:"step"`
	ActionType string `json:"actionType"`
	Status     string `json:"status"`
	ImageURI   string `json:"imageUri,omitempty"`
}

// RunRecipeResponse is the reply of POST /v1/recipes/run.
type RunRecipeResponse struct {
	RunID   string       `json:"runId"`
	State   string       `json:"state"`
	Results []StepResult `json:"results"`
}

// CaptureRequest is the body of POST /v1/camera/capture.
type CaptureRequest struct {
	RobotID    string  `json:"robotId,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	FullImage  bool    `json:"fullImage"`
	Pointcloud bool    `json:"pointcloud"`
}

// CaptureResponse is the reply of POST /v1/camera/capture.
type CaptureResponse struct {
	ImageID    string `json:"imageId"`
	URI        string `json:"uri"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Pointcloud bool   `json:"pointcloud"`
}

// UnscrewRequest is the body of POST /v1/tools/unscrew.
type UnscrewRequest struct {
	RobotID string   `json:"robotId,omitempty"`
	Mode    string   `json:"mode"`
	X       *float64 `json:"x,omitempty"`
	Y       *float64 `json:"y,omitempty"`
}

// UnscrewResponse is the reply of POST /v1/tools/unscrew.
type UnscrewResponse struct {
	Removed int `json:"removed"`
}

// APIError is a non-2xx reply from the controller.
type APIError struct {
	Status  int
	Code    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("company_a: HTTP %d", e.Status)
	}
	return fmt.Sprintf("company_a: %s: %s", e.Code, e.Message)
}

// VendorCode returns the controller's error code.
func (e *APIError) VendorCode() string {
	return e.Code
}

// HTTPClient talks to a Company A controller over REST/JSON.
// It is safe for concurrent use.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient creates a client for the controller at baseURL.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
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

// RunRecipe submits a recipe and waits for the run to finish.
func (c *HTTPClient) RunRecipe(ctx context.Context, req RunRecipeRequest) (*RunRecipeResponse, error) {
	var out RunRecipeResponse
	if err := c.post(ctx, "/v1/recipes/run", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Capture takes a single image.
func (c *HTTPClient) Capture(ctx context.Context, req CaptureRequest) (*CaptureResponse, error) {
	var out CaptureResponse
	if err := c.post(ctx, "/v1/camera/capture", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Unscrew runs the screwdriver tool.
func (c *HTTPClient) Unscrew(ctx context.Context, req UnscrewRequest) (*UnscrewResponse, error) {
	var out UnscrewResponse
	if err := c.post(ctx, "/v1/tools/unscrew", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{Status: status, Body: string(data)}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
