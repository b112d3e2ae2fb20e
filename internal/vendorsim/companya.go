package vendorsim

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Company A error codes.
var companyACodes = map[FaultCode]struct {
	code   string
	status int
}{
	FaultBusy:        {"ROBOT_BUSY", http.StatusConflict},
	FaultOffline:     {"ROBOT_OFFLINE", http.StatusServiceUnavailable},
	FaultWorkspace:   {"OUT_OF_WORKSPACE", http.StatusUnprocessableEntity},
	FaultTool:        {"TOOL_FAULT", http.StatusInternalServerError},
	FaultUnsupported: {"UNKNOWN_ACTION", http.StatusBadRequest},
}

type companyAStep struct {
	ActionType string         `json:"actionType"`
	Parameters map[string]any `json:"parameters"`
}

type companyARun struct {
	RecipeName string         `json:"recipeName"`
	RobotID    string         `json:"robotId"`
	Steps      []companyAStep `json:"steps"`
}

type companyACapture struct {
	RobotID    string  `json:"robotId"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	FullImage  bool    `json:"fullImage"`
	Pointcloud bool    `json:"pointcloud"`
}

type companyAUnscrew struct {
	RobotID string   `json:"robotId"`
	Mode    string   `json:"mode"`
	X       *float64 `json:"x"`
	Y       *float64 `json:"y"`
}

// NewCompanyAHandler serves the Company A REST API for robot.
// When apiKey is set every request must carry it in X-Api-Key.
func NewCompanyAHandler(robot *Robot, apiKey string) http.Handler {
	h := &companyAHandler{robot: robot}
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		if apiKey != "" {
			r.Use(requireAPIKey(apiKey))
		}
		r.Post("/recipes/run", h.runRecipe)
		r.Post("/camera/capture", h.capture)
		r.Post("/tools/unscrew", h.unscrew)
	})
	r.Mount("/sim", NewAdminHandler(robot))
	return r
}

type companyAHandler struct {
	robot *Robot
}

func (h *companyAHandler) runRecipe(w http.ResponseWriter, r *http.Request) {
	var req companyARun
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCompanyAError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.RecipeName == "" || len(req.Steps) == 0 {
		writeCompanyAError(w, http.StatusBadRequest, "BAD_REQUEST", "recipeName and steps are required")
		return
	}

	actions := make([]Action, 0, len(req.Steps))
	for _, s := range req.Steps {
		a, ok := companyAAction(s)
		if !ok {
			writeCompanyAError(w, http.StatusBadRequest, "UNKNOWN_ACTION", "unknown actionType "+s.ActionType)
			return
		}
		actions = append(actions, a)
	}

	results, err := h.robot.RunProgram(r.Context(), req.RobotID, actions)
	if err != nil {
		writeCompanyAFault(w, err)
		return
	}

	type stepResult struct {
		Step       int    `json:"step"`
		ActionType string `json:"actionType"`
		Status     string `json:"status"`
		ImageURI   string `json:"imageUri,omitempty"`
	}
	out := struct {
		RunID   string       `json:"runId"`
		State   string       `json:"state"`
		Results []stepResult `json:"results"`
	}{RunID: uuid.NewString(), State: "completed"}
	for i, res := range results {
		out.Results = append(out.Results, stepResult{
			Step:       i,
			ActionType: req.Steps[i].ActionType,
			Status:     "done",
			ImageURI:   res.Href,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *companyAHandler) capture(w http.ResponseWriter, r *http.Request) {
	var req companyACapture
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCompanyAError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	frame, err := h.robot.Capture(r.Context(), req.RobotID, Action{X: req.X, Y: req.Y, Full: req.FullImage, Pointcloud: req.Pointcloud})
	if err != nil {
		writeCompanyAFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"imageId":    frame.ID,
		"uri":        frame.Href,
		"width":      frame.Width,
		"height":     frame.Height,
		"pointcloud": frame.Pointcloud,
	})
}

func (h *companyAHandler) unscrew(w http.ResponseWriter, r *http.Request) {
	var req companyAUnscrew
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCompanyAError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	a := Action{Auto: req.Mode == "auto"}
	if !a.Auto {
		if req.X == nil || req.Y == nil {
			writeCompanyAError(w, http.StatusBadRequest, "INVALID_COORDINATE", "manual mode requires x and y")
			return
		}
		a.X, a.Y = *req.X, *req.Y
	}
	removed, err := h.robot.Unscrew(r.Context(), req.RobotID, a)
	if err != nil {
		writeCompanyAFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func companyAAction(s companyAStep) (Action, bool) {
	num := func(key string) float64 {
		f, _ := s.Parameters[key].(float64)
		return f
	}
	flag := func(key string) bool {
		b, _ := s.Parameters[key].(bool)
		return b
	}
	switch s.ActionType {
	case "takeImage":
		return Action{Kind: ActionImage, X: num("x"), Y: num("y"), Full: flag("fullImage"), Pointcloud: flag("pointcloud")}, true
	case "unscrew":
		mode, _ := s.Parameters["mode"].(string)
		return Action{Kind: ActionUnscrew, X: num("x"), Y: num("y"), Auto: mode == "auto"}, true
	case "wait":
		return Action{Kind: ActionWait, Wait: time.Duration(num("ms")) * time.Millisecond}, true
	}
	return Action{}, false
}

func writeCompanyAFault(w http.ResponseWriter, err error) {
	var fault *Fault
	if errors.As(err, &fault) {
		if c, ok := companyACodes[fault.Code]; ok {
			writeCompanyAError(w, c.status, c.code, fault.Message)
			return
		}
	}
	writeCompanyAError(w, http.StatusInternalServerError, "CONTROLLER_ERROR", err.Error())
}

func writeCompanyAError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Api-Key") != key {
				writeCompanyAError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
