// Package vendorsim simulates the Company A and Company B robot controllers.
// Both vendor APIs drive one in-memory Robot; each API translates the
// robot's faults into its own error dialect.
package vendorsim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FaultCode is a vendor-neutral simulator fault. Vendor servers translate
// it into their own tokens.
type FaultCode string

const (
	FaultBusy        FaultCode = "busy"
	FaultOffline     FaultCode = "offline"
	FaultWorkspace   FaultCode = "workspace"
	FaultTool        FaultCode = "tool"
	FaultUnsupported FaultCode = "unsupported"
	// FaultHang blocks the request until the caller gives up.
	FaultHang FaultCode = "hang"
)

// Operations that can carry an injected fault.
const (
	OpProgram = "program"
	OpCapture = "capture"
	OpUnscrew = "unscrew"
)

// Fault is returned by Robot operations.
type Fault struct {
	Code    FaultCode
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// ActionKind tags an Action.
type ActionKind string

const (
	ActionImage   ActionKind = "image"
	ActionUnscrew ActionKind = "unscrew"
	ActionWait    ActionKind = "wait"
)

// Action is one motion of a program.
type Action struct {
	Kind       ActionKind
	X, Y       float64
	Full       bool
	Auto       bool
	Pointcloud bool
	Wait       time.Duration
}

// ActionResult reports one executed action.
type ActionResult struct {
	OK      bool
	Href    string
	Removed int
}

// Frame is a captured image.
type Frame struct {
	ID         string
	Href       string
	Width      int
	Height     int
	Pointcloud bool
}

// Snapshot is the observable robot state.
type Snapshot struct {
	Mode          string            `json:"mode"`
	Faults        map[string]string `json:"faults"`
	Programs      int               `json:"programs"`
	Frames        int               `json:"frames"`
	ScrewsRemoved int               `json:"screwsRemoved"`
	BusyUnits     []string          `json:"busyUnits"`
	LastProgram   []Action          `json:"-"`
}

// Robot is the thread-safe simulated cell.
type Robot struct {
	mu          sync.Mutex
	cfg         RobotConfig
	latency     time.Duration
	mode        string
	faults      map[string]FaultCode
	busy        map[string]bool
	programs    int
	frames      int
	removed     int
	lastProgram []Action
}

// NewRobot creates a robot from the simulator configuration.
func NewRobot(cfg *Config) *Robot {
	return &Robot{
		cfg:     cfg.Robot,
		latency: time.Duration(cfg.Timing.StepLatencyMs) * time.Millisecond,
		mode:    cfg.Mode,
		faults:  make(map[string]FaultCode),
		busy:    make(map[string]bool),
	}
}

// SetMode switches between normal, busy and offline.
func (r *Robot) SetMode(mode string) error {
	switch mode {
	case ModeNormal, ModeBusy, ModeOffline:
	default:
		return fmt.Errorf("invalid mode %q", mode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	return nil
}

// InjectFault makes the next calls of op fail with code until cleared.
func (r *Robot) InjectFault(op string, code FaultCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[op] = code
}

// ClearFaults removes all injected faults.
func (r *Robot) ClearFaults() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = make(map[string]FaultCode)
}

// Snapshot returns a copy of the robot state.
func (r *Robot) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Mode:          r.mode,
		Faults:        make(map[string]string, len(r.faults)),
		Programs:      r.programs,
		Frames:        r.frames,
		ScrewsRemoved: r.removed,
		LastProgram:   append([]Action(nil), r.lastProgram...),
	}
	for op, code := range r.faults {
		s.Faults[op] = string(code)
	}
	for unit := range r.busy {
		s.BusyUnits = append(s.BusyUnits, unit)
	}
	return s
}

// RunProgram executes actions in order on unit.
func (r *Robot) RunProgram(ctx context.Context, unit string, actions []Action) ([]ActionResult, error) {
	release, err := r.acquire(ctx, unit, OpProgram)
	if err != nil {
		return nil, err
	}
	defer release()

	for _, a := range actions {
		if err := r.checkAction(a); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.programs++
	r.lastProgram = append([]Action(nil), actions...)
	r.mu.Unlock()

	results := make([]ActionResult, 0, len(actions))
	for _, a := range actions {
		if err := r.move(ctx, a.Wait); err != nil {
			return nil, err
		}
		res := ActionResult{OK: true}
		switch a.Kind {
		case ActionImage:
			res.Href = r.newFrame(a.Pointcloud).Href
		case ActionUnscrew:
			res.Removed = r.unscrew(a.Auto)
		}
		results = append(results, res)
	}
	return results, nil
}

// Capture takes one image.
func (r *Robot) Capture(ctx context.Context, unit string, a Action) (Frame, error) {
	release, err := r.acquire(ctx, unit, OpCapture)
	if err != nil {
		return Frame{}, err
	}
	defer release()

	a.Kind = ActionImage
	if err := r.checkAction(a); err != nil {
		return Frame{}, err
	}
	if err := r.move(ctx, 0); err != nil {
		return Frame{}, err
	}
	return r.newFrame(a.Pointcloud), nil
}

// Unscrew runs the screwdriver and returns the number of removed screws.
func (r *Robot) Unscrew(ctx context.Context, unit string, a Action) (int, error) {
	release, err := r.acquire(ctx, unit, OpUnscrew)
	if err != nil {
		return 0, err
	}
	defer release()

	a.Kind = ActionUnscrew
	if err := r.checkAction(a); err != nil {
		return 0, err
	}
	if err := r.move(ctx, 0); err != nil {
		return 0, err
	}
	return r.unscrew(a.Auto), nil
}

// acquire checks mode and faults and marks unit busy.
func (r *Robot) acquire(ctx context.Context, unit, op string) (func(), error) {
	r.mu.Lock()
	mode, fault := r.mode, r.faults[op]
	if mode == ModeOffline {
		r.mu.Unlock()
		return nil, &Fault{Code: FaultOffline, Message: "controller is offline"}
	}
	if mode == ModeBusy || r.busy[unit] {
		r.mu.Unlock()
		return nil, &Fault{Code: FaultBusy, Message: fmt.Sprintf("unit %q is executing another command", unit)}
	}
	if fault != "" && fault != FaultHang {
		r.mu.Unlock()
		return nil, &Fault{Code: fault, Message: fmt.Sprintf("injected %s fault on %s", fault, op)}
	}
	r.busy[unit] = true
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.busy, unit)
		r.mu.Unlock()
	}

	if fault == FaultHang {
		<-ctx.Done()
		release()
		return nil, ctx.Err()
	}
	return release, nil
}

func (r *Robot) checkAction(a Action) error {
	if a.Kind == ActionWait {
		return nil
	}
	if a.Kind == ActionImage && a.Full {
		return nil
	}
	if a.Kind == ActionUnscrew && a.Auto {
		return nil
	}
	if a.X < 0 || a.Y < 0 || a.X > r.cfg.Workspace.MaxX || a.Y > r.cfg.Workspace.MaxY {
		return &Fault{Code: FaultWorkspace, Message: fmt.Sprintf("(%.3f, %.3f) is outside the workspace", a.X, a.Y)}
	}
	return nil
}

// move simulates motion time; extra is added to the configured latency.
func (r *Robot) move(ctx context.Context, extra time.Duration) error {
	d := r.latency + extra
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Robot) newFrame(pointcloud bool) Frame {
	id := uuid.NewString()
	r.mu.Lock()
	r.frames++
	r.mu.Unlock()
	return Frame{
		ID:         id,
		Href:       "/frames/" + id + ".png",
		Width:      r.cfg.Camera.Width,
		Height:     r.cfg.Camera.Height,
		Pointcloud: pointcloud,
	}
}

func (r *Robot) unscrew(auto bool) int {
	n := 1
	if auto {
		n = r.cfg.ScrewsPerAutoRun
	}
	r.mu.Lock()
	r.removed += n
	r.mu.Unlock()
	return n
}
