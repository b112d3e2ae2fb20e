package vendorsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// NewAdminHandler exposes simulator controls:
//
//	GET    /state           robot snapshot
//	POST   /mode            {"mode": "normal|busy|offline"}
//	POST   /faults          {"operation": "program|capture|unscrew", "fault": "busy|offline|workspace|tool|unsupported|hang"}
//	DELETE /faults          clear injected faults
func NewAdminHandler(robot *Robot) http.Handler {
	r := chi.NewRouter()
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, robot.Snapshot())
	})
	r.Post("/mode", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := robot.SetMode(req.Mode); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, robot.Snapshot())
	})
	r.Post("/faults", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Operation string    `json:"operation"`
			Fault     FaultCode `json:"fault"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		switch req.Operation {
		case OpProgram, OpCapture, OpUnscrew:
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown operation " + req.Operation})
			return
		}
		robot.InjectFault(req.Operation, req.Fault)
		writeJSON(w, http.StatusOK, robot.Snapshot())
	})
	r.Delete("/faults", func(w http.ResponseWriter, _ *http.Request) {
		robot.ClearFaults()
		writeJSON(w, http.StatusOK, robot.Snapshot())
	})
	return r
}

// Simulator runs both vendor APIs over one robot.
type Simulator struct {
	cfg      *Config
	robot    *Robot
	logger   *zap.Logger
	companyA *http.Server
	companyB *http.Server
}

// New creates a simulator from cfg.
func New(cfg *Config, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	robot := NewRobot(cfg)
	return &Simulator{
		cfg:    cfg,
		robot:  robot,
		logger: logger,
		companyA: &http.Server{
			Addr:         cfg.Network.CompanyA.Addr,
			Handler:      NewCompanyAHandler(robot, cfg.Network.CompanyA.APIKey),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
		companyB: &http.Server{
			Addr:         cfg.Network.CompanyB.Addr,
			Handler:      NewCompanyBHandler(robot),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
	}
}

// Robot returns the simulated robot.
func (s *Simulator) Robot() *Robot {
	return s.robot
}

// Start serves both APIs until Stop is called or a listener fails.
func (s *Simulator) Start() error {
	errCh := make(chan error, 2)
	for name, srv := range map[string]*http.Server{"company_a": s.companyA, "company_b": s.companyB} {
		go func(name string, srv *http.Server) {
			s.logger.Info("vendor simulator listening", zap.String("vendor", name), zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s listener failed: %w", name, err)
				return
			}
			errCh <- nil
		}(name, srv)
	}
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts both listeners down.
func (s *Simulator) Stop(ctx context.Context) error {
	errA := s.companyA.Shutdown(ctx)
	errB := s.companyB.Shutdown(ctx)
	return errors.Join(errA, errB)
}
