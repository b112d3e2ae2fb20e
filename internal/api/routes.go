package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/robot-control/rgw/internal/auth"
	"github.com/robot-control/rgw/internal/model"
)

// Handler builds the router with every route and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(correlationID)
	r.Use(s.accessLog)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.serverCfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", CorrelationHeader, "Last-Event-ID"},
		ExposedHeaders:   []string{CorrelationHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, string(model.KindInvalidRequest), "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, string(model.KindInvalidRequest), r.Method+" is not allowed on "+r.URL.Path)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireScope(auth.ScopeRead))
			r.Get("/vendors", s.handleVendors)
			r.Get("/telemetry", s.handleTelemetry)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireScope(auth.ScopeControl))
			r.Post("/recipe/execute", s.handleExecuteRecipe)
			r.Post("/image/capture", s.handleCaptureImage)
			r.Post("/unscrew", s.handleUnscrew)
		})
	})

	return r
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "ok",
		"uptimeS": int64(time.Since(s.startTime).Seconds()),
		"vendors": s.vendors.Vendors(),
	}
	if s.telemetryHub != nil {
		health["telemetryClients"] = s.telemetryHub.ClientCount()
	}
	writeSuccess(w, r, health)
}

// handleVendors handles GET /api/vendors
func (s *Server) handleVendors(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, s.vendors.Describe())
}

// handleTelemetry handles GET /api/telemetry
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetryHub == nil {
		writeError(w, r, http.StatusServiceUnavailable, string(model.KindInternalError), "telemetry is not available")
		return
	}

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	if err := s.telemetryHub.Subscribe(r.Context(), w, r); err != nil {
		s.logger.Debug("telemetry subscription ended", zap.Error(err))
	}
}

// handleExecuteRecipe handles POST /api/recipe/execute
func (s *Server) handleExecuteRecipe(w http.ResponseWriter, r *http.Request) {
	var req recipeRequest
	if f := decodeStrict(w, r, &req); f != nil {
		s.writeFailure(w, r, f)
		return
	}
	recipe, f := req.Recipe.toModel()
	if f != nil {
		s.writeFailure(w, r, f)
		return
	}
	s.dispatch(w, r, &model.CommandRequest{
		VendorID:  req.Company,
		RobotID:   req.RobotID,
		Operation: model.OpExecuteRecipe,
		Payload:   recipe,
	})
}

// handleCaptureImage handles POST /api/image/capture
func (s *Server) handleCaptureImage(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if f := decodeStrict(w, r, &req); f != nil {
		s.writeFailure(w, r, f)
		return
	}
	params, f := req.Params.toModel()
	if f != nil {
		s.writeFailure(w, r, f)
		return
	}
	s.dispatch(w, r, &model.CommandRequest{
		VendorID:  req.Company,
		RobotID:   req.RobotID,
		Operation: model.OpCaptureImage,
		Payload:   params,
	})
}

// handleUnscrew handles POST /api/unscrew
func (s *Server) handleUnscrew(w http.ResponseWriter, r *http.Request) {
	var req unscrewRequest
	if f := decodeStrict(w, r, &req); f != nil {
		s.writeFailure(w, r, f)
		return
	}
	params, f := req.Params.toModel()
	if f != nil {
		s.writeFailure(w, r, f)
		return
	}
	s.dispatch(w, r, &model.CommandRequest{
		VendorID:  req.Company,
		RobotID:   req.RobotID,
		Operation: model.OpUnscrew,
		Payload:   params,
	})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *model.CommandRequest) {
	res, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if res == nil {
		s.writeFailure(w, r, model.Failf(model.KindInternalError, "no result for %s", req.Operation))
		return
	}
	writeSuccess(w, r, res.Data)
}
