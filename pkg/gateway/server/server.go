// Package server assembles the gateway's HTTP surface and owns its
// lifecycle.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/voxflow-ai/voxflow/pkg/bridge"
	"github.com/voxflow-ai/voxflow/pkg/callctx"
	"github.com/voxflow-ai/voxflow/pkg/directory"
	"github.com/voxflow-ai/voxflow/pkg/gateway/config"
	"github.com/voxflow-ai/voxflow/pkg/gateway/handlers"
	"github.com/voxflow-ai/voxflow/pkg/gateway/mw"
	"github.com/voxflow-ai/voxflow/pkg/gateway/ratelimit"
	"github.com/voxflow-ai/voxflow/pkg/orchestrator"
	"github.com/voxflow-ai/voxflow/pkg/telephony"
)

// Deps are the assembled domain components the HTTP surface fronts.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Directory    directory.Provider
	Teams        directory.TeamProvider
	Telephony    *telephony.Client

	// FinishCall receives each call's final context snapshot.
	FinishCall func(ctx context.Context, final *callctx.Context)
}

type Server struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux

	tracker  *bridge.Tracker
	limiter  *ratelimit.Limiter
	draining atomic.Bool
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		mux:     http.NewServeMux(),
		tracker: bridge.NewTracker(),
	}
	s.limiter = ratelimit.New(ratelimit.Config{
		CallsPerSecond:     cfg.MaxCallsPerSecond,
		Burst:              cfg.CallBurst,
		MaxConcurrentCalls: cfg.MaxConcurrentCalls,
	}, s.tracker.Count)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", http.HandlerFunc(s.ready))

	s.mux.Handle("POST /outbound/makecall", handlers.MakeCallHandler{
		Config:  s.cfg,
		Calls:   s.deps.Telephony,
		Limiter: s.limiter,
		Log:     s.logger,
	})
	s.mux.Handle("/outbound/twiml", handlers.TwiMLHandler{Config: s.cfg})
	s.mux.Handle("POST /outbound/transfer", handlers.TransferHandler{
		Config: s.cfg,
		Calls:  s.deps.Telephony,
		Log:    s.logger,
	})
	s.mux.Handle("GET /outbound/transfer_twiml", handlers.TransferTwiMLHandler{Config: s.cfg})
	s.mux.Handle("POST /outbound/amd_callback", handlers.AMDCallbackHandler{Log: s.logger})
	s.mux.Handle("POST /outbound/call_status", handlers.CallStatusHandler{Log: s.logger})

	s.mux.Handle("GET /outbound/stream/{caller}/{callee}", handlers.StreamHandler{
		Config:       s.cfg,
		Orchestrator: s.deps.Orchestrator,
		Directory:    s.deps.Directory,
		Teams:        s.deps.Teams,
		Telephony:    s.deps.Telephony,
		Tracker:      s.tracker,
		FinishCall:   s.deps.FinishCall,
		Log:          s.logger,
	})
}

// ready mirrors ReadyHandler but reports not-ready while draining, so
// load balancers stop routing new calls during shutdown.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	handlers.ReadyHandler{Config: s.cfg}.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Tracker exposes the live-call registry, mainly for tests and the CLI.
func (s *Server) Tracker() *bridge.Tracker { return s.tracker }

// Run serves until ctx is canceled, then drains: readiness flips,
// in-flight calls get a wrap-up request, and shutdown waits out the
// grace period before forcing the rest down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.draining.Store(true)
	if n := s.tracker.HangupAll("service shutting down"); n > 0 {
		s.logger.Info("asked live calls to wrap up", "count", n)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()
	if !s.tracker.Wait(drainCtx) {
		s.logger.Warn("grace period expired, canceling remaining calls",
			"remaining", s.tracker.Count())
		s.tracker.CancelAll()
	}

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShut()
	return srv.Shutdown(shutCtx)
}
