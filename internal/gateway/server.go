package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/delegate/internal/config"
	"github.com/wudi/delegate/internal/delegate"
	"github.com/wudi/delegate/internal/logging"
	"github.com/wudi/delegate/internal/metrics"
	"github.com/wudi/delegate/internal/middleware"
	"github.com/wudi/delegate/internal/proxy"
	"github.com/wudi/delegate/internal/tracing"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// ConfigPath is the YAML file reloaded on SIGHUP, POST /reload and,
	// with Watch, on file change.
	ConfigPath string
	Watch      bool

	Fallbacks map[string]delegate.Fallback
	Logger    *zap.Logger
	Metrics   *metrics.Collector
	Tracer    *tracing.Tracer
}

// ReloadResult describes one reload attempt.
type ReloadResult struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Routes    int       `json:"routes"`
	Error     string    `json:"error,omitempty"`
}

// Server runs the delegation gateway and its admin listener.
//
// Reloads rebuild the route table only. Listener, admin, transport and
// tracing settings take effect on restart.
type Server struct {
	gateway     *Gateway
	metrics     *metrics.Collector
	tracer      *tracing.Tracer
	transport   *http.Transport
	logger      *zap.Logger
	opts        ServerOptions
	httpServer  *http.Server
	adminServer *http.Server
	watcher     *config.Watcher
	startTime   time.Time

	mu            sync.Mutex
	config        *config.Config
	reloadHistory []ReloadResult
}

// NewServer builds the route table from cfg and prepares both listeners.
func NewServer(cfg *config.Config, opts ServerOptions) (*Server, error) {
	s := &Server{
		opts:      opts,
		config:    cfg,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		startTime: time.Now(),
	}
	if s.logger == nil {
		s.logger = logging.Global()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector()
	}

	transport, err := proxy.NewTransport(cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	s.transport = transport

	if s.tracer == nil {
		s.tracer, err = tracing.New(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
	}

	table, err := Build(cfg, s.buildOptions())
	if err != nil {
		return nil, err
	}
	s.gateway = New(table, Options{Metrics: s.metrics, Logger: s.logger})
	s.metrics.SetRoutes(len(table.Routes()))

	s.httpServer = &http.Server{
		Addr:              cfg.Listener.Address,
		Handler:           s.Handler(),
		ReadTimeout:       cfg.Listener.ReadTimeout,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
		WriteTimeout:      cfg.Listener.WriteTimeout,
		IdleTimeout:       cfg.Listener.IdleTimeout,
	}

	if cfg.Admin.Enabled {
		s.adminServer = &http.Server{
			Addr:         cfg.Admin.Address,
			Handler:      s.AdminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return s, nil
}

func (s *Server) buildOptions() Options {
	return Options{
		Fallbacks: s.opts.Fallbacks,
		Transport: s.transport,
		Metrics:   s.metrics,
		Tracer:    s.tracer,
		Logger:    s.logger,
	}
}

// Handler returns the inbound handler: recovery, request id, tracing and
// access logging in front of the gateway. Unmatched requests get a 404.
func (s *Server) Handler() http.Handler {
	return middleware.NewBuilder().
		Use(middleware.Recovery(s.logger)).
		Use(middleware.RequestID()).
		Use(s.tracer.Middleware()).
		Use(middleware.AccessLog(middleware.AccessLogConfig{Logger: s.logger})).
		Use(tracing.SpanMiddleware(s.tracer, "delegate.dispatch", s.gateway.Middleware)).
		Handler(http.HandlerFunc(notFound))
}

// Gateway returns the adapter.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// Config returns the active configuration.
func (s *Server) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Start starts the listeners and, if requested, the config watcher.
func (s *Server) Start() error {
	errCh := make(chan error, 2)

	go func() {
		logging.Info("Starting delegate listener", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listener error: %w", err)
		}
	}()

	if s.adminServer != nil {
		go func() {
			logging.Info("Starting admin server", zap.String("address", s.adminServer.Addr))
			if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("admin server error: %w", err)
			}
		}()
	}

	if s.opts.Watch && s.opts.ConfigPath != "" {
		w, err := config.NewWatcher(s.opts.ConfigPath)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		w.OnChange(func(cfg *config.Config) {
			s.Reload(cfg)
		})
		if err := w.Start(); err != nil {
			w.Stop()
			return fmt.Errorf("config watcher: %w", err)
		}
		s.watcher = w
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}

// Run starts the server and blocks until SIGINT or SIGTERM. SIGHUP reloads
// the configuration file.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(quit)

	for sig := range quit {
		if sig == syscall.SIGHUP {
			s.ReloadConfig()
			continue
		}
		logging.Info("Shutting down gracefully...")
		return s.Shutdown(30 * time.Second)
	}
	return nil
}

// Shutdown stops the watcher and drains both listeners.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.watcher != nil {
		s.watcher.Stop()
	}

	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(ctx); err != nil {
			logging.Error("Admin server shutdown error", zap.Error(err))
		}
	}

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		logging.Error("Listener shutdown error", zap.Error(err))
	}

	s.transport.CloseIdleConnections()

	if terr := s.tracer.Close(); terr != nil {
		logging.Error("Tracer shutdown error", zap.Error(terr))
	}

	logging.Info("Server shutdown complete")
	return err
}

// ReloadConfig reloads the configuration file.
func (s *Server) ReloadConfig() ReloadResult {
	if s.opts.ConfigPath == "" {
		return s.recordReload(ReloadResult{
			Timestamp: time.Now(),
			Error:     "no config path configured",
		})
	}

	cfg, err := config.NewLoader().Load(s.opts.ConfigPath)
	if err != nil {
		return s.recordReload(ReloadResult{
			Timestamp: time.Now(),
			Error:     fmt.Sprintf("config load failed: %v", err),
		})
	}
	return s.Reload(cfg)
}

// Reload builds a table from cfg and swaps it in. On error the active
// table is kept.
func (s *Server) Reload(cfg *config.Config) ReloadResult {
	table, err := Build(cfg, s.buildOptions())
	if err != nil {
		return s.recordReload(ReloadResult{
			Timestamp: time.Now(),
			Error:     err.Error(),
		})
	}

	s.gateway.Swap(table)
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()

	n := len(table.Routes())
	s.metrics.SetRoutes(n)
	return s.recordReload(ReloadResult{
		Success:   true,
		Timestamp: time.Now(),
		Routes:    n,
	})
}

func (s *Server) recordReload(result ReloadResult) ReloadResult {
	s.metrics.RecordReload(result.Success)
	if result.Success {
		logging.Info("Config reloaded successfully", zap.Int("routes", result.Routes))
	} else {
		logging.Error("Config reload failed", zap.String("error", result.Error))
	}

	s.mu.Lock()
	s.reloadHistory = append(s.reloadHistory, result)
	if len(s.reloadHistory) > 50 {
		s.reloadHistory = s.reloadHistory[len(s.reloadHistory)-50:]
	}
	s.mu.Unlock()
	return result
}

// ReloadHistory returns the most recent reload attempts, oldest first.
func (s *Server) ReloadHistory() []ReloadResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ReloadResult(nil), s.reloadHistory...)
}
