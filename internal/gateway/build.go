package gateway

import (
	"fmt"
	"net/http"
	"regexp"

	"go.uber.org/zap"

	"github.com/wudi/delegate/internal/config"
	"github.com/wudi/delegate/internal/delegate"
	"github.com/wudi/delegate/internal/metrics"
	"github.com/wudi/delegate/internal/rewrite"
	"github.com/wudi/delegate/internal/router"
	"github.com/wudi/delegate/internal/tracing"
	"github.com/wudi/delegate/internal/upstream"
)

// Options carries the collaborators shared by every route.
type Options struct {
	// Fallbacks are fallback functions referenced by name from
	// configuration.
	Fallbacks map[string]delegate.Fallback

	Transport http.RoundTripper
	Metrics   *metrics.Collector
	Tracer    *tracing.Tracer
	Logger    *zap.Logger

	// NotFound answers unmatched requests in ServeHTTP. Defaults to a 404
	// JSON error.
	NotFound http.Handler
}

// Build compiles cfg into a route table. Any error is a configuration error.
func Build(cfg *config.Config, opts Options) (*Table, error) {
	globalPreds, err := router.CompilePredicates(cfg.Constraints)
	if err != nil {
		return nil, fmt.Errorf("constraints: %w", err)
	}

	entries := make([]router.Entry, 0, len(cfg.Routes))
	for i, rc := range cfg.Routes {
		if rc.ID == "" {
			rc.ID = fmt.Sprintf("route-%d", i)
		}
		e, err := buildRoute(cfg, rc, globalPreds, opts)
		if err != nil {
			return nil, fmt.Errorf("routes[%d] %s: %w", i, rc.ID, err)
		}
		entries = append(entries, e)
	}

	return NewTable(router.NewDispatcher(entries...), cfg.GatewayHeader), nil
}

func buildRoute(cfg *config.Config, rc config.RouteConfig, globalPreds []router.Predicate, opts Options) (router.Entry, error) {
	pattern, err := regexp.Compile(rc.From)
	if err != nil {
		return nil, fmt.Errorf("invalid from pattern: %w", err)
	}

	ups, err := upstream.Resolve(rc.To.Spec)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}

	pipeline, err := rewrite.New(cfg.Rewrite, rc.Rewrite, cfg.Change, rc.Change)
	if err != nil {
		return nil, fmt.Errorf("rewrite: %w", err)
	}

	fb, err := resolveFallback(cfg.Fallback, rc.Fallback, opts.Fallbacks)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if rc.Timeout > 0 {
		timeout = rc.Timeout
	}

	dopts := []delegate.Option{
		delegate.WithPipeline(pipeline),
		delegate.WithFallback(fb),
		delegate.WithTimeout(timeout),
		delegate.WithCircuitBreaker(rc.CircuitBreaker),
		delegate.WithTracePropagation(rc.PropagateTrace),
		delegate.WithLogger(opts.Logger),
	}
	if opts.Transport != nil {
		dopts = append(dopts, delegate.WithTransport(opts.Transport))
	}
	if opts.Metrics != nil {
		dopts = append(dopts, delegate.WithRecorder(opts.Metrics))
	}
	if opts.Tracer.IsEnabled() {
		dopts = append(dopts, delegate.WithTracer(opts.Tracer.Tracer()))
	}

	d, err := delegate.New(rc.ID, ups, dopts...)
	if err != nil {
		return nil, err
	}

	preds, err := router.CompilePredicates(rc.Constraints)
	if err != nil {
		return nil, fmt.Errorf("constraints: %w", err)
	}
	preds = append(preds, globalPreds...)

	return router.NewGuard(router.NewRoute(rc.ID, pattern, d, ups), preds...), nil
}

// resolveFallback picks the route fallback, else the global one, else the
// default 502.
func resolveFallback(global, route *config.FallbackConfig, named map[string]delegate.Fallback) (delegate.Fallback, error) {
	cfg := route
	if cfg == nil {
		cfg = global
	}
	if cfg == nil {
		return delegate.DefaultFallback(), nil
	}
	if cfg.Name != "" {
		fb, ok := named[cfg.Name]
		if !ok || fb == nil {
			return nil, fmt.Errorf("fallback %q is not registered", cfg.Name)
		}
		return fb, nil
	}
	return delegate.FallbackFromConfig(cfg), nil
}
