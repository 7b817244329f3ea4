// Package delegate executes matched routes: one upstream call, or a
// concurrent fan-out over several upstreams merged into a JSON envelope.
// Failed calls are answered by the route's fallback.
package delegate

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/delegate/internal/config"
	"github.com/wudi/delegate/internal/proxy"
	"github.com/wudi/delegate/internal/rewrite"
	"github.com/wudi/delegate/internal/tracing"
	"github.com/wudi/delegate/internal/upstream"
)

// Failure reasons.
const (
	ReasonTimeout     = "timeout"
	ReasonCircuitOpen = "circuit_open"
	ReasonTransport   = "transport"
)

// Recorder receives per-call metrics.
type Recorder interface {
	RecordUpstream(route, upstream string, statusCode int, duration time.Duration)
	RecordFallback(route, upstream, reason string)
	SetCircuitBreakerState(route, upstream string, state int)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstream(string, string, int, time.Duration) {}
func (nopRecorder) RecordFallback(string, string, string)              {}
func (nopRecorder) SetCircuitBreakerState(string, string, int)         {}

// Delegator forwards requests for one route. It is immutable after New and
// safe for concurrent use.
type Delegator struct {
	routeID   string
	upstreams []upstream.Descriptor
	transport http.RoundTripper
	pipeline  *rewrite.Pipeline
	fallback  Fallback
	timeout   time.Duration
	propagate bool
	recorder  Recorder
	logger    *zap.Logger
	tracer    trace.Tracer

	breakerCfg *config.CircuitBreakerConfig
	breakers   []*gobreaker.CircuitBreaker[Result]
}

// Option configures a Delegator.
type Option func(*Delegator)

// WithTransport sets the upstream round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(d *Delegator) { d.transport = rt }
}

// WithPipeline sets the rewrite pipeline.
func WithPipeline(p *rewrite.Pipeline) Option {
	return func(d *Delegator) { d.pipeline = p }
}

// WithFallback sets the failure fallback.
func WithFallback(f Fallback) Option {
	return func(d *Delegator) {
		if f != nil {
			d.fallback = f
		}
	}
}

// WithTimeout bounds each upstream call. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Delegator) { d.timeout = timeout }
}

// WithCircuitBreaker enables a breaker per upstream.
func WithCircuitBreaker(cfg config.CircuitBreakerConfig) Option {
	return func(d *Delegator) {
		if cfg.Enabled {
			d.breakerCfg = &cfg
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Delegator) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Delegator) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTracer sets the tracer for upstream client spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Delegator) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithTracePropagation injects the trace context into outbound headers.
func WithTracePropagation(enabled bool) Option {
	return func(d *Delegator) { d.propagate = enabled }
}

// New creates a Delegator for the given upstreams, in configured order.
func New(routeID string, upstreams []upstream.Descriptor, opts ...Option) (*Delegator, error) {
	if len(upstreams) == 0 {
		return nil, fmt.Errorf("route %s: no upstreams", routeID)
	}

	d := &Delegator{
		routeID:   routeID,
		upstreams: append([]upstream.Descriptor(nil), upstreams...),
		transport: http.DefaultTransport,
		fallback:  DefaultFallback(),
		recorder:  nopRecorder{},
		logger:    zap.NewNop(),
		tracer:    noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("route", routeID))

	if d.breakerCfg != nil {
		d.breakers = make([]*gobreaker.CircuitBreaker[Result], len(d.upstreams))
		for i, u := range d.upstreams {
			d.breakers[i] = d.newBreaker(u)
		}
	}
	return d, nil
}

// Upstreams returns the configured upstreams.
func (d *Delegator) Upstreams() []upstream.Descriptor {
	return d.upstreams
}

// Call forwards r. A single upstream is called directly with the inbound
// body streamed; several are called concurrently with the body buffered
// once, and merged in configured order.
func (d *Delegator) Call(r *http.Request) Response {
	if len(d.upstreams) == 1 {
		return d.call(r, 0, nil).Response()
	}

	body, err := readBody(r)
	results := make([]Result, len(d.upstreams))
	if err != nil {
		for i := range d.upstreams {
			results[i] = d.fail(r, i, ReasonTransport, fmt.Errorf("read request body: %w", err))
		}
		return Aggregate(results)
	}

	var g errgroup.Group
	for i := range d.upstreams {
		i := i
		g.Go(func() error {
			results[i] = d.call(r, i, body)
			return nil
		})
	}
	_ = g.Wait()

	return Aggregate(results)
}

// call performs one upstream call. body is nil for a streamed single call.
func (d *Delegator) call(r *http.Request, i int, body []byte) Result {
	u := d.upstreams[i]

	ctx := r.Context()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	ctx, span := tracing.StartUpstreamSpan(ctx, d.tracer, d.routeID, u.Name(), r.Method)

	ob := proxy.Outbound{
		Target:         u,
		Pipeline:       d.pipeline,
		PropagateTrace: d.propagate,
	}
	fanout := body != nil
	if fanout {
		ob.Body = io.NopCloser(bytes.NewReader(body))
		ob.ContentLength = int64(len(body))
		if len(body) == 0 {
			ob.Body = http.NoBody
		}
	}

	start := time.Now()
	exec := func() (Result, error) {
		out := proxy.NewRequest(ctx, r, ob)
		if fanout {
			// Let the transport negotiate and decode compression so each
			// body can be embedded in the envelope.
			out.Header.Del("Accept-Encoding")
		}
		resp, err := d.transport.RoundTrip(out)
		if err != nil {
			return Result{}, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return Result{}, fmt.Errorf("read response body: %w", err)
		}
		return Result{
			Status: resp.StatusCode,
			Header: NormalizeHeader(resp.Header),
			Body:   b,
			Label:  u.Label,
		}, nil
	}

	var (
		res Result
		err error
	)
	if d.breakers != nil {
		res, err = d.breakers[i].Execute(exec)
	} else {
		res, err = exec()
	}

	if err != nil {
		reason := classify(ctx, err)
		res = d.fail(r, i, reason, err)
		tracing.EndUpstreamSpan(span, res.Status, reason, err)
		return res
	}

	d.recorder.RecordUpstream(d.routeID, u.Name(), res.Status, time.Since(start))
	tracing.EndUpstreamSpan(span, res.Status, "", nil)
	return res
}

// fail answers a failed call with the fallback, normalised to a Result
// carrying the upstream's label.
func (d *Delegator) fail(r *http.Request, i int, reason string, err error) Result {
	u := d.upstreams[i]
	d.logger.Warn("upstream call failed",
		zap.String("upstream", u.String()),
		zap.String("reason", reason),
		zap.Error(err),
	)
	d.recorder.RecordFallback(d.routeID, u.Name(), reason)

	resp := d.fallback(r)
	return Result{
		Status:   resp.Status,
		Header:   lowerKeys(resp.Header),
		Body:     resp.Body,
		Label:    u.Label,
		Fallback: true,
	}
}

func classify(ctx context.Context, err error) string {
	switch {
	case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
		return ReasonCircuitOpen
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return ReasonTimeout
	}
	return ReasonTransport
}

func (d *Delegator) newBreaker(u upstream.Descriptor) *gobreaker.CircuitBreaker[Result] {
	cfg := *d.breakerCfg
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	name := u.Name()
	return gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        d.routeID + "/" + name,
		MaxRequests: maxRequests,
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(breaker string, from, to gobreaker.State) {
			d.logger.Info("circuit breaker state change",
				zap.String("breaker", breaker),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			d.recorder.SetCircuitBreakerState(d.routeID, name, int(to))
		},
	})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return []byte{}, nil
	}
	defer r.Body.Close()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}
