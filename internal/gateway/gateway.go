// Package gateway adapts the delegation core to net/http: it dispatches
// inbound requests against the active route table, injects the gateway
// trace header and writes the resulting response triple.
package gateway

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/delegate/internal/delegate"
	"github.com/wudi/delegate/internal/errors"
	"github.com/wudi/delegate/internal/metrics"
	"github.com/wudi/delegate/internal/proxy"
	"github.com/wudi/delegate/internal/router"
	"github.com/wudi/delegate/internal/variables"
)

// DefaultGatewayHeader names the trace header when none is configured.
const DefaultGatewayHeader = "X-Gateway"

// Table is an immutable route table together with the name of the gateway
// trace header.
type Table struct {
	dispatcher *router.Dispatcher
	headerName string
}

// NewTable creates a table. An empty header name selects X-Gateway.
func NewTable(d *router.Dispatcher, headerName string) *Table {
	if headerName == "" {
		headerName = DefaultGatewayHeader
	}
	return &Table{dispatcher: d, headerName: headerName}
}

// Dispatch returns the first route matching r.
func (t *Table) Dispatch(r *http.Request) (*router.Match, bool) {
	if t == nil {
		return nil, false
	}
	return t.dispatcher.Dispatch(r)
}

// Routes returns the routes in dispatch order.
func (t *Table) Routes() []*router.Route {
	if t == nil {
		return nil
	}
	return t.dispatcher.Routes()
}

// HeaderName returns the gateway trace header name.
func (t *Table) HeaderName() string {
	return t.headerName
}

// Gateway is the HTTP adapter over a swappable route table.
type Gateway struct {
	table    atomic.Pointer[Table]
	notFound http.Handler
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// New creates a gateway serving table.
func New(table *Table, opts Options) *Gateway {
	g := &Gateway{
		notFound: opts.NotFound,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if g.notFound == nil {
		g.notFound = http.HandlerFunc(notFound)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	g.table.Store(table)
	return g
}

// Swap atomically replaces the route table. In-flight requests finish on
// the table they were dispatched with.
func (g *Gateway) Swap(table *Table) {
	g.table.Store(table)
}

// Table returns the active route table.
func (g *Gateway) Table() *Table {
	return g.table.Load()
}

// Routes returns the active routes in dispatch order.
func (g *Gateway) Routes() []*router.Route {
	return g.table.Load().Routes()
}

// ServeHTTP dispatches r. Unmatched requests get a 404 error body.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.serve(w, r, g.notFound)
}

// Middleware returns a handler that serves matched requests and hands
// everything else to next.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(w, r, next)
	})
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	table := g.table.Load()
	m, ok := table.Dispatch(r)
	if !ok {
		next.ServeHTTP(w, r)
		return
	}

	start := time.Now()
	rt := m.Route

	r, varCtx := variables.WithRequest(r)
	value := GatewayHeaderValue(r, m.Matched)
	r.Header.Set(table.headerName, value)
	varCtx.RouteID = rt.ID
	varCtx.Gateway = value
	varCtx.SetCustom("gateway", value)
	varCtx.Upstreams = make([]string, len(rt.Upstreams))
	for i, u := range rt.Upstreams {
		varCtx.Upstreams[i] = u.String()
	}

	resp := rt.Delegator.Call(r)
	status := WriteResponse(w, resp)

	if g.metrics != nil {
		g.metrics.RecordRequest(rt.ID, r.Method, status, time.Since(start))
	}
}

// WriteResponse writes a response triple to w and returns the status sent.
// Hop-by-hop headers and Content-Length are not copied; the length is
// recomputed from the body.
func WriteResponse(w http.ResponseWriter, resp delegate.Response) int {
	h := w.Header()
	for name, value := range resp.Header {
		if proxy.IsHopHeader(name) || strings.EqualFold(name, "Content-Length") {
			continue
		}
		h.Set(name, value)
	}

	status := resp.Status
	if status < 100 || status > 999 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
	return status
}

func notFound(w http.ResponseWriter, r *http.Request) {
	errors.ErrNotFound.WithRequestID(variables.GetFromRequest(r).RequestID).WriteJSON(w)
}
