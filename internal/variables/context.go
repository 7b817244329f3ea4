// Package variables carries per-request metadata through the delegation
// pipeline: request id, dispatched route, the computed gateway header and an
// open-ended custom map for host integrations.
package variables

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Context holds request-scoped metadata.
type Context struct {
	RequestID string
	RouteID   string
	// Gateway is the trace value injected before delegation.
	Gateway   string
	StartTime time.Time

	// Upstreams lists the endpoints the request was delegated to, in
	// configured order.
	Upstreams []string
	Status    int

	mu     sync.RWMutex
	custom map[string]string
}

// RequestContextKey is the context key for storing the metadata context
type RequestContextKey struct{}

// NewContext creates a metadata context for r.
func NewContext(r *http.Request) *Context {
	return &Context{StartTime: time.Now()}
}

// SetCustom sets a custom metadata value. Safe for concurrent use.
func (c *Context) SetCustom(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.custom == nil {
		c.custom = make(map[string]string)
	}
	c.custom[name] = value
}

// GetCustom returns a custom metadata value.
func (c *Context) GetCustom(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.custom[name]
	return v, ok
}

// Custom returns a copy of all custom values.
func (c *Context) Custom() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.custom))
	for k, v := range c.custom {
		out[k] = v
	}
	return out
}

// FromContext returns the metadata context stored in ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(RequestContextKey{}).(*Context)
	return c, ok
}

// WithRequest attaches a metadata context to r, creating one when r has
// none. The returned request must be used downstream.
func WithRequest(r *http.Request) (*http.Request, *Context) {
	if c, ok := FromContext(r.Context()); ok {
		return r, c
	}
	c := NewContext(r)
	return r.WithContext(context.WithValue(r.Context(), RequestContextKey{}, c)), c
}

// GetFromRequest extracts the metadata context from an HTTP request. A fresh,
// unattached context is returned when none is present.
func GetFromRequest(r *http.Request) *Context {
	if c, ok := FromContext(r.Context()); ok {
		return c
	}
	return NewContext(r)
}

// ExtractClientIP returns the originating client address.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
