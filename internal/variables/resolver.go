package variables

import (
	"net"
	"net/http"
	"strconv"
	"time"
)

// Resolver evaluates $variables against an inbound request and its
// metadata context. Unknown variables render as the empty string.
type Resolver struct{}

// NewResolver creates a new variable resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve renders a raw template string.
func (res *Resolver) Resolve(template string, r *http.Request) string {
	if !HasVariables(template) {
		return template
	}
	return res.Render(ParseTemplate(template), r)
}

// Render renders a pre-parsed template.
func (res *Resolver) Render(t *Template, r *http.Request) string {
	if !t.HasVars {
		return t.Raw
	}
	ctx := GetFromRequest(r)
	return t.Render(func(name string) string {
		v, _ := res.Get(name, r, ctx)
		return v
	})
}

// Get returns the value of a single variable.
func (res *Resolver) Get(name string, r *http.Request, ctx *Context) (string, bool) {
	if prefix, suffix, ok := ParseDynamic(name); ok {
		return res.getDynamic(prefix, suffix, r, ctx)
	}

	switch name {
	case "request_id":
		return ctx.RequestID, true
	case "route_id":
		return ctx.RouteID, true
	case "gateway":
		return ctx.Gateway, true
	case "request_method":
		return r.Method, true
	case "request_uri":
		return r.URL.RequestURI(), true
	case "request_path":
		return r.URL.Path, true
	case "query_string":
		return r.URL.RawQuery, true
	case "host":
		return r.Host, true
	case "scheme":
		if r.TLS != nil {
			return "https", true
		}
		return "http", true
	case "remote_addr":
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr, true
		}
		return host, true
	case "client_ip":
		return ExtractClientIP(r), true
	case "time_unix":
		return strconv.FormatInt(time.Now().Unix(), 10), true
	case "time_iso8601":
		return time.Now().Format(time.RFC3339), true
	}
	return "", false
}

func (res *Resolver) getDynamic(prefix, suffix string, r *http.Request, ctx *Context) (string, bool) {
	switch prefix {
	case "http":
		// $http_x_tenant -> X-Tenant
		return r.Header.Get(NormalizeHeaderName(suffix)), true
	case "arg":
		return r.URL.Query().Get(suffix), true
	case "cookie":
		if c, err := r.Cookie(suffix); err == nil {
			return c.Value, true
		}
		return "", true
	case "custom":
		return ctx.GetCustom(suffix)
	}
	return "", false
}
