// Package proxy builds outbound requests for upstream calls and provides
// the shared upstream transport.
package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wudi/delegate/internal/rewrite"
	"github.com/wudi/delegate/internal/upstream"
)

// Outbound describes one upstream call.
type Outbound struct {
	Target   upstream.Descriptor
	Pipeline *rewrite.Pipeline
	// Body replaces the inbound body. When nil the inbound body is used.
	Body          io.ReadCloser
	ContentLength int64
	// PropagateTrace injects the OTEL trace context into the headers.
	PropagateTrace bool
}

// NewRequest builds the outbound request for in. The URI rewrite runs on a
// copy of the inbound URL, then the request is built against the target,
// then the change phase runs.
func NewRequest(ctx context.Context, in *http.Request, ob Outbound) *http.Request {
	src := cloneInboundURL(in)
	rewritten := ob.Pipeline.RewriteURI(src)

	target := ob.Target.Endpoint
	targetURL := url.URL{
		Scheme:   target.Scheme,
		Host:     target.Host,
		Path:     singleJoiningSlash(target.Path, rewritten.Path),
		RawQuery: rewritten.RawQuery,
	}

	body, contentLength := ob.Body, ob.ContentLength
	if body == nil {
		body, contentLength = in.Body, in.ContentLength
	}

	out := (&http.Request{
		Method:        in.Method,
		URL:           &targetURL,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          body,
		ContentLength: contentLength,
		Host:          target.Host,
	}).WithContext(ctx)

	// +3 for X-Forwarded-For/Proto/Host
	out.Header = make(http.Header, len(in.Header)+3)
	for k, vv := range in.Header {
		out.Header[k] = append([]string(nil), vv...)
	}

	if clientIP := peerIP(in); clientIP != "" {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			out.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			out.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	if in.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}
	out.Header.Set("X-Forwarded-Host", in.Host)

	RemoveHopHeaders(out.Header)

	out = ob.Pipeline.ChangeRequest(out, in)

	if ob.PropagateTrace {
		otel.GetTextMapPropagator().Inject(out.Context(), propagation.HeaderCarrier(out.Header))
	}
	return out
}

// peerIP returns the address of the directly connected client.
func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cloneInboundURL returns a copy of the inbound URL with scheme and host
// filled in from the request.
func cloneInboundURL(in *http.Request) *url.URL {
	u := *in.URL
	u.User = nil
	if u.Host == "" {
		u.Host = in.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if in.TLS != nil {
			u.Scheme = "https"
		}
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return &u
}

// Hop-by-hop headers that should be removed
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopHeaders deletes hop-by-hop headers, including those named in
// the Connection header.
func RemoveHopHeaders(header http.Header) {
	for _, v := range header.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				header.Del(name)
			}
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// IsHopHeader reports whether name is a hop-by-hop header.
func IsHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// singleJoiningSlash joins two URL paths with a single slash
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
