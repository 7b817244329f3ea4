package gateway

import (
	"net"
	"net/http"
	"strings"
)

// GatewayHeaderValue computes the trace value for a dispatched request:
// scheme://host[:port] followed by the part of the path matched by the
// route pattern. Ports 80 and 443 are omitted.
func GatewayHeaderValue(r *http.Request, matched string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	hostport := r.Host
	if hostport == "" && r.URL != nil {
		hostport = r.URL.Host
	}
	host, port := hostport, ""
	if h, p, err := net.SplitHostPort(hostport); err == nil {
		host, port = h, p
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	var b strings.Builder
	b.Grow(len(scheme) + len(hostport) + len(matched) + 5)
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if port != "" && port != "80" && port != "443" {
		b.WriteByte(':')
		b.WriteString(port)
	}
	b.WriteString(matched)
	return b.String()
}
