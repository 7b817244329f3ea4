package delegate

import (
	"net/http"
	"strings"
)

// Response is the generic response triple returned to the gateway adapter.
// Header names are lower-case; multi-valued headers are joined with "; ".
type Response struct {
	Status int
	Header map[string]string
	Body   []byte
}

// Result is the outcome of one upstream call, success or fallback.
type Result struct {
	Status int
	Header map[string]string
	Body   []byte
	// Label is the upstream's configured domain label, empty if none.
	Label string
	// Fallback is set when the result was produced by the failure fallback.
	Fallback bool
}

// Response returns the result as a passthrough response triple.
func (r Result) Response() Response {
	return Response{Status: r.Status, Header: r.Header, Body: r.Body}
}

// Caller executes a matched route.
type Caller interface {
	Call(r *http.Request) Response
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(r *http.Request) Response

// Call calls f(r).
func (f CallerFunc) Call(r *http.Request) Response { return f(r) }

// headerSeparator joins multi-valued headers.
const headerSeparator = "; "

// NormalizeHeader flattens h into lower-case names with values joined by
// "; ". The pseudo header "status" is dropped.
func NormalizeHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		name := strings.ToLower(k)
		if name == "status" {
			continue
		}
		if prev, ok := out[name]; ok && prev != "" {
			out[name] = prev + headerSeparator + strings.Join(vv, headerSeparator)
			continue
		}
		out[name] = strings.Join(vv, headerSeparator)
	}
	return out
}

// lowerKeys copies m with lower-case keys.
func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
