// Package upstream resolves configured delegation targets into ordered
// upstream descriptors.
package upstream

import (
	"fmt"
	"net/url"
	"strings"
)

// Descriptor is one origin server a request may be forwarded to.
type Descriptor struct {
	Endpoint *url.URL
	// Label is reported as the "domain" of the upstream's entry in a
	// multi-upstream envelope. Empty means no label.
	Label string
}

// Entry is the structured form of a target: an address plus a label.
type Entry struct {
	URI    string
	Domain string
}

// String returns the endpoint URL.
func (d Descriptor) String() string {
	if d.Endpoint == nil {
		return ""
	}
	return d.Endpoint.String()
}

// Name identifies the descriptor in metrics and logs: the label when set,
// the endpoint host otherwise.
func (d Descriptor) Name() string {
	if d.Label != "" {
		return d.Label
	}
	if d.Endpoint == nil {
		return ""
	}
	return d.Endpoint.Host
}

// Resolve normalizes a configured target into an ordered, non-empty list of
// descriptors. A target is a single address string, or a list whose items
// are address strings or {uri, domain} maps. Anything else is an error.
func Resolve(spec any) ([]Descriptor, error) {
	switch v := spec.(type) {
	case string:
		d, err := parse(v, "")
		if err != nil {
			return nil, err
		}
		return []Descriptor{d}, nil
	case Entry:
		d, err := parse(v.URI, v.Domain)
		if err != nil {
			return nil, err
		}
		return []Descriptor{d}, nil
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return resolveList(items)
	case []Entry:
		items := make([]any, len(v))
		for i, e := range v {
			items[i] = e
		}
		return resolveList(items)
	case []any:
		return resolveList(v)
	case nil:
		return nil, fmt.Errorf("upstream target is required")
	default:
		return nil, fmt.Errorf("upstream target must be an address or a list, got %T", spec)
	}
}

func resolveList(items []any) ([]Descriptor, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("upstream list is empty")
	}
	out := make([]Descriptor, 0, len(items))
	for i, item := range items {
		d, err := resolveItem(item)
		if err != nil {
			return nil, fmt.Errorf("upstream[%d]: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func resolveItem(item any) (Descriptor, error) {
	switch v := item.(type) {
	case string:
		return parse(v, "")
	case Entry:
		return parse(v.URI, v.Domain)
	case map[string]any:
		return fromMap(func(k string) (any, bool) { x, ok := v[k]; return x, ok })
	case map[any]any:
		return fromMap(func(k string) (any, bool) { x, ok := v[k]; return x, ok })
	default:
		return Descriptor{}, fmt.Errorf("invalid format %T", item)
	}
}

func fromMap(get func(string) (any, bool)) (Descriptor, error) {
	raw, ok := get("uri")
	if !ok {
		return Descriptor{}, fmt.Errorf("uri is required")
	}
	uri, ok := raw.(string)
	if !ok {
		return Descriptor{}, fmt.Errorf("uri must be a string")
	}
	var label string
	for _, key := range []string{"domain", "label"} {
		if l, ok := get(key); ok && l != nil {
			s, ok := l.(string)
			if !ok {
				return Descriptor{}, fmt.Errorf("%s must be a string", key)
			}
			label = s
			break
		}
	}
	return parse(uri, label)
}

func parse(raw, label string) (Descriptor, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Descriptor{}, fmt.Errorf("parse %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Descriptor{}, fmt.Errorf("%q must be an http(s) URL with host", raw)
	}
	return Descriptor{Endpoint: u, Label: label}, nil
}

// Address returns host:port for the descriptor, filling the scheme default
// port when the endpoint omits it.
func (d Descriptor) Address() string {
	host := d.Endpoint.Hostname()
	port := d.Endpoint.Port()
	if port == "" {
		if d.Endpoint.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host + ":" + port
}

// TLS reports whether calls to the upstream use TLS.
func (d Descriptor) TLS() bool {
	return d.Endpoint.Scheme == "https"
}
