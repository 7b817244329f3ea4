// Package router holds the immutable route table: regex-pattern routes,
// constraint guards decorating them and the first-match dispatcher.
package router

import (
	"net/http"
	"regexp"

	"github.com/wudi/delegate/internal/delegate"
	"github.com/wudi/delegate/internal/upstream"
)

// Entry is a dispatchable table entry. Route and Guard both implement it,
// so guards compose transparently.
type Entry interface {
	// Matches reports whether the entry accepts the request.
	Matches(r *http.Request) bool
	// Target returns the underlying route.
	Target() *Route
}

// Route binds a path pattern to a delegation target.
type Route struct {
	ID        string
	Pattern   *regexp.Regexp
	Delegator delegate.Caller

	// Upstreams is informational (admin listing).
	Upstreams []upstream.Descriptor
}

// NewRoute creates a route.
func NewRoute(id string, pattern *regexp.Regexp, d delegate.Caller, upstreams []upstream.Descriptor) *Route {
	return &Route{ID: id, Pattern: pattern, Delegator: d, Upstreams: upstreams}
}

// Matches reports whether the pattern matches the request path. The query
// string is not considered.
func (rt *Route) Matches(r *http.Request) bool {
	return rt.Pattern.MatchString(r.URL.Path)
}

// Target returns the route itself.
func (rt *Route) Target() *Route { return rt }

// MatchedPath returns the part of path matched by the pattern.
func (rt *Route) MatchedPath(path string) string {
	return rt.Pattern.FindString(path)
}

// Guard decorates an entry with predicates. It matches only if the inner
// entry matches and every predicate holds.
type Guard struct {
	inner      Entry
	predicates []Predicate
}

// NewGuard wraps e. With no predicates e is returned unchanged.
func NewGuard(e Entry, predicates ...Predicate) Entry {
	if len(predicates) == 0 {
		return e
	}
	return &Guard{inner: e, predicates: predicates}
}

// Matches evaluates the inner entry first; predicates run only on a
// pattern match.
func (g *Guard) Matches(r *http.Request) bool {
	if !g.inner.Matches(r) {
		return false
	}
	for _, p := range g.predicates {
		if !p(r) {
			return false
		}
	}
	return true
}

// Target returns the guarded route.
func (g *Guard) Target() *Route { return g.inner.Target() }
