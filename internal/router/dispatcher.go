package router

import "net/http"

// Match is a dispatch result.
type Match struct {
	Route *Route
	// Matched is the substring of the request path matched by the pattern.
	Matched string
}

// Dispatcher is an ordered, immutable list of entries.
type Dispatcher struct {
	entries []Entry
}

// NewDispatcher creates a dispatcher. Declaration order is dispatch order.
func NewDispatcher(entries ...Entry) *Dispatcher {
	return &Dispatcher{entries: append([]Entry(nil), entries...)}
}

// Dispatch returns the first entry matching r. ok is false when nothing
// matches; that is not an error.
func (d *Dispatcher) Dispatch(r *http.Request) (*Match, bool) {
	if d == nil {
		return nil, false
	}
	for _, e := range d.entries {
		if e.Matches(r) {
			rt := e.Target()
			return &Match{Route: rt, Matched: rt.MatchedPath(r.URL.Path)}, true
		}
	}
	return nil, false
}

// Routes returns the routes in dispatch order.
func (d *Dispatcher) Routes() []*Route {
	if d == nil {
		return nil
	}
	routes := make([]*Route, len(d.entries))
	for i, e := range d.entries {
		routes[i] = e.Target()
	}
	return routes
}

// Len returns the number of entries.
func (d *Dispatcher) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}
