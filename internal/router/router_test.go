package router

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/wudi/delegate/internal/config"
	"github.com/wudi/delegate/internal/delegate"
)

func route(id, pattern string) *Route {
	noop := delegate.CallerFunc(func(*http.Request) delegate.Response {
		return delegate.Response{Status: http.StatusOK}
	})
	return NewRoute(id, regexp.MustCompile(pattern), noop, nil)
}

func boolPtr(b bool) *bool { return &b }

func TestDispatchFirstMatch(t *testing.T) {
	d := NewDispatcher(
		route("users", "^/api/users"),
		route("api", "^/api"),
		route("all", ".*"),
	)

	tests := []struct {
		path    string
		wantID  string
		matched string
	}{
		{"/api/users/42", "users", "/api/users"},
		{"/api/orders", "api", "/api"},
		{"/static/app.js", "all", "/static/app.js"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m, ok := d.Dispatch(httptest.NewRequest("GET", tt.path, nil))
			if !ok {
				t.Fatal("expected a match")
			}
			if m.Route.ID != tt.wantID {
				t.Errorf("expected route %s, got %s", tt.wantID, m.Route.ID)
			}
			if m.Matched != tt.matched {
				t.Errorf("expected matched %q, got %q", tt.matched, m.Matched)
			}
		})
	}
}

func TestDispatchIgnoresQuery(t *testing.T) {
	d := NewDispatcher(route("q", `^/search\?q=`), route("plain", "^/search$"))

	m, ok := d.Dispatch(httptest.NewRequest("GET", "/search?q=go", nil))
	if !ok || m.Route.ID != "plain" {
		t.Errorf("expected query string to be ignored, got %+v", m)
	}
}

func TestDispatchNoMatch(t *testing.T) {
	d := NewDispatcher(route("api", "^/api"))
	if _, ok := d.Dispatch(httptest.NewRequest("GET", "/other", nil)); ok {
		t.Error("expected no match")
	}

	var empty *Dispatcher
	if _, ok := empty.Dispatch(httptest.NewRequest("GET", "/", nil)); ok {
		t.Error("nil dispatcher should not match")
	}
	if empty.Len() != 0 || empty.Routes() != nil {
		t.Error("nil dispatcher should be empty")
	}
}

func TestGuardFallsThrough(t *testing.T) {
	preds, err := CompilePredicates([]config.ConstraintConfig{{Header: "X-Foo", Value: "bar"}})
	if err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(
		NewGuard(route("guarded", "^/x"), preds...),
		route("open", "^/x"),
	)

	r := httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Foo", "bar")
	if m, _ := d.Dispatch(r); m.Route.ID != "guarded" {
		t.Errorf("expected guarded route, got %s", m.Route.ID)
	}

	r = httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Foo", "baz")
	if m, _ := d.Dispatch(r); m.Route.ID != "open" {
		t.Errorf("expected fall through to open route, got %s", m.Route.ID)
	}

	if got := d.Routes(); len(got) != 2 || got[0].ID != "guarded" {
		t.Errorf("expected guard to expose its route, got %v", got)
	}
}

func TestGuardSkipsPredicatesWithoutPatternMatch(t *testing.T) {
	var evaluated bool
	g := NewGuard(route("g", "^/only"), func(*http.Request) bool {
		evaluated = true
		return true
	})
	if g.Matches(httptest.NewRequest("GET", "/other", nil)) {
		t.Error("expected no match")
	}
	if evaluated {
		t.Error("predicate evaluated without a pattern match")
	}
}

func TestNewGuardWithoutPredicates(t *testing.T) {
	rt := route("r", "/")
	if NewGuard(rt) != Entry(rt) {
		t.Error("expected unguarded entry to be returned as is")
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name       string
		constraint config.ConstraintConfig
		setup      func(r *http.Request)
		want       bool
	}{
		{
			name:       "header regex",
			constraint: config.ConstraintConfig{Header: "X-Version", Regex: `^v[23]$`},
			setup:      func(r *http.Request) { r.Header.Set("X-Version", "v2") },
			want:       true,
		},
		{
			name:       "header missing",
			constraint: config.ConstraintConfig{Header: "X-Version", Value: "v2"},
			setup:      func(r *http.Request) {},
			want:       false,
		},
		{
			name:       "header absent required",
			constraint: config.ConstraintConfig{Header: "X-Debug", Present: boolPtr(false)},
			setup:      func(r *http.Request) {},
			want:       true,
		},
		{
			name:       "query value",
			constraint: config.ConstraintConfig{Query: "beta", Value: "1"},
			setup:      func(r *http.Request) { r.URL.RawQuery = "beta=1" },
			want:       true,
		},
		{
			name:       "query present",
			constraint: config.ConstraintConfig{Query: "beta", Present: boolPtr(true)},
			setup:      func(r *http.Request) { r.URL.RawQuery = "beta=" },
			want:       true,
		},
		{
			name:       "cookie value",
			constraint: config.ConstraintConfig{Cookie: "tier", Value: "gold"},
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "tier", Value: "gold"}) },
			want:       true,
		},
		{
			name:       "cookie mismatch",
			constraint: config.ConstraintConfig{Cookie: "tier", Value: "gold"},
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "tier", Value: "free"}) },
			want:       false,
		},
		{
			name:       "methods",
			constraint: config.ConstraintConfig{Methods: []string{"get", "HEAD"}},
			setup:      func(r *http.Request) {},
			want:       true,
		},
		{
			name:       "method rejected",
			constraint: config.ConstraintConfig{Methods: []string{"POST"}},
			setup:      func(r *http.Request) {},
			want:       false,
		},
		{
			name:       "host exact with port",
			constraint: config.ConstraintConfig{Host: "api.example.com"},
			setup:      func(r *http.Request) { r.Host = "API.example.com:8080" },
			want:       true,
		},
		{
			name:       "host wildcard",
			constraint: config.ConstraintConfig{Host: "*.example.com"},
			setup:      func(r *http.Request) { r.Host = "eu.api.example.com" },
			want:       true,
		},
		{
			name:       "host wildcard excludes apex",
			constraint: config.ConstraintConfig{Host: "*.example.com"},
			setup:      func(r *http.Request) { r.Host = "example.com" },
			want:       false,
		},
		{
			name:       "expr",
			constraint: config.ConstraintConfig{Expr: `method == "GET" && args["beta"] == "1" && headers["X-Foo"] == "bar"`},
			setup: func(r *http.Request) {
				r.URL.RawQuery = "beta=1"
				r.Header.Set("X-Foo", "bar")
			},
			want: true,
		},
		{
			name:       "expr false",
			constraint: config.ConstraintConfig{Expr: `path startsWith "/admin"`},
			setup:      func(r *http.Request) {},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := CompilePredicate(tt.constraint)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			r := httptest.NewRequest("GET", "/x", nil)
			tt.setup(r)
			if got := p(r); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCompilePredicateErrors(t *testing.T) {
	tests := []struct {
		name       string
		constraint config.ConstraintConfig
	}{
		{"empty", config.ConstraintConfig{}},
		{"header without matcher", config.ConstraintConfig{Header: "X"}},
		{"bad regex", config.ConstraintConfig{Query: "q", Regex: "("}},
		{"expr not bool", config.ConstraintConfig{Expr: `method + "x"`}},
		{"expr unknown field", config.ConstraintConfig{Expr: `nope == 1`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CompilePredicate(tt.constraint); err == nil {
				t.Error("expected error")
			}
		})
	}
}
