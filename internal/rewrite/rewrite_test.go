package rewrite

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/wudi/delegate/internal/config"
	"github.com/wudi/delegate/internal/variables"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestCompileURI(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.RewriteConfig
		in   string
		want string
	}{
		{
			name: "nil config is identity",
			in:   "/api/users?page=1",
			want: "/api/users?page=1",
		},
		{
			name: "strip prefix",
			cfg:  &config.RewriteConfig{StripPrefix: "/api"},
			in:   "/api/users",
			want: "/users",
		},
		{
			name: "strip prefix to root",
			cfg:  &config.RewriteConfig{StripPrefix: "/api/"},
			in:   "/api",
			want: "/",
		},
		{
			name: "strip prefix only on segment boundary",
			cfg:  &config.RewriteConfig{StripPrefix: "/api"},
			in:   "/apix/users",
			want: "/apix/users",
		},
		{
			name: "add prefix",
			cfg:  &config.RewriteConfig{Prefix: "/v2"},
			in:   "/users",
			want: "/v2/users",
		},
		{
			name: "strip then prefix",
			cfg:  &config.RewriteConfig{StripPrefix: "/api", Prefix: "/internal/"},
			in:   "/api/users/7",
			want: "/internal/users/7",
		},
		{
			name: "regex with groups",
			cfg:  &config.RewriteConfig{Regex: `^/users/(\d+)$`, Replacement: "/profiles/$1"},
			in:   "/users/42",
			want: "/profiles/42",
		},
		{
			name: "query set and remove",
			cfg: &config.RewriteConfig{Query: config.QueryRewriteConfig{
				Set:    map[string]string{"source": "gw"},
				Remove: []string{"debug"},
			}},
			in:   "/search?q=go&debug=1",
			want: "/search?q=go&source=gw",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw, err := CompileURI(tt.cfg)
			if err != nil {
				t.Fatalf("CompileURI: %v", err)
			}
			in := mustParse(t, tt.in)
			got := rw.Rewrite(in)
			if got.RequestURI() != tt.want {
				t.Errorf("Rewrite(%q) = %q, want %q", tt.in, got.RequestURI(), tt.want)
			}
			if in.String() != tt.in {
				t.Errorf("input URL was modified: %q", in.String())
			}
		})
	}
}

func TestCompileURIInvalidRegex(t *testing.T) {
	if _, err := CompileURI(&config.RewriteConfig{Regex: "(", Replacement: "/"}); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestPipelineOverrideReplacesDefault(t *testing.T) {
	p, err := New(
		&config.RewriteConfig{Prefix: "/global"},
		&config.RewriteConfig{StripPrefix: "/api"},
		nil, nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	got := p.RewriteURI(mustParse(t, "/api/users"))
	if got.Path != "/users" {
		t.Errorf("expected override only (/users), got %s", got.Path)
	}

	p, err = New(&config.RewriteConfig{Prefix: "/global"}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	got = p.RewriteURI(mustParse(t, "/api/users"))
	if got.Path != "/global/api/users" {
		t.Errorf("expected default rewrite, got %s", got.Path)
	}

	var nilPipeline *Pipeline
	if got := nilPipeline.RewriteURI(mustParse(t, "/x")); got.Path != "/x" {
		t.Errorf("nil pipeline should be identity, got %s", got.Path)
	}
}

func TestPipelineChange(t *testing.T) {
	in := httptest.NewRequest("GET", "/api/users", nil)
	in.Header.Set("X-Tenant", "acme")
	in, vctx := variables.WithRequest(in)
	vctx.RequestID = "req-9"

	global := &config.ChangeConfig{SetHeaders: map[string]string{"X-Global": "yes"}}
	route := &config.ChangeConfig{
		SetHeaders:    map[string]string{"X-Request-Id": "$request_id", "X-Tenant-Copy": "t-$http_x_tenant"},
		AddHeaders:    map[string]string{"Via": "delegate"},
		RemoveHeaders: []string{"Cookie"},
		Host:          "internal.example",
	}

	p, err := New(nil, nil, global, route)
	if err != nil {
		t.Fatal(err)
	}

	out, _ := http.NewRequest("GET", "http://origin/api/users", nil)
	out.Header.Set("Cookie", "secret=1")
	out.Header.Set("Via", "1.1 edge")
	out = p.ChangeRequest(out, in)

	if out.Header.Get("X-Global") != "" {
		t.Error("route change should replace the global change phase")
	}
	if got := out.Header.Get("X-Request-Id"); got != "req-9" {
		t.Errorf("expected X-Request-Id req-9, got %q", got)
	}
	if got := out.Header.Get("X-Tenant-Copy"); got != "t-acme" {
		t.Errorf("expected X-Tenant-Copy t-acme, got %q", got)
	}
	if vias := out.Header.Values("Via"); len(vias) != 2 {
		t.Errorf("expected appended Via header, got %v", vias)
	}
	if out.Header.Get("Cookie") != "" {
		t.Error("expected Cookie removed")
	}
	if out.Host != "internal.example" {
		t.Errorf("expected host override, got %s", out.Host)
	}

	p, _ = New(nil, nil, global, nil)
	out, _ = http.NewRequest("GET", "http://origin/", nil)
	if p.ChangeRequest(out, in).Header.Get("X-Global") != "yes" {
		t.Error("expected global change phase when the route has none")
	}
}

func TestRewriteConcurrentUse(t *testing.T) {
	rw, err := CompileURI(&config.RewriteConfig{
		StripPrefix: "/api",
		Query:       config.QueryRewriteConfig{Set: map[string]string{"v": "1"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	base := mustParse(t, "/api/items?x=1")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := rw.Rewrite(base).RequestURI(); got != "/items?v=1&x=1" {
				t.Errorf("unexpected rewrite %q", got)
			}
		}()
	}
	wg.Wait()

	if base.RequestURI() != "/api/items?x=1" {
		t.Errorf("shared input mutated: %s", base.RequestURI())
	}
}
