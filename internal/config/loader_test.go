package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoaderParse(t *testing.T) {
	yaml := `
listener:
  address: ":9000"
  read_timeout: 10s

gateway_header: X-Delegated-By
timeout: 500ms

fallback:
  status: 503
  headers:
    Content-Type: text/plain
  body: unavailable

routes:
  - id: users
    from: "^/api/users"
    to: http://users.internal:8080
    timeout: 2s
  - from: "^/dashboard"
    to:
      - http://a.internal/stats
      - uri: http://b.internal/stats
        domain: b
`

	cfg, err := NewLoader().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Listener.Address != ":9000" {
		t.Errorf("expected address :9000, got %s", cfg.Listener.Address)
	}
	if cfg.Listener.ReadTimeout != 10*time.Second {
		t.Errorf("expected read_timeout 10s, got %v", cfg.Listener.ReadTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.Listener.IdleTimeout != 60*time.Second {
		t.Errorf("expected default idle_timeout 60s, got %v", cfg.Listener.IdleTimeout)
	}
	if cfg.GatewayHeader != "X-Delegated-By" {
		t.Errorf("expected gateway header X-Delegated-By, got %s", cfg.GatewayHeader)
	}
	if cfg.Timeout != 500*time.Millisecond {
		t.Errorf("expected timeout 500ms, got %v", cfg.Timeout)
	}
	if cfg.Fallback == nil || cfg.Fallback.Status != 503 || cfg.Fallback.Body != "unavailable" {
		t.Errorf("unexpected fallback: %+v", cfg.Fallback)
	}

	if len(cfg.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(cfg.Routes))
	}
	if cfg.Routes[0].ID != "users" {
		t.Errorf("expected route id users, got %s", cfg.Routes[0].ID)
	}
	if s, ok := cfg.Routes[0].To.Spec.(string); !ok || s != "http://users.internal:8080" {
		t.Errorf("expected string upstream, got %#v", cfg.Routes[0].To.Spec)
	}
	if cfg.Routes[1].ID != "route-1" {
		t.Errorf("expected generated id route-1, got %s", cfg.Routes[1].ID)
	}
	list, ok := cfg.Routes[1].To.Spec.([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("expected list upstream of 2, got %#v", cfg.Routes[1].To.Spec)
	}
}

func TestLoaderEnvExpansion(t *testing.T) {
	t.Setenv("TEST_UPSTREAM", "http://env.internal:7777")
	t.Setenv("TEST_HEADER", "X-From-Env")

	yaml := `
gateway_header: ${TEST_HEADER}
routes:
  - from: "^/"
    to: ${TEST_UPSTREAM}
    rewrite:
      prefix: "${TEST_UNSET_VARIABLE}"
`

	_, err := NewLoader().Parse([]byte(yaml))
	// The unset variable is kept verbatim and fails the prefix check.
	if err == nil || !strings.Contains(err.Error(), "prefix") {
		t.Fatalf("expected prefix error for unexpanded variable, got %v", err)
	}

	yaml = strings.Replace(yaml, "      prefix: \"${TEST_UNSET_VARIABLE}\"\n", "      prefix: /v1\n", 1)
	cfg, err := NewLoader().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.GatewayHeader != "X-From-Env" {
		t.Errorf("expected header from env, got %s", cfg.GatewayHeader)
	}
	if cfg.Routes[0].To.Spec != "http://env.internal:7777" {
		t.Errorf("expected upstream from env, got %#v", cfg.Routes[0].To.Spec)
	}
}

func TestLoaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "valid config",
			yaml: `
routes:
  - from: "^/test"
    to: http://localhost:9000
    constraints:
      - header: X-Tenant
        value: acme
      - methods: [GET, POST]
      - expr: 'method == "GET"'
`,
		},
		{
			name:    "no routes",
			yaml:    "listener:\n  address: \":8080\"\n",
			wantErr: "at least one route",
		},
		{
			name: "invalid from pattern",
			yaml: `
routes:
  - from: "^/(unclosed"
    to: http://localhost:9000
`,
			wantErr: "invalid from pattern",
		},
		{
			name: "missing upstream",
			yaml: `
routes:
  - from: "^/"
`,
			wantErr: "to:",
		},
		{
			name: "non http upstream",
			yaml: `
routes:
  - from: "^/"
    to: ftp://files.internal
`,
			wantErr: "to:",
		},
		{
			name: "duplicate ids",
			yaml: `
routes:
  - id: a
    from: "^/a"
    to: http://localhost:9000
  - id: a
    from: "^/b"
    to: http://localhost:9001
`,
			wantErr: "duplicate route id",
		},
		{
			name: "constraint with two kinds",
			yaml: `
routes:
  - from: "^/"
    to: http://localhost:9000
    constraints:
      - header: X-A
        query: a
        value: b
`,
			wantErr: "exactly one of header",
		},
		{
			name: "constraint without match mode",
			yaml: `
routes:
  - from: "^/"
    to: http://localhost:9000
    constraints:
      - header: X-A
`,
			wantErr: "exactly one of value",
		},
		{
			name: "constraint bad regex",
			yaml: `
constraints:
  - query: v
    regex: "[a-"
routes:
  - from: "^/"
    to: http://localhost:9000
`,
			wantErr: "invalid regex",
		},
		{
			name: "invalid method",
			yaml: `
routes:
  - from: "^/"
    to: http://localhost:9000
    constraints:
      - methods: [FETCH]
`,
			wantErr: "invalid method",
		},
		{
			name: "replacement without regex",
			yaml: `
routes:
  - from: "^/"
    to: http://localhost:9000
    rewrite:
      replacement: /x
`,
			wantErr: "replacement requires regex",
		},
		{
			name: "fallback status out of range",
			yaml: `
fallback:
  status: 1000
routes:
  - from: "^/"
    to: http://localhost:9000
`,
			wantErr: "out of range",
		},
		{
			name: "named fallback with body",
			yaml: `
routes:
  - from: "^/"
    to: http://localhost:9000
    fallback:
      name: maintenance
      body: nope
`,
			wantErr: "name cannot be combined",
		},
		{
			name: "negative timeout",
			yaml: `
timeout: -1s
routes:
  - from: "^/"
    to: http://localhost:9000
`,
			wantErr: "timeout must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFallbackDefaultStatus(t *testing.T) {
	yaml := `
routes:
  - from: "^/"
    to: http://localhost:9000
    fallback:
      body: '{"error":"down"}'
`
	cfg, err := NewLoader().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Routes[0].Fallback.Status != 502 {
		t.Errorf("expected default fallback status 502, got %d", cfg.Routes[0].Fallback.Status)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Listener.Address != ":8080" {
		t.Errorf("expected default address :8080, got %s", cfg.Listener.Address)
	}
	if cfg.Admin.Address != ":9090" {
		t.Errorf("expected default admin address :9090, got %s", cfg.Admin.Address)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
	if cfg.GatewayHeader != "X-Gateway" {
		t.Errorf("expected default gateway header X-Gateway, got %s", cfg.GatewayHeader)
	}
	if cfg.Timeout != 0 {
		t.Errorf("expected timeout disabled by default, got %v", cfg.Timeout)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delegate.yaml")
	if err := os.WriteFile(path, []byte("routes:\n  - from: \"^/\"\n    to: http://localhost:9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Routes) != 1 {
		t.Errorf("expected 1 route, got %d", len(cfg.Routes))
	}

	if _, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delegate.yaml")
	initial := "routes:\n  - id: one\n    from: \"^/\"\n    to: http://localhost:9000\n"
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()
	w.SetDebounce(20 * time.Millisecond)

	changed := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := w.GetConfig().Routes[0].ID; got != "one" {
		t.Fatalf("expected initial route one, got %s", got)
	}

	updated := strings.Replace(initial, "id: one", "id: two", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Routes[0].ID != "two" {
			t.Errorf("expected reloaded route two, got %s", cfg.Routes[0].ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if got := w.GetConfig().Routes[0].ID; got != "two" {
		t.Errorf("expected GetConfig to return reloaded config, got %s", got)
	}
}
