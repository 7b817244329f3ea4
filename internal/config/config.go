package config

import (
	"time"

	"github.com/goccy/go-yaml"
)

// Config represents the complete delegation gateway configuration
type Config struct {
	Listener  ListenerConfig  `yaml:"listener"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Transport TransportConfig `yaml:"transport"`

	// GatewayHeader is the trace header naming the route that served a request.
	GatewayHeader string `yaml:"gateway_header"`

	// Timeout is the default per-call execution timeout. Zero disables it.
	Timeout time.Duration `yaml:"timeout"`

	// Global rewrite pipeline and fallback, overridable per route.
	Rewrite  *RewriteConfig  `yaml:"rewrite"`
	Change   *ChangeConfig   `yaml:"change"`
	Fallback *FallbackConfig `yaml:"fallback"`

	// Constraints are appended to every route's own constraints.
	Constraints []ConstraintConfig `yaml:"constraints"`

	Routes []RouteConfig `yaml:"routes"`
}

// ListenerConfig defines the inbound HTTP listener
type ListenerConfig struct {
	Address           string        `yaml:"address"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

// AdminConfig defines the admin listener (/metrics, /healthz, /routes)
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level    string            `yaml:"level"`
	Output   string            `yaml:"output"` // stdout, stderr or a file path
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files
}

// TracingConfig defines OpenTelemetry tracing settings
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	ServiceName string            `yaml:"service_name"`
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	SampleRate  float64           `yaml:"sample_rate"`
	Headers     map[string]string `yaml:"headers"`
}

// TransportConfig defines the upstream HTTP transport
type TransportConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	InsecureSkipVerify    bool          `yaml:"insecure_skip_verify"`
	CAFile                string        `yaml:"ca_file"`
}

// RouteConfig binds a path pattern to one or more upstreams
type RouteConfig struct {
	ID string `yaml:"id"`
	// From is a regular expression matched against the request path.
	From           string               `yaml:"from"`
	To             UpstreamTarget       `yaml:"to"`
	Constraints    []ConstraintConfig   `yaml:"constraints"`
	Rewrite        *RewriteConfig       `yaml:"rewrite"`
	Change         *ChangeConfig        `yaml:"change"`
	Fallback       *FallbackConfig      `yaml:"fallback"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	PropagateTrace bool                 `yaml:"propagate_trace"`
}

// UpstreamTarget holds the raw "to" value: an address string or a list of
// address strings and {uri, domain} maps. It is resolved by the upstream
// package.
type UpstreamTarget struct {
	Spec any
}

// UnmarshalYAML keeps the decoded node as-is for later resolution.
func (t *UpstreamTarget) UnmarshalYAML(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Spec = raw
	return nil
}

// ConstraintConfig is one predicate over the inbound request. Exactly one of
// Header, Query, Cookie, Methods, Host or Expr must be set.
type ConstraintConfig struct {
	Header  string   `yaml:"header"`
	Query   string   `yaml:"query"`
	Cookie  string   `yaml:"cookie"`
	Methods []string `yaml:"methods"`
	Host    string   `yaml:"host"` // exact or "*.example.com"
	Expr    string   `yaml:"expr"`

	// Value matching for Header, Query and Cookie.
	Value   string `yaml:"value"`
	Regex   string `yaml:"regex"`
	Present *bool  `yaml:"present"`
}

// RewriteConfig defines URI rewrite steps, applied in field order.
type RewriteConfig struct {
	StripPrefix string             `yaml:"strip_prefix"`
	Prefix      string             `yaml:"prefix"`
	Regex       string             `yaml:"regex"`
	Replacement string             `yaml:"replacement"`
	Query       QueryRewriteConfig `yaml:"query"`
}

// QueryRewriteConfig sets and removes query parameters
type QueryRewriteConfig struct {
	Set    map[string]string `yaml:"set"`
	Remove []string          `yaml:"remove"`
}

// ChangeConfig defines mutations of the built outbound request
type ChangeConfig struct {
	SetHeaders    map[string]string `yaml:"set_headers"`
	AddHeaders    map[string]string `yaml:"add_headers"`
	RemoveHeaders []string          `yaml:"remove_headers"`
	Host          string            `yaml:"host"`
}

// FallbackConfig defines the response used when an upstream call fails.
// Name refers to a fallback function registered by the embedding program;
// otherwise Status, Headers and Body form a literal response.
type FallbackConfig struct {
	Name    string            `yaml:"name"`
	Status  int               `yaml:"status"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
}

// CircuitBreakerConfig defines per-upstream circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"` // consecutive failures before opening
	MaxRequests      uint32        `yaml:"max_requests"`      // probes allowed while half-open
	Interval         time.Duration `yaml:"interval"`          // closed-state counter reset period
	Timeout          time.Duration `yaml:"timeout"`           // open-state duration
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Address:           ":8080",
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Admin: AdminConfig{
			Address: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			ServiceName: "delegate",
			SampleRate:  1.0,
		},
		Transport: TransportConfig{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialTimeout:         30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		GatewayHeader: "X-Gateway",
	}
}
