package config

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/wudi/delegate/internal/upstream"
)

// validHTTPMethods contains all valid HTTP method names.
var validHTTPMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true,
}

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.Listener.Address == "" {
		return fmt.Errorf("listener.address is required")
	}
	if cfg.Admin.Enabled && cfg.Admin.Address == "" {
		return fmt.Errorf("admin.address is required when admin is enabled")
	}
	if strings.TrimSpace(cfg.GatewayHeader) == "" {
		return fmt.Errorf("gateway_header must not be empty")
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}

	if err := validateRewrite("rewrite", cfg.Rewrite); err != nil {
		return err
	}
	if err := validateFallback("fallback", cfg.Fallback); err != nil {
		return err
	}
	for i, c := range cfg.Constraints {
		if err := validateConstraint(fmt.Sprintf("constraints[%d]", i), c); err != nil {
			return err
		}
	}

	if len(cfg.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}

	ids := make(map[string]bool, len(cfg.Routes))
	for i := range cfg.Routes {
		r := &cfg.Routes[i]
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			r.ID = fmt.Sprintf("route-%d", i)
		}
		if ids[r.ID] {
			return fmt.Errorf("routes[%d]: duplicate route id %q", i, r.ID)
		}
		ids[r.ID] = true

		if err := validateRoute(fmt.Sprintf("routes[%d]", i), r); err != nil {
			return err
		}
	}

	return nil
}

func validateRoute(prefix string, r *RouteConfig) error {
	if r.From == "" {
		return fmt.Errorf("%s: from is required", prefix)
	}
	if _, err := regexp.Compile(r.From); err != nil {
		return fmt.Errorf("%s: invalid from pattern: %w", prefix, err)
	}
	if _, err := upstream.Resolve(r.To.Spec); err != nil {
		return fmt.Errorf("%s: to: %w", prefix, err)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("%s: timeout must not be negative", prefix)
	}
	for i, c := range r.Constraints {
		if err := validateConstraint(fmt.Sprintf("%s.constraints[%d]", prefix, i), c); err != nil {
			return err
		}
	}
	if err := validateRewrite(prefix+".rewrite", r.Rewrite); err != nil {
		return err
	}
	if err := validateFallback(prefix+".fallback", r.Fallback); err != nil {
		return err
	}
	cb := r.CircuitBreaker
	if cb.Enabled && (cb.Interval < 0 || cb.Timeout < 0) {
		return fmt.Errorf("%s.circuit_breaker: durations must not be negative", prefix)
	}
	return nil
}

func validateConstraint(prefix string, c ConstraintConfig) error {
	kinds := 0
	for _, set := range []bool{c.Header != "", c.Query != "", c.Cookie != "", len(c.Methods) > 0, c.Host != "", c.Expr != ""} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return fmt.Errorf("%s: exactly one of header, query, cookie, methods, host or expr is required", prefix)
	}

	for _, m := range c.Methods {
		if !validHTTPMethods[strings.ToUpper(m)] {
			return fmt.Errorf("%s: invalid method %q", prefix, m)
		}
	}

	if c.Header != "" || c.Query != "" || c.Cookie != "" {
		modes := 0
		if c.Value != "" {
			modes++
		}
		if c.Regex != "" {
			modes++
			if _, err := regexp.Compile(c.Regex); err != nil {
				return fmt.Errorf("%s: invalid regex: %w", prefix, err)
			}
		}
		if c.Present != nil {
			modes++
		}
		if modes != 1 {
			return fmt.Errorf("%s: exactly one of value, regex or present is required", prefix)
		}
	}
	return nil
}

func validateRewrite(prefix string, rw *RewriteConfig) error {
	if rw == nil {
		return nil
	}
	if rw.StripPrefix != "" && !strings.HasPrefix(rw.StripPrefix, "/") {
		return fmt.Errorf("%s: strip_prefix must start with '/'", prefix)
	}
	if rw.Prefix != "" && !strings.HasPrefix(rw.Prefix, "/") {
		return fmt.Errorf("%s: prefix must start with '/'", prefix)
	}
	if rw.Regex != "" {
		if _, err := regexp.Compile(rw.Regex); err != nil {
			return fmt.Errorf("%s: invalid regex: %w", prefix, err)
		}
	} else if rw.Replacement != "" {
		return fmt.Errorf("%s: replacement requires regex", prefix)
	}
	return nil
}

func validateFallback(prefix string, fb *FallbackConfig) error {
	if fb == nil {
		return nil
	}
	if fb.Name != "" {
		if fb.Status != 0 || fb.Body != "" || len(fb.Headers) > 0 {
			return fmt.Errorf("%s: name cannot be combined with status, headers or body", prefix)
		}
		return nil
	}
	if fb.Status == 0 {
		fb.Status = http.StatusBadGateway
	}
	if fb.Status < 100 || fb.Status > 999 {
		return fmt.Errorf("%s: status %d out of range", prefix, fb.Status)
	}
	return nil
}
