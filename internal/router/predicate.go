package router

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/wudi/delegate/internal/config"
	"github.com/wudi/delegate/internal/variables"
)

// Predicate is a constraint over the inbound request.
type Predicate func(r *http.Request) bool

// Env is the expression environment for expr constraints.
type Env struct {
	Method   string            `expr:"method"`
	Path     string            `expr:"path"`
	Query    string            `expr:"query"`
	Host     string            `expr:"host"`
	Scheme   string            `expr:"scheme"`
	ClientIP string            `expr:"client_ip"`
	Headers  map[string]string `expr:"headers"`
	Args     map[string]string `expr:"args"`
	Cookies  map[string]string `expr:"cookies"`
}

// NewEnv builds the expression environment for r.
func NewEnv(r *http.Request) Env {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	args := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			args[k] = v[0]
		}
	}

	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return Env{
		Method:   r.Method,
		Path:     r.URL.Path,
		Query:    r.URL.RawQuery,
		Host:     r.Host,
		Scheme:   scheme,
		ClientIP: variables.ExtractClientIP(r),
		Headers:  headers,
		Args:     args,
		Cookies:  cookies,
	}
}

// CompilePredicates compiles a constraint list. Compilation errors are
// configuration errors.
func CompilePredicates(constraints []config.ConstraintConfig) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(constraints))
	for i, c := range constraints {
		p, err := CompilePredicate(c)
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// CompilePredicate compiles one constraint.
func CompilePredicate(c config.ConstraintConfig) (Predicate, error) {
	switch {
	case c.Header != "":
		m, err := newValueMatcher(c)
		if err != nil {
			return nil, err
		}
		name := c.Header
		return func(r *http.Request) bool {
			vals, ok := r.Header[http.CanonicalHeaderKey(name)]
			if !ok || len(vals) == 0 {
				return m.match("", false)
			}
			return m.match(vals[0], true)
		}, nil

	case c.Query != "":
		m, err := newValueMatcher(c)
		if err != nil {
			return nil, err
		}
		name := c.Query
		return func(r *http.Request) bool {
			q := r.URL.Query()
			return m.match(q.Get(name), q.Has(name))
		}, nil

	case c.Cookie != "":
		m, err := newValueMatcher(c)
		if err != nil {
			return nil, err
		}
		name := c.Cookie
		return func(r *http.Request) bool {
			ck, err := r.Cookie(name)
			if err != nil {
				return m.match("", false)
			}
			return m.match(ck.Value, true)
		}, nil

	case len(c.Methods) > 0:
		methods := make(map[string]bool, len(c.Methods))
		for _, m := range c.Methods {
			methods[strings.ToUpper(m)] = true
		}
		return func(r *http.Request) bool {
			return methods[r.Method]
		}, nil

	case c.Host != "":
		return hostPredicate(c.Host), nil

	case c.Expr != "":
		return exprPredicate(c.Expr)
	}

	return nil, fmt.Errorf("constraint defines no predicate")
}

type valueMatcher struct {
	exact   string
	regex   *regexp.Regexp
	present *bool
}

func newValueMatcher(c config.ConstraintConfig) (*valueMatcher, error) {
	switch {
	case c.Present != nil:
		return &valueMatcher{present: c.Present}, nil
	case c.Regex != "":
		re, err := regexp.Compile(c.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", c.Regex, err)
		}
		return &valueMatcher{regex: re}, nil
	case c.Value != "":
		return &valueMatcher{exact: c.Value}, nil
	}
	return nil, fmt.Errorf("one of value, regex or present is required")
}

func (m *valueMatcher) match(val string, has bool) bool {
	switch {
	case m.present != nil:
		return has == *m.present
	case m.regex != nil:
		return has && m.regex.MatchString(val)
	default:
		return has && val == m.exact
	}
}

func hostPredicate(pattern string) Predicate {
	pattern = strings.ToLower(pattern)
	wildcard := ""
	if strings.HasPrefix(pattern, "*.") {
		wildcard = pattern[1:] // ".example.com"
	}
	return func(r *http.Request) bool {
		host := strings.ToLower(r.Host)
		if i := strings.LastIndex(host, ":"); i != -1 && !strings.HasSuffix(host, "]") {
			host = host[:i]
		}
		if wildcard != "" {
			return strings.HasSuffix(host, wildcard)
		}
		return host == pattern
	}
}

func exprPredicate(expression string) (Predicate, error) {
	program, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, err)
	}
	return func(r *http.Request) bool {
		return runBool(program, NewEnv(r))
	}, nil
}

// runBool evaluates a compiled boolean program. Evaluation errors count as
// a non-match.
func runBool(program *vm.Program, env Env) bool {
	out, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	b, _ := out.(bool)
	return b
}
