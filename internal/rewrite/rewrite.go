// Package rewrite compiles the outbound rewrite pipeline: URI steps applied
// to a copy of the inbound URL, then change steps applied to the built
// outbound request.
package rewrite

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/wudi/delegate/internal/config"
	"github.com/wudi/delegate/internal/variables"
)

// URIStep transforms a URL. Steps receive their own copy and may modify it.
type URIStep func(u *url.URL) *url.URL

// ChangeStep mutates an outbound request owned by the caller. in is the
// inbound request, used to resolve $variables.
type ChangeStep func(out, in *http.Request) *http.Request

// URIRewriter applies URI steps in order.
type URIRewriter struct {
	steps []URIStep
}

// NewURIRewriter builds a rewriter from explicit steps.
func NewURIRewriter(steps ...URIStep) *URIRewriter {
	return &URIRewriter{steps: steps}
}

// Rewrite returns the rewritten URL. u is never modified.
func (rw *URIRewriter) Rewrite(u *url.URL) *url.URL {
	out := cloneURL(u)
	if rw == nil {
		return out
	}
	for _, step := range rw.steps {
		out = step(cloneURL(out))
	}
	return out
}

// Len returns the number of compiled steps.
func (rw *URIRewriter) Len() int {
	if rw == nil {
		return 0
	}
	return len(rw.steps)
}

// Changer applies change steps in order.
type Changer struct {
	steps []ChangeStep
}

// NewChanger builds a changer from explicit steps.
func NewChanger(steps ...ChangeStep) *Changer {
	return &Changer{steps: steps}
}

// Change applies every step to out.
func (c *Changer) Change(out, in *http.Request) *http.Request {
	if c == nil {
		return out
	}
	for _, step := range c.steps {
		out = step(out, in)
	}
	return out
}

// Pipeline is the rewrite configuration for one route. A nil Pipeline is
// the identity.
type Pipeline struct {
	Default  *URIRewriter
	Override *URIRewriter
	Change   *Changer
}

// New compiles a route pipeline. The route rewrite, when set, replaces the
// global one; likewise for the change phase.
func New(global, route *config.RewriteConfig, globalChange, routeChange *config.ChangeConfig) (*Pipeline, error) {
	p := &Pipeline{}
	var err error
	if p.Default, err = CompileURI(global); err != nil {
		return nil, fmt.Errorf("global rewrite: %w", err)
	}
	if p.Override, err = CompileURI(route); err != nil {
		return nil, fmt.Errorf("route rewrite: %w", err)
	}

	change := globalChange
	if routeChange != nil {
		change = routeChange
	}
	p.Change = CompileChange(change)
	return p, nil
}

// RewriteURI applies the override rewrite if configured, else the default.
func (p *Pipeline) RewriteURI(u *url.URL) *url.URL {
	if p == nil {
		return cloneURL(u)
	}
	if p.Override != nil {
		return p.Override.Rewrite(u)
	}
	return p.Default.Rewrite(u)
}

// ChangeRequest applies the change phase to a built outbound request.
func (p *Pipeline) ChangeRequest(out, in *http.Request) *http.Request {
	if p == nil {
		return out
	}
	return p.Change.Change(out, in)
}

// CompileURI compiles URI steps in fixed order: strip_prefix, prefix,
// regex, query set, query remove. A nil config yields a nil rewriter.
func CompileURI(cfg *config.RewriteConfig) (*URIRewriter, error) {
	if cfg == nil {
		return nil, nil
	}

	var steps []URIStep
	if cfg.StripPrefix != "" {
		steps = append(steps, StripPrefix(cfg.StripPrefix))
	}
	if cfg.Prefix != "" {
		steps = append(steps, AddPrefix(cfg.Prefix))
	}
	if cfg.Regex != "" {
		re, err := regexp.Compile(cfg.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", cfg.Regex, err)
		}
		steps = append(steps, ReplacePath(re, cfg.Replacement))
	}
	if len(cfg.Query.Set) > 0 {
		steps = append(steps, SetQuery(cfg.Query.Set))
	}
	if len(cfg.Query.Remove) > 0 {
		steps = append(steps, RemoveQuery(cfg.Query.Remove))
	}
	return NewURIRewriter(steps...), nil
}

// CompileChange compiles change steps: set headers, add headers, remove
// headers, host. Header values may reference $variables.
func CompileChange(cfg *config.ChangeConfig) *Changer {
	if cfg == nil {
		return nil
	}

	resolver := variables.NewResolver()
	var steps []ChangeStep
	if len(cfg.SetHeaders) > 0 {
		steps = append(steps, headerStep(resolver, cfg.SetHeaders, http.Header.Set))
	}
	if len(cfg.AddHeaders) > 0 {
		steps = append(steps, headerStep(resolver, cfg.AddHeaders, http.Header.Add))
	}
	if len(cfg.RemoveHeaders) > 0 {
		steps = append(steps, RemoveHeaders(cfg.RemoveHeaders...))
	}
	if cfg.Host != "" {
		steps = append(steps, SetHost(cfg.Host))
	}
	return NewChanger(steps...)
}

// StripPrefix removes prefix from the path, leaving at least "/".
func StripPrefix(prefix string) URIStep {
	prefix = strings.TrimSuffix(prefix, "/")
	return func(u *url.URL) *url.URL {
		if prefix == "" || !hasPathPrefix(u.Path, prefix) {
			return u
		}
		u.Path = "/" + strings.TrimPrefix(strings.TrimPrefix(u.Path, prefix), "/")
		u.RawPath = ""
		return u
	}
}

// AddPrefix prepends prefix to the path.
func AddPrefix(prefix string) URIStep {
	return func(u *url.URL) *url.URL {
		u.Path = joinPath(prefix, u.Path)
		u.RawPath = ""
		return u
	}
}

// ReplacePath replaces regex matches in the path. The replacement may use
// $1 style group references.
func ReplacePath(re *regexp.Regexp, replacement string) URIStep {
	return func(u *url.URL) *url.URL {
		u.Path = re.ReplaceAllString(u.Path, replacement)
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
		return u
	}
}

// SetQuery sets query parameters, replacing existing values.
func SetQuery(params map[string]string) URIStep {
	return func(u *url.URL) *url.URL {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return u
	}
}

// RemoveQuery deletes query parameters.
func RemoveQuery(names []string) URIStep {
	return func(u *url.URL) *url.URL {
		q := u.Query()
		for _, k := range names {
			q.Del(k)
		}
		u.RawQuery = q.Encode()
		return u
	}
}

func headerStep(resolver *variables.Resolver, headers map[string]string, apply func(http.Header, string, string)) ChangeStep {
	templates := make(map[string]*variables.Template, len(headers))
	for name, value := range headers {
		templates[name] = variables.ParseTemplate(value)
	}
	return func(out, in *http.Request) *http.Request {
		for name, tpl := range templates {
			apply(out.Header, name, resolver.Render(tpl, in))
		}
		return out
	}
}

// RemoveHeaders deletes headers from the outbound request.
func RemoveHeaders(names ...string) ChangeStep {
	return func(out, _ *http.Request) *http.Request {
		for _, name := range names {
			out.Header.Del(name)
		}
		return out
	}
}

// SetHost overrides the outbound Host header.
func SetHost(host string) ChangeStep {
	return func(out, _ *http.Request) *http.Request {
		out.Host = host
		return out
	}
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return &url.URL{Path: "/"}
	}
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}

func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// joinPath joins two URL paths with a single slash
func joinPath(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
