package variables

import (
	"regexp"
	"strings"
)

// varPattern matches $variable_name
var varPattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)`)

// HasVariables returns true if the template contains variables
func HasVariables(template string) bool {
	return varPattern.MatchString(template)
}

// ParseDynamic splits a prefixed variable name.
// e.g., "http_x_tenant" returns ("http", "x_tenant")
// e.g., "arg_page" returns ("arg", "page")
func ParseDynamic(name string) (prefix, suffix string, ok bool) {
	for _, p := range [...]string{"http_", "arg_", "cookie_", "custom_"} {
		if strings.HasPrefix(name, p) && len(name) > len(p) {
			return p[:len(p)-1], name[len(p):], true
		}
	}
	return "", "", false
}

// NormalizeHeaderName converts x_custom_header to X-Custom-Header
func NormalizeHeaderName(name string) string {
	buf := make([]byte, len(name))
	upper := true
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_' || c == '-':
			buf[i] = '-'
			upper = true
		case upper:
			if c >= 'a' && c <= 'z' {
				c -= 32
			}
			buf[i] = c
			upper = false
		default:
			if c >= 'A' && c <= 'Z' {
				c += 32
			}
			buf[i] = c
		}
	}
	return string(buf)
}

// Template is a string with $variables split out at config time.
type Template struct {
	Raw     string
	Parts   []TemplatePart
	HasVars bool
}

// TemplatePart represents either literal text or a variable
type TemplatePart struct {
	IsVariable bool
	Value      string // literal text or variable name
}

// ParseTemplate parses a template string into parts
func ParseTemplate(template string) *Template {
	t := &Template{Raw: template}

	indices := varPattern.FindAllStringSubmatchIndex(template, -1)
	if len(indices) == 0 {
		t.Parts = []TemplatePart{{Value: template}}
		return t
	}

	t.HasVars = true
	lastEnd := 0
	for _, loc := range indices {
		if loc[0] > lastEnd {
			t.Parts = append(t.Parts, TemplatePart{Value: template[lastEnd:loc[0]]})
		}
		t.Parts = append(t.Parts, TemplatePart{IsVariable: true, Value: template[loc[2]:loc[3]]})
		lastEnd = loc[1]
	}
	if lastEnd < len(template) {
		t.Parts = append(t.Parts, TemplatePart{Value: template[lastEnd:]})
	}
	return t
}

// Render renders the template with the given value function
func (t *Template) Render(getValue func(name string) string) string {
	if !t.HasVars {
		return t.Raw
	}

	var b strings.Builder
	b.Grow(len(t.Raw))
	for _, part := range t.Parts {
		if part.IsVariable {
			b.WriteString(getValue(part.Value))
		} else {
			b.WriteString(part.Value)
		}
	}
	return b.String()
}
