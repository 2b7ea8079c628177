package fallback

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// Rule is a data-only fallback responder. A rule with keywords or a
// pattern matches when one of them occurs in the query and its capability
// hint, if any, does not name a different capability. A rule with only a
// hint matches every task of that capability. A rule with neither hint nor
// predicate matches everything.
type Rule struct {
	Name       string            `yaml:"name"`
	Capability string            `yaml:"capability,omitempty"`
	Keywords   []string          `yaml:"keywords,omitempty"`
	Pattern    string            `yaml:"pattern,omitempty"`
	Template   string            `yaml:"template"`
	Confidence float64           `yaml:"confidence"`
	Data       map[string]string `yaml:"data,omitempty"`

	re   *regexp.Regexp
	tmpl *template.Template
}

// templateData is what a rule template renders against.
type templateData struct {
	Query      string
	Capability string
	Params     map[string]string
}

// compile validates the rule and prepares its pattern and template.
func (r *Rule) compile() error {
	if r.Name == "" {
		return fmt.Errorf("rule without name")
	}
	if r.Template == "" {
		return fmt.Errorf("rule %s: empty template", r.Name)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("rule %s: confidence %.2f out of range [0,1]", r.Name, r.Confidence)
	}
	if r.Pattern != "" {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: bad pattern: %w", r.Name, err)
		}
		r.re = re
	}
	tmpl, err := template.New(r.Name).Option("missingkey=zero").Parse(r.Template)
	if err != nil {
		return fmt.Errorf("rule %s: bad template: %w", r.Name, err)
	}
	r.tmpl = tmpl

	kw := make([]string, 0, len(r.Keywords))
	for _, k := range r.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	r.Keywords = kw
	return nil
}

// matches applies the rule predicate to a query and its lowercased form.
func (r *Rule) matches(lowerQuery, query, capability string) bool {
	if r.Capability != "" && capability != "" && !strings.EqualFold(r.Capability, capability) {
		return false
	}
	if len(r.Keywords) == 0 && r.re == nil {
		return r.Capability == "" || capability != ""
	}
	for _, k := range r.Keywords {
		if strings.Contains(lowerQuery, k) {
			return true
		}
	}
	return r.re != nil && r.re.MatchString(query)
}

// render executes the template.
func (r *Rule) render(query, capability string, params map[string]string) (string, error) {
	if params == nil {
		params = map[string]string{}
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, templateData{Query: query, Capability: capability, Params: params}); err != nil {
		return "", fmt.Errorf("render rule %s: %w", r.Name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
