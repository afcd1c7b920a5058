package relay

import (
	"bytes"
	_ "embed"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"text/template"

	"github.com/bytedance/sonic"
)

//go:embed worker.js.tmpl
var workerSource string

var workerTemplate = template.Must(template.New("worker").Parse(workerSource))

// InterceptRule routes requests whose host and path match to a local target
type InterceptRule struct {
	// Pattern is a hostname; subdomains match too
	Pattern    string `json:"pattern"`
	PathPrefix string `json:"pathPrefix"`
	// Target is the local path requests are rewritten to
	Target string `json:"target"`
}

// BuildRules converts a local-path to upstream mapping into intercept rules.
// Upstreams look like "https://www.google-analytics.com/**" or
// "cdn.example.com/lib/**"; a missing scheme means https.
func BuildRules(routes map[string]string) ([]InterceptRule, error) {
	rules := make([]InterceptRule, 0, len(routes))
	for local, upstream := range routes {
		raw := strings.TrimSuffix(strings.TrimSuffix(upstream, "/**"), "/*")
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return nil, fmt.Errorf("route %q: invalid upstream %q", local, upstream)
		}
		prefix := u.Path
		if prefix == "" {
			prefix = "/"
		}
		rules = append(rules, InterceptRule{
			Pattern:    strings.ToLower(u.Hostname()),
			PathPrefix: prefix,
			Target:     strings.TrimRight(strings.TrimSuffix(local, "/**"), "/"),
		})
	}
	// longer prefixes first so the most specific rule wins
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Pattern != rules[j].Pattern {
			return rules[i].Pattern < rules[j].Pattern
		}
		if len(rules[i].PathPrefix) != len(rules[j].PathPrefix) {
			return len(rules[i].PathPrefix) > len(rules[j].PathPrefix)
		}
		return rules[i].Target < rules[j].Target
	})
	return rules, nil
}

// Match reports whether u is intercepted by rule
func Match(rule InterceptRule, u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host != rule.Pattern && !strings.HasSuffix(host, "."+rule.Pattern) {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return strings.HasPrefix(path, rule.PathPrefix)
}

// Rewrite returns the local path u is routed to, if any rule matches
func Rewrite(rules []InterceptRule, u *url.URL) (string, bool) {
	for _, rule := range rules {
		if !Match(rule, u) {
			continue
		}
		rest := strings.TrimPrefix(u.Path, rule.PathPrefix)
		if rest != "" && !strings.HasPrefix(rest, "/") {
			rest = "/" + rest
		}
		target := rule.Target + rest
		if u.RawQuery != "" {
			target += "?" + u.RawQuery
		}
		return target, true
	}
	return "", false
}

// Worker renders the service worker script with rules embedded as
// INTERCEPT_RULES
func Worker(rules []InterceptRule) ([]byte, error) {
	if rules == nil {
		rules = []InterceptRule{}
	}
	data, err := sonic.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("encode intercept rules: %w", err)
	}
	var buf bytes.Buffer
	if err := workerTemplate.Execute(&buf, struct{ Rules string }{string(data)}); err != nil {
		return nil, fmt.Errorf("render worker: %w", err)
	}
	return buf.Bytes(), nil
}
