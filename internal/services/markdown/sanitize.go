package markdown

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer strips everything outside an allow-list from an HTML fragment.
type Sanitizer interface {
	Sanitize(html string) string
}

// AllowedTags are the only elements rendered output may contain.
var AllowedTags = []string{
	"p", "h2", "h3", "h4", "h5", "h6", "strong", "em", "code", "pre",
	"ul", "ol", "li", "table", "thead", "tbody", "tr", "th", "td",
	"br", "hr", "blockquote", "div", "a", "span",
}

// PolicySanitizer is a Sanitizer backed by a bluemonday policy.
type PolicySanitizer struct {
	policy *bluemonday.Policy
}

// NewPolicySanitizer builds the allow-list policy: the tags above plus the
// class, scope, href, target and rel attributes, with links limited to http(s).
func NewPolicySanitizer() *PolicySanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(AllowedTags...)
	p.AllowAttrs("class").Globally()
	p.AllowAttrs("scope").OnElements("th", "td")
	p.AllowAttrs("href", "target", "rel").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	return &PolicySanitizer{policy: p}
}

func (s *PolicySanitizer) Sanitize(html string) string {
	return s.policy.Sanitize(html)
}

var fallbackEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeAll renders s as preformatted plain text with every markup character escaped.
// It is what callers get when no sanitizer is available.
func EscapeAll(s string) string {
	return `<pre style="white-space:pre-wrap">` + fallbackEscaper.Replace(s) + `</pre>`
}
