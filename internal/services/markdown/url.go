package markdown

import (
	"net/url"
	"strings"
)

// SafeURL returns raw when it is an http(s) or scheme-relative URL and "#" otherwise.
func SafeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "#"
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "#"
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https":
		return raw
	default:
		return "#"
	}
}
