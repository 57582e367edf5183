package markdown

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"TradeDesk/internal/domain/models"
	drepo "TradeDesk/internal/domain/repository"
	applogger "TradeDesk/pkg/logger"
)

// Renderer turns untrusted LLM markdown into sanitized HTML fragments.
// A nil sanitizer makes every render fall back to EscapeAll.
type Renderer struct {
	sanitizer Sanitizer
	log       *applogger.Logger
	metrics   drepo.Metrics
}

// Option configures Renderer.
type Option func(*Renderer)

// WithLogger sets the logger used to report the escape fallback.
func WithLogger(l *applogger.Logger) Option {
	return func(r *Renderer) { r.log = l.Named("markdown") }
}

// WithMetrics records render latency.
func WithMetrics(m drepo.Metrics) Option {
	return func(r *Renderer) {
		if m != nil {
			r.metrics = m
		}
	}
}

// New creates a renderer using s.
func New(s Sanitizer, opts ...Option) *Renderer {
	r := &Renderer{sanitizer: s, log: applogger.Nop(), metrics: drepo.NopMetrics{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	codeFenceRe   = regexp.MustCompile("(?s)```([\\w+#.-]*)[ \t]*\n(.*?)```")
	bareHashesRe  = regexp.MustCompile(`(?m)^#{1,6}\s*$`)
	heading6Re    = regexp.MustCompile(`(?m)^#{4,6} (\S.*)$`)
	heading5Re    = regexp.MustCompile(`(?m)^### (\S.*)$`)
	heading4Re    = regexp.MustCompile(`(?m)^## (\S.*)$`)
	heading3Re    = regexp.MustCompile(`(?m)^# (\S.*)$`)
	ruleRe        = regexp.MustCompile(`(?m)^---$`)
	boldRe        = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe      = regexp.MustCompile(`\*(.+?)\*`)
	inlineCodeRe  = regexp.MustCompile("`([^`]+)`")
	linkRe        = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s"]+)\)`)
	htmlEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	placeholderFn = func(i int) string { return fmt.Sprintf("\x00CB%d\x00", i) }
)

// Render converts text. Empty input renders the localized empty state.
func (r *Renderer) Render(text string, lang models.Lang) string {
	if text == "" {
		return r.emptyState(lang)
	}
	start := time.Now()
	out := r.sanitize(toHTML(text))
	r.metrics.RecordLatency("render", time.Since(start))
	return out
}

func (r *Renderer) emptyState(lang models.Lang) string {
	return `<p class="empty-state">` + r.sanitize(label(lang, "no_data")) + `</p>`
}

func (r *Renderer) sanitize(html string) string {
	if r.sanitizer == nil {
		r.log.Warn("sanitizer unavailable, rendering escaped text")
		return EscapeAll(html)
	}
	return r.sanitizer.Sanitize(html)
}

// toHTML runs every transformation stage except sanitizing.
func toHTML(text string) string {
	// fenced code is pulled out before anything can reinterpret it
	var blocks []string
	html := codeFenceRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := codeFenceRe.FindStringSubmatch(m)
		lang := sub[1]
		if lang == "" {
			lang = "text"
		}
		code := htmlEscaper.Replace(strings.TrimRight(sub[2], " \t\r\n"))
		blocks = append(blocks, `<pre><code class="language-`+lang+`">`+code+`</code></pre>`)
		return placeholderFn(len(blocks) - 1)
	})

	html = htmlEscaper.Replace(html)

	html = bareHashesRe.ReplaceAllString(html, "")
	html = replaceTrimmed(heading6Re, html, "<h6>%s</h6>")
	html = replaceTrimmed(heading5Re, html, "<h5>%s</h5>")
	html = replaceTrimmed(heading4Re, html, "<h4>%s</h4>")
	html = replaceTrimmed(heading3Re, html, "<h3>%s</h3>")
	html = ruleRe.ReplaceAllString(html, "<hr>")

	html = boldRe.ReplaceAllString(html, "<strong>$1</strong>")
	html = italicRe.ReplaceAllString(html, "<em>$1</em>")
	html = inlineCodeRe.ReplaceAllString(html, "<code>$1</code>")

	html = linkRe.ReplaceAllString(html, `<a href="$2" target="_blank" rel="noopener noreferrer">$1</a>`)

	html = blockquotes(html)
	html = mergeNumberedLists(html)
	html = lists(html)
	html = tables(html)

	html = strings.ReplaceAll(html, "\n\n", "</p><p>")
	html = strings.ReplaceAll(html, "\n", "<br>")
	html = `<div class="markdown-body"><p>` + html + `</p></div>`

	for i, block := range blocks {
		html = strings.Replace(html, placeholderFn(i), block, 1)
	}
	return html
}

func replaceTrimmed(re *regexp.Regexp, s, format string) string {
	return re.ReplaceAllStringFunc(s, func(m string) string {
		return fmt.Sprintf(format, strings.TrimSpace(re.FindStringSubmatch(m)[1]))
	})
}
