package markdown

import (
	"encoding/json"
	"strings"

	"TradeDesk/internal/domain/models"
	applogger "TradeDesk/pkg/logger"
)

var labels = map[string][2]string{
	"no_data":      {"No data", "暫無資料"},
	"bull":         {"Bull Researcher", "多頭研究員"},
	"bear":         {"Bear Researcher", "空頭研究員"},
	"judge":        {"Research Manager", "研究經理決議"},
	"risky":        {"Aggressive Analyst", "激進分析師"},
	"safe":         {"Conservative Analyst", "保守分析師"},
	"neutral":      {"Neutral Analyst", "中立分析師"},
	"risk_manager": {"Risk Manager", "風險經理決議"},
}

func label(lang models.Lang, key string) string {
	l := labels[key]
	if lang == models.LangEN {
		return l[0]
	}
	return l[1]
}

type section struct {
	key, class, text string
}

// RenderDebate renders the bull/bear/judge trio. Empty sections are skipped
// and the whole block is empty when none is present.
func (r *Renderer) RenderDebate(d models.DebateState, lang models.Lang) string {
	return r.renderSections(lang, []section{
		{"bull", "debate-bull", d.BullHistory},
		{"bear", "debate-bear", d.BearHistory},
		{"judge", "debate-judge", d.JudgeDecision},
	})
}

// RenderRisk renders the aggressive/conservative/neutral analysts and the
// risk manager decision.
func (r *Renderer) RenderRisk(d models.DebateState, lang models.Lang) string {
	return r.renderSections(lang, []section{
		{"risky", "debate-bull", d.RiskyHistory},
		{"safe", "debate-bear", d.SafeHistory},
		{"neutral", "debate-neutral", d.NeutralHistory},
		{"risk_manager", "debate-judge", d.JudgeDecision},
	})
}

// renderSections sanitizes each body once. The assembled wrapper only adds
// fixed markup, so it is not passed through the sanitizer again.
func (r *Renderer) renderSections(lang models.Lang, sections []section) string {
	var b strings.Builder
	for _, s := range sections {
		if strings.TrimSpace(s.text) == "" {
			continue
		}
		b.WriteString(`<div class="debate-section ` + s.class + `"><h3>`)
		b.WriteString(htmlEscaper.Replace(label(lang, s.key)))
		b.WriteString(`</h3><div>`)
		b.WriteString(r.Render(s.text, lang))
		b.WriteString(`</div></div>`)
	}
	if b.Len() == 0 {
		return ""
	}
	return `<div class="debate-content">` + b.String() + `</div>`
}

// RenderReport renders the raw state value behind a report tab. Structured
// debate values get sectioned output; anything else non-textual is shown as
// a JSON code block.
func (r *Renderer) RenderReport(tab models.ReportTab, v interface{}, lang models.Lang) string {
	if tab == models.TabDebate || tab == models.TabRisk {
		state, text, isObject, err := models.DecodeDebate(v)
		if err != nil {
			r.log.Warn("debate partially rendered",
				applogger.String("tab", string(tab)),
				applogger.Error(err),
			)
		}
		if isObject {
			var out string
			if tab == models.TabRisk {
				out = r.RenderRisk(state, lang)
			} else {
				out = r.RenderDebate(state, lang)
			}
			if out == "" {
				return r.emptyState(lang)
			}
			return out
		}
		if text != "" {
			return r.Render(text, lang)
		}
	}

	switch x := v.(type) {
	case nil:
		return r.emptyState(lang)
	case string:
		return r.Render(x, lang)
	default:
		b, err := json.MarshalIndent(x, "", "  ")
		if err != nil {
			r.log.Warn("unrenderable report value", applogger.String("tab", string(tab)))
			return r.emptyState(lang)
		}
		return r.Render("```json\n"+string(b)+"\n```", lang)
	}
}
