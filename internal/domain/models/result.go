package models

import (
	"fmt"
	"strings"
)

// AnalysisResult is the backend's opaque result document.
type AnalysisResult map[string]interface{}

// ReportTab names a report view, in display priority order.
type ReportTab string

const (
	TabMarket       ReportTab = "market"
	TabFundamentals ReportTab = "fundamentals"
	TabNews         ReportTab = "news"
	TabSentiment    ReportTab = "sentiment"
	TabRisk         ReportTab = "risk"
	TabDebate       ReportTab = "debate"
)

// ReportTabs lists tabs in the order the first populated one is picked.
var ReportTabs = []ReportTab{TabMarket, TabFundamentals, TabNews, TabSentiment, TabRisk, TabDebate}

// ReportKeys maps a tab to its field in the result state.
var ReportKeys = map[ReportTab]string{
	TabMarket:       "market_report",
	TabFundamentals: "fundamentals_report",
	TabNews:         "news_report",
	TabSentiment:    "sentiment_report",
	TabRisk:         "risk_assessment",
	TabDebate:       "investment_debate_state",
}

// ParseReportTab validates a tab name.
func ParseReportTab(s string) (ReportTab, bool) {
	t := ReportTab(s)
	_, ok := ReportKeys[t]
	return t, ok
}

// Object returns the nested object under key, or nil.
func (r AnalysisResult) Object(key string) map[string]interface{} {
	if r == nil {
		return nil
	}
	m, _ := r[key].(map[string]interface{})
	return m
}

// String returns the string under key, or "".
func (r AnalysisResult) String(key string) string {
	if r == nil {
		return ""
	}
	s, _ := r[key].(string)
	return s
}

// State returns the state object, merged with state_en when lang is English.
func (r AnalysisResult) State(lang Lang) map[string]interface{} {
	return r.localized("state", lang)
}

// Decision returns the decision object, merged with decision_en when lang is English.
func (r AnalysisResult) Decision(lang Lang) map[string]interface{} {
	return r.localized("decision", lang)
}

// HasEnglish reports whether an English variant is present.
func (r AnalysisResult) HasEnglish() bool {
	return r.Object("state_en") != nil || r.Object("decision_en") != nil
}

func (r AnalysisResult) localized(key string, lang Lang) map[string]interface{} {
	base := r.Object(key)
	if lang != LangEN {
		return base
	}
	en := r.Object(key + "_en")
	if en == nil {
		return base
	}
	return MergeShallow(base, en)
}

// MergeShallow copies base then overlays override; overlapping keys take override's value.
func MergeShallow(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// FirstReportTab picks the first tab whose field in the base state is populated.
// The base state is used regardless of language.
func (r AnalysisResult) FirstReportTab() (ReportTab, bool) {
	state := r.Object("state")
	if state == nil {
		return "", false
	}
	for _, t := range ReportTabs {
		if truthy(state[ReportKeys[t]]) {
			return t, true
		}
	}
	return "", false
}

// Report returns the localized state field backing tab.
func (r AnalysisResult) Report(tab ReportTab, lang Lang) interface{} {
	state := r.State(lang)
	if state == nil {
		return nil
	}
	return state[ReportKeys[tab]]
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	default:
		return true
	}
}

// DebateState is the structured debate payload. Either the bull/bear/judge trio or
// the risk trio is populated depending on which debate it is.
type DebateState struct {
	BullHistory    string `json:"bull_history"`
	BearHistory    string `json:"bear_history"`
	RiskyHistory   string `json:"risky_history"`
	SafeHistory    string `json:"safe_history"`
	NeutralHistory string `json:"neutral_history"`
	JudgeDecision  string `json:"judge_decision"`
}

// DecodeDebate converts a raw state value into a DebateState. A plain string is
// returned as text with isObject=false so the caller can render it as markdown.
// Fields holding something other than a string are left empty and named in err;
// the other fields are still decoded.
func DecodeDebate(v interface{}) (state DebateState, text string, isObject bool, err error) {
	switch x := v.(type) {
	case string:
		return DebateState{}, x, false, nil
	case map[string]interface{}:
		fields := []struct {
			key string
			dst *string
		}{
			{"bull_history", &state.BullHistory},
			{"bear_history", &state.BearHistory},
			{"risky_history", &state.RiskyHistory},
			{"safe_history", &state.SafeHistory},
			{"neutral_history", &state.NeutralHistory},
			{"judge_decision", &state.JudgeDecision},
		}
		var bad []string
		for _, f := range fields {
			raw, present := x[f.key]
			if !present || raw == nil {
				continue
			}
			s, ok := raw.(string)
			if !ok {
				bad = append(bad, fmt.Sprintf("%s (%T)", f.key, raw))
				continue
			}
			*f.dst = s
		}
		if len(bad) > 0 {
			err = fmt.Errorf("debate fields are not text: %s", strings.Join(bad, ", "))
		}
		return state, "", true, err
	default:
		return DebateState{}, "", false, nil
	}
}
