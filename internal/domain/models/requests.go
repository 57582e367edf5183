package models

import "time"

// StartRequest is the analysis form. Tags drive defaults and validation.
type StartRequest struct {
	Symbol        string   `json:"stock_symbol" validate:"required,ticker"`
	AnalysisDate  string   `json:"analysis_date" validate:"required,datetime=2006-01-02"`
	Analysts      []string `json:"analysts" validate:"min=1,dive,oneof=market social news fundamentals"`
	ResearchDepth int      `json:"research_depth" default:"3" validate:"gte=1,lte=5"`
	LLMProvider   string   `json:"llm_provider" default:"openai" validate:"oneof=openai anthropic"`
	LLMModel      string   `json:"llm_model" validate:"required"`
}

// StartResponse is either a pending job or a cached result.
type StartResponse struct {
	AnalysisID string         `json:"analysis_id"`
	Status     string         `json:"status"`
	Result     AnalysisResult `json:"result,omitempty"`
}

// IsCached reports a cache hit carrying a usable result.
func (r StartResponse) IsCached() bool {
	return r.Status == "cached" && len(r.Result) > 0
}

// StatusResponse is the polling snapshot.
type StatusResponse struct {
	AnalysisID  string         `json:"analysis_id"`
	Status      string         `json:"status"`
	StockSymbol string         `json:"stock_symbol"`
	Progress    []string       `json:"progress"`
	Result      AnalysisResult `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// HistoryEntry is one row of the backend's recent-analysis list.
type HistoryEntry struct {
	AnalysisID   string `json:"analysis_id"`
	StockSymbol  string `json:"stock_symbol"`
	AnalysisDate string `json:"analysis_date"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

// ModelInfo describes one selectable LLM.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tier string `json:"tier"`
}

// ModelCatalog maps provider to offered models.
type ModelCatalog map[string][]ModelInfo

// Select resolves provider/model against the catalog: unknown providers fall back to
// the first provider (alphabetically), unknown models to that provider's first model.
func (c ModelCatalog) Select(provider, model string) (string, string) {
	if len(c) == 0 {
		return provider, model
	}
	models, ok := c[provider]
	if !ok {
		provider = ""
		for p := range c {
			if provider == "" || p < provider {
				provider = p
			}
		}
		models = c[provider]
	}
	for _, m := range models {
		if m.ID == model {
			return provider, model
		}
	}
	if len(models) > 0 {
		return provider, models[0].ID
	}
	return provider, model
}

// FinalizedEvent is published once per job when it reaches a terminal state.
type FinalizedEvent struct {
	EventID    string    `json:"event_id"`
	AnalysisID string    `json:"analysis_id"`
	Symbol     string    `json:"symbol"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	Cached     bool      `json:"cached"`
	Action     string    `json:"action,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}
