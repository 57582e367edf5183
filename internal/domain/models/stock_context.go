package models

import "time"

// NewsItem is one headline in a stock-context snapshot.
type NewsItem struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
	Date   string `json:"date"`
}

// StockContext is the auxiliary market snapshot shown next to a running job.
// Error is set when the lookup failed; the other fields are then empty.
type StockContext struct {
	Symbol     string     `json:"symbol"`
	Name       string     `json:"name,omitempty"`
	Price      *float64   `json:"price,omitempty"`
	Change     *float64   `json:"change,omitempty"`
	ChangePct  *float64   `json:"change_pct,omitempty"`
	Volume     *float64   `json:"volume,omitempty"`
	MarketCap  *float64   `json:"market_cap,omitempty"`
	PERatio    *float64   `json:"pe_ratio,omitempty"`
	Week52High *float64   `json:"week52_high,omitempty"`
	Week52Low  *float64   `json:"week52_low,omitempty"`
	Beta       *float64   `json:"beta,omitempty"`
	News       []NewsItem `json:"news,omitempty"`
	Error      bool       `json:"error,omitempty"`
}

// StockContextEntry is a cached snapshot with its fetch time.
type StockContextEntry struct {
	Symbol    string       `json:"symbol"`
	Data      StockContext `json:"data"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e StockContextEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) < ttl
}
