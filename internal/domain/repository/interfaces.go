package repository

import (
	"context"
	"encoding/json"
	"time"

	"TradeDesk/internal/domain/models"
)

// AnalysisAPI is the job side of the analysis backend.
type AnalysisAPI interface {
	Start(ctx context.Context, req models.StartRequest) (models.StartResponse, error)
	Status(ctx context.Context, id string) (models.StatusResponse, error)
	Cancel(ctx context.Context, id string) error
}

// StockContextSource fetches one uncached stock-context snapshot.
type StockContextSource interface {
	StockContext(ctx context.Context, symbol string) (models.StockContext, error)
}

// Catalog covers the readiness and browsing endpoints.
type Catalog interface {
	Health(ctx context.Context) error
	Models(ctx context.Context) (models.ModelCatalog, error)
	Trending(ctx context.Context) (json.RawMessage, error)
	History(ctx context.Context) ([]models.HistoryEntry, error)
}

// Subscription is one open push channel. Messages carries raw event payloads in
// send order and is closed when the channel ends. Errors then yields the cause
// (a clean EOF is reported too) or is closed without a value after a local
// Close. Close is idempotent.
type Subscription interface {
	Messages() <-chan []byte
	Errors() <-chan error
	Close() error
}

// EventStream opens push channels. Open must not block; connection failures are
// reported on the subscription's Errors channel.
type EventStream interface {
	Open(ctx context.Context, jobID string, lang models.Lang) Subscription
}

// EventPublisher ships lifecycle events.
type EventPublisher interface {
	PublishFinalized(ctx context.Context, ev models.FinalizedEvent) error
	Close() error
}

// HistoryStore archives finalized jobs.
type HistoryStore interface {
	Init(ctx context.Context) error
	Insert(ctx context.Context, ev models.FinalizedEvent) error
	Recent(ctx context.Context, limit int) ([]models.FinalizedEvent, error)
	Health(ctx context.Context) error
	Close() error
}

// KVStore is the opaque persistence used by the watchlist.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Notifier raises desktop notifications.
type Notifier interface {
	Foreground() bool
	Notify(title, body string) error
}

type Metrics interface {
	RecordTransition(from, to string)
	RecordReconnect()
	RecordPoll(outcome string)
	RecordCacheLookup(result string)
	RecordError(kind string)
	SetActiveJobs(n int)
	RecordLatency(op string, d time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordTransition(string, string)     {}
func (NopMetrics) RecordReconnect()                    {}
func (NopMetrics) RecordPoll(string)                   {}
func (NopMetrics) RecordCacheLookup(string)            {}
func (NopMetrics) RecordError(string)                  {}
func (NopMetrics) SetActiveJobs(int)                   {}
func (NopMetrics) RecordLatency(string, time.Duration) {}
