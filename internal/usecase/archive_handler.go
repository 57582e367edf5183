package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TradeDesk/internal/domain/models"
	drepo "TradeDesk/internal/domain/repository"
	pkgkafka "TradeDesk/pkg/kafka"
	applogger "TradeDesk/pkg/logger"
)

// ArchiveHandler consumes finalized-analysis events and writes them to the history store.
type ArchiveHandler struct {
	topic   string
	store   drepo.HistoryStore
	metrics drepo.Metrics
	log     *applogger.Logger
}

func NewArchiveHandler(topic string, store drepo.HistoryStore, metrics drepo.Metrics, log *applogger.Logger) *ArchiveHandler {
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	return &ArchiveHandler{topic: topic, store: store, metrics: metrics, log: log.Named("archive")}
}

func (h *ArchiveHandler) Topic() string { return h.topic }

// Handle stores one event. Undecodable payloads are dropped since no retry can fix them.
func (h *ArchiveHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.FinalizedEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		h.log.Warn("dropping undecodable event", applogger.Error(err))
		return nil
	}
	if ev.AnalysisID == "" || ev.EventID == "" {
		h.metrics.RecordError("consumer_invalid")
		h.log.Warn("dropping event without ids", applogger.String("symbol", ev.Symbol))
		return nil
	}
	if ev.FinishedAt.IsZero() {
		ev.FinishedAt = time.Now().UTC()
	}

	start := time.Now()
	err := h.store.Insert(ctx, ev)
	h.metrics.RecordLatency("history_insert", time.Since(start))
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return fmt.Errorf("archive %s: %w", ev.AnalysisID, err)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*ArchiveHandler)(nil)
