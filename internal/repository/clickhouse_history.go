package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TradeDesk/internal/domain/models"
	domrepo "TradeDesk/internal/domain/repository"
	pkgch "TradeDesk/pkg/clickhouse"
	applogger "TradeDesk/pkg/logger"
)

// HistoryTable is the archive table name.
const HistoryTable = "analysis_history"

// HistorySchema creates the archive table. ReplacingMergeTree keyed by event id
// collapses redelivered events.
var HistorySchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + HistoryTable + ` (
		event_id     String,
		analysis_id  String,
		symbol       LowCardinality(String),
		status       LowCardinality(String),
		error        String,
		elapsed_ms   Int64,
		cached       Bool,
		action       LowCardinality(String),
		finished_at  DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree
	ORDER BY (symbol, finished_at, event_id)`,
}

// ClickHouseHistoryStore implements HistoryStore backed by ClickHouse.
type ClickHouseHistoryStore struct {
	client *pkgch.Client
	db     *sql.DB
	l      *applogger.Logger
}

func NewClickHouseHistoryStore(ch *pkgch.Client, l *applogger.Logger) *ClickHouseHistoryStore {
	return &ClickHouseHistoryStore{client: ch, db: ch.DB(), l: l.Named("history_store")}
}

func (s *ClickHouseHistoryStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, HistorySchema)
}

func (s *ClickHouseHistoryStore) Insert(ctx context.Context, ev models.FinalizedEvent) error {
	const q = `INSERT INTO ` + HistoryTable + ` (event_id, analysis_id, symbol, status, error, elapsed_ms, cached, action, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		ev.EventID,
		ev.AnalysisID,
		ev.Symbol,
		ev.Status,
		ev.Error,
		ev.ElapsedMS,
		ev.Cached,
		ev.Action,
		ev.FinishedAt.UTC(),
	)
	if err != nil {
		s.l.Error("clickhouse insert history error",
			applogger.String("analysis_id", ev.AnalysisID),
			applogger.Error(err),
		)
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// Recent returns the newest limit rows, newest first.
func (s *ClickHouseHistoryStore) Recent(ctx context.Context, limit int) ([]models.FinalizedEvent, error) {
	start := time.Now()
	const q = `
		SELECT event_id, analysis_id, symbol, status, error, elapsed_ms, cached, action, finished_at
		FROM ` + HistoryTable + ` FINAL
		ORDER BY finished_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]models.FinalizedEvent, 0, limit)
	for rows.Next() {
		var ev models.FinalizedEvent
		if err := rows.Scan(&ev.EventID, &ev.AnalysisID, &ev.Symbol, &ev.Status, &ev.Error,
			&ev.ElapsedMS, &ev.Cached, &ev.Action, &ev.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse recent history ok",
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *ClickHouseHistoryStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *ClickHouseHistoryStore) Close() error {
	return s.client.Close()
}

var _ domrepo.HistoryStore = (*ClickHouseHistoryStore)(nil)
