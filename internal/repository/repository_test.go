package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"TradeDesk/internal/domain/models"
	domrepo "TradeDesk/internal/domain/repository"
	"TradeDesk/pkg/cache"
	pkgkafka "TradeDesk/pkg/kafka"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseKV(t *testing.T, kv domrepo.KVStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "watchlist")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Put(ctx, "watchlist", `["AAPL"]`))
	require.NoError(t, kv.Put(ctx, "watchlist", `["AAPL","MSFT"]`))
	v, ok, err := kv.Get(ctx, "watchlist")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["AAPL","MSFT"]`, v)

	require.NoError(t, kv.Delete(ctx, "watchlist"))
	_, ok, err = kv.Get(ctx, "watchlist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheKVStore(t *testing.T) {
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	exerciseKV(t, NewCacheKVStore(mem, "kv"))
}

func TestSQLiteKVStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "kv.db")
	kv, err := OpenSQLiteKVStore(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	exerciseKV(t, kv)

	require.NoError(t, kv.Put(context.Background(), "theme", "dark"))
	require.NoError(t, kv.Close())

	reopened, err := OpenSQLiteKVStore(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	v, ok, err := reopened.Get(context.Background(), "theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", v)
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaEventPublisher(t *testing.T) {
	w := &recordingWriter{}
	pub := NewKafkaEventPublisher(pkgkafka.NewProducerWithWriter(w, "none", nil), "analysis.events")

	ev := models.FinalizedEvent{
		EventID:    "e-1",
		AnalysisID: "analysis_abcdefghijklmnop",
		Symbol:     "AAPL",
		Status:     "completed",
		ElapsedMS:  61000,
		Action:     "BUY",
		FinishedAt: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.PublishFinalized(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	m := w.msgs[0]
	assert.Equal(t, "analysis.events", m.Topic)
	assert.Equal(t, []byte(ev.AnalysisID), m.Key)
	assert.Equal(t, "e-1", pkgkafka.ExtractTraceID(m))
	assert.JSONEq(t, `{
		"event_id":"e-1","analysis_id":"analysis_abcdefghijklmnop","symbol":"AAPL",
		"status":"completed","elapsed_ms":61000,"cached":false,"action":"BUY",
		"finished_at":"2025-03-14T10:00:00Z"
	}`, string(m.Value))

	w.err = errors.New("broker down")
	err := pub.PublishFinalized(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}
