package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishEncodesJSONAndHeaders(t *testing.T) {
	w := &recordingWriter{}
	reg := prometheus.NewRegistry()
	p := NewProducerWithWriter(w, "snappy", reg)

	err := p.PublishBatch(context.Background(), "events", []Message{{
		Key:     []byte("analysis_1"),
		Value:   map[string]string{"status": "completed"},
		Headers: map[string]string{"trace_id": "t-1"},
	}})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	m := w.msgs[0]
	assert.Equal(t, "events", m.Topic)
	assert.Equal(t, []byte("analysis_1"), m.Key)
	assert.JSONEq(t, `{"status":"completed"}`, string(m.Value))
	assert.Equal(t, "t-1", ExtractTraceID(m))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.msgs.WithLabelValues("events", "snappy", "ok")))
}

func TestPublishReportsWriterError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w, "none", nil)

	err := p.Publish(context.Background(), "events", nil, "raw")
	assert.EqualError(t, err, "broker down")
	assert.Equal(t, []byte("raw"), w.msgs[0].Value)
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 8; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}
