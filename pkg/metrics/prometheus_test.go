package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordTransition("streaming", "reconnecting")
	r.RecordTransition("streaming", "reconnecting")
	r.RecordReconnect()
	r.RecordPoll("ok")
	r.RecordCacheLookup("hit")
	r.RecordCacheLookup("miss")
	r.SetActiveJobs(1)
	r.RecordLatency("render", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitions.WithLabelValues("streaming", "reconnecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.activeJobs))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Positive(t, n)
}
