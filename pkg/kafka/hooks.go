package kafka

import (
	"context"
	"time"

	applogger "TradeDesk/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook runs around message handling. A BeforeHandle error skips the
// handler and sends the message down the error path (OnError, DLQ, commit).
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, []byte, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, err error)
}

// NoopHook does nothing.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, _ kafka.Message, data []byte) (context.Context, []byte, error) {
	return ctx, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, error) {}

type ctxKey string

const (
	// CtxStartTime holds time.Time for when handling started.
	CtxStartTime ctxKey = "kafka_hook_start_time"
	// CtxTraceID holds the correlation id taken from the trace_id header.
	CtxTraceID ctxKey = "kafka_hook_trace_id"
)

// TraceIDFrom returns the trace id stored by TraceHook, if any.
func TraceIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(CtxTraceID).(string)
	return v
}

// ExtractTraceID returns the trace_id header value.
func ExtractTraceID(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == "trace_id" && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return ""
}

// TraceHook copies the trace id into the context and logs slow or failed handling.
type TraceHook struct {
	Log  *applogger.Logger
	Slow time.Duration
}

func (h TraceHook) BeforeHandle(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, []byte, error) {
	ctx = context.WithValue(ctx, CtxStartTime, time.Now())
	if id := ExtractTraceID(km); id != "" {
		ctx = context.WithValue(ctx, CtxTraceID, id)
	}
	return ctx, data, nil
}

func (h TraceHook) AfterHandle(ctx context.Context, topic string, km kafka.Message, err error) {
	start, _ := ctx.Value(CtxStartTime).(time.Time)
	elapsed := time.Since(start)
	fields := []applogger.Field{
		applogger.String("topic", topic),
		applogger.Int("partition", km.Partition),
		applogger.Int64("offset", km.Offset),
		applogger.String("trace_id", TraceIDFrom(ctx)),
		applogger.Duration("duration_ms", elapsed),
	}
	switch {
	case err != nil:
		h.Log.Warn("message handling failed", append(fields, applogger.Error(err))...)
	case h.Slow > 0 && elapsed >= h.Slow:
		h.Log.Warn("message handling slow", fields...)
	}
}
