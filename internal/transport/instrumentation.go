package transport

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-call/internal/transport"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	activeSessions metric.Int64UpDownCounter
	droppedChunks  metric.Int64Counter
)

func init() {
	var err error
	activeSessions, err = meter.Int64UpDownCounter("ema_call.sessions.active",
		metric.WithDescription("Number of connected call sessions"))
	if err != nil {
		logger.Error("failed to create active sessions counter", "error", err)
	}

	droppedChunks, err = meter.Int64Counter("ema_call.audio_chunks.dropped",
		metric.WithDescription("Inbound audio chunks dropped as duplicates or while a reply was in flight"))
	if err != nil {
		logger.Error("failed to create dropped chunks counter", "error", err)
	}
}
