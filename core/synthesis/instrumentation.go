package synthesis

import (
	"context"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-call/core/synthesis"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	retryCounter metric.Int64Counter
	pendingGauge metric.Int64ObservableGauge
)

func init() {
	var err error
	retryCounter, err = meter.Int64Counter("ema_call.synthesis.retries",
		metric.WithDescription("Synthesis calls retried after the provider rate limited them"),
	)
	if err != nil {
		logger.Error("failed to create synthesis retry counter", "error", err)
	}

	pendingGauge, err = meter.Int64ObservableGauge("ema_call.synthesis.pending",
		metric.WithDescription("Spans waiting for a synthesis worker, per shared provider queue"),
		metric.WithInt64Callback(observeSharedPending),
	)
	if err != nil {
		logger.Error("failed to create synthesis pending gauge", "error", err)
	}
}

func observeSharedPending(_ context.Context, observer metric.Int64Observer) error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	for key, queue := range sharedQueues {
		observer.Observe(int64(queue.Pending()), metric.WithAttributes(attribute.String("provider", key)))
	}
	return nil
}
