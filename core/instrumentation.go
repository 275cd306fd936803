package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-call/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	generationCounter metric.Int64Counter
)

func init() {
	var err error
	generationCounter, err = meter.Int64Counter("ema_call.generations",
		metric.WithDescription("Completed reply generations by outcome"),
	)
	if err != nil {
		logger.Error("failed to create generation counter", "error", err)
	}
}
