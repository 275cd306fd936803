package latency

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-call/core/latency"

var (
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	stageDuration metric.Float64Histogram
)

func init() {
	var err error
	stageDuration, err = meter.Float64Histogram("ema_call.stage.duration",
		metric.WithDescription("Duration of a reply pipeline stage"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Error("failed to create stage duration histogram", "error", err)
	}
}
