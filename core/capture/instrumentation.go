package capture

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-realtime/core/capture"

var (
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	droppedBuffers, _ = meter.Int64Counter("capture.dropped_buffers",
		metric.WithDescription("Input buffers dropped because they could not be converted or queued"))
)
