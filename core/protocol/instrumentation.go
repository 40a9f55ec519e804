package protocol

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-realtime/core/protocol"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	sentEvents, _     = meter.Int64Counter("protocol.sent_events")
	droppedEvents, _  = meter.Int64Counter("protocol.dropped_events")
	decodeFailures, _ = meter.Int64Counter("protocol.decode_failures")
)
