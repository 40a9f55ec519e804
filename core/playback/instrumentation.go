package playback

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-realtime/core/playback"

var (
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	scheduledFrames, _ = meter.Int64Counter("playback.scheduled_frames")
	droppedFrames, _   = meter.Int64Counter("playback.dropped_frames")
)
