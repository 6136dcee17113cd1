package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// ConsoleSink logs each event through the service logger. Default sink for
// development and small deployments.
type ConsoleSink struct {
	log *zap.Logger
}

func NewConsoleSink(log *zap.Logger) *ConsoleSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsoleSink{log: log}
}

func (s *ConsoleSink) Write(_ context.Context, events []UsageEvent) error {
	for _, ev := range events {
		s.log.Info("usage",
			zap.String("request_id", ev.RequestID),
			zap.String("moniker", ev.Moniker),
			zap.String("operation", string(ev.Operation)),
			zap.String("outcome", string(ev.Outcome)),
			zap.String("app_id", ev.Caller.AppID),
			zap.String("team", ev.Caller.Team),
			zap.Float64("latency_ms", ev.LatencyMS),
			zap.Bool("deprecated", ev.Deprecated))
	}
	return nil
}

func (s *ConsoleSink) Close() error { return nil }
