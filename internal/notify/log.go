package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink stands in for a transport when none is configured.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(_ context.Context, event Event) error {
	s.log.Info("notification",
		zap.String("type", string(event.Type)),
		zap.String("tenant_id", event.TenantID.String()),
		zap.String("obligation_id", event.ObligationID.String()),
		zap.String("student_id", event.StudentID.String()),
		zap.String("amount", event.Amount.StringFixed(2)),
	)
	return nil
}
