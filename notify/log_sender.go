package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes deliveries to the log instead of a real channel. It is
// the default when no mail gateway is configured, and what dev and CI run.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, toEmail, templateID string, payload []byte) error {
	s.log.Info("notification delivered",
		zap.String("to", toEmail),
		zap.String("template", templateID),
		zap.ByteString("payload", payload))
	return nil
}
