package notify

import "go.uber.org/zap"

// ZapSink is a Sink backed by a zap logger, for service deployments where
// "user-visible" notifications land in operator logs instead of a UI toast.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a Sink that writes notifications to the given logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Error(msg string) {
	s.logger.Error("notification", zap.String("message", msg))
}

func (s *ZapSink) Info(msg string) {
	s.logger.Info("notification", zap.String("message", msg))
}
