package collab

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier records notifications to the log instead of delivering
// them. Used in development and whenever no mail transport is
// configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, template, recipient string, data map[string]any) bool {
	if ctx.Err() != nil {
		return false
	}
	n.log.Info("notification",
		zap.String("template", template),
		zap.String("recipient", recipient),
		zap.Any("data", data),
	)
	return true
}
