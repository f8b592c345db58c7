// internal/notify/notify.go
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/config"
)

// Notifier delivers free text messages to an address. Notify never reports
// failure to the caller; Close waits for sends still in flight.
type Notifier interface {
	Notify(ctx context.Context, address, message string)
	Close(ctx context.Context) error
}

// New returns the notifier described by cfg. When delivery is disabled or no
// application token is configured, messages are only logged.
func New(cfg config.NotifyConfig, logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return NewLogNotifier(logger)
	}
	if cfg.Token == "" {
		logger.Warn("Notifications are enabled but notify.token is empty; messages will only be logged.")
		return NewLogNotifier(logger)
	}
	return NewPushover(cfg, logger)
}

// LogNotifier writes every message to the log and nothing else.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, address, message string) {
	n.logger.Info(message, zap.Bool("has_address", address != ""))
}

func (n *LogNotifier) Close(context.Context) error { return nil }
