package telegraph

import (
	"context"

	"go.uber.org/zap"

	"github.com/zulandar/perito/internal/dialogue"
)

// LogDispatcher "delivers" prompts by logging them. It is the default
// transport for local runs.
type LogDispatcher struct {
	log *zap.Logger
}

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogDispatcher{log: log}
}

// Dispatch implements Dispatcher.
func (d *LogDispatcher) Dispatch(_ context.Context, to string, p dialogue.Prompt) error {
	d.log.Info("outbound prompt",
		zap.String("to", to),
		zap.String("prompt", string(p.Key)),
		zap.String("kind", string(p.Kind)),
		zap.String("text", p.Text))
	return nil
}
