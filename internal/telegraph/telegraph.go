// Package telegraph carries prompts to claimants and handoff alerts to staff
// chat channels.
package telegraph

import (
	"context"

	"go.uber.org/multierr"

	"github.com/zulandar/perito/internal/dialogue"
)

// Dispatcher delivers one prompt to a claimant identity.
type Dispatcher interface {
	Dispatch(ctx context.Context, to string, p dialogue.Prompt) error
}

// Notifier posts a staff alert to one chat platform.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}

// Alert is a handoff formatted for display in a staff channel.
type Alert struct {
	Title    string  // headline, e.g. "Handoff: whatsapp:+34600111222"
	Body     string  // detail text
	Severity string  // "info", "warning", "error"
	Color    string  // sidebar color hint, e.g. "#e01e5a"
	Fields   []Field // key-value metadata pairs
}

// Field is a key-value pair displayed in an alert.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Severity colors.
const (
	ColorInfo    = "#36a64f"
	ColorWarning = "#daa038"
	ColorError   = "#e01e5a"
)

// Broadcast sends alert to every notifier and returns the combined error of
// the ones that failed. One failing channel does not stop the others.
func Broadcast(ctx context.Context, notifiers []Notifier, alert Alert) error {
	var err error
	for _, n := range notifiers {
		err = multierr.Append(err, n.Notify(ctx, alert))
	}
	return err
}
