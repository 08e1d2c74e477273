package messaging

import (
	"context"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/zulandar/perito/internal/models"
)

// NotifyConfig controls how a local command is run for staff handoffs.
type NotifyConfig struct {
	Command string // shell command template, e.g. "notify-send 'Perito' '{{.Subject}}'"
	Logger  *zap.Logger
}

// Notify runs the notify command for a handoff. Best-effort: errors are
// logged, not returned.
func Notify(ctx context.Context, h *models.Handoff, cfg NotifyConfig) {
	if cfg.Command == "" || !shouldNotify(h) {
		return
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", templateHandoff(cfg.Command, h))
	if out, err := cmd.CombinedOutput(); err != nil {
		log.Warn("notify: command failed",
			zap.Uint("handoff", h.ID),
			zap.Error(err),
			zap.String("output", strings.TrimSpace(string(out))))
	}
}

// shouldNotify returns true if the handoff warrants a push notification.
func shouldNotify(h *models.Handoff) bool {
	return h.Recipient == Human || h.Priority == PriorityUrgent
}

// templateHandoff replaces placeholders in the command template with
// handoff values.
func templateHandoff(command string, h *models.Handoff) string {
	r := strings.NewReplacer(
		"{{.Subject}}", h.Subject,
		"{{.Body}}", h.Body,
		"{{.Conversation}}", h.ConversationID,
		"{{.Reason}}", h.Reason,
		"{{.Priority}}", h.Priority,
	)
	return r.Replace(command)
}
