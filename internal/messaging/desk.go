package messaging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/perito/internal/telegraph"
)

// Request describes one conversation that needs a human.
type Request struct {
	ConversationID string
	Source         string
	Reason         string
	Stage          string
	Detail         string
	Fields         map[string]string
}

// Desk raises handoffs: it records the inbox row, runs the notify command
// and posts an alert to every staff channel.
type Desk struct {
	db        *gorm.DB
	notifiers []telegraph.Notifier
	command   string
	log       *zap.Logger
	now       func() time.Time
}

// DeskOpts configures a Desk.
type DeskOpts struct {
	DB            *gorm.DB
	Notifiers     []telegraph.Notifier
	NotifyCommand string
	Logger        *zap.Logger
	Now           func() time.Time
}

// NewDesk creates a Desk.
func NewDesk(opts DeskOpts) *Desk {
	d := &Desk{
		db:        opts.DB,
		notifiers: opts.Notifiers,
		command:   opts.NotifyCommand,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Raise records an urgent handoff and alerts staff. Only the inbox write can
// fail the call; notification failures are logged.
func (d *Desk) Raise(ctx context.Context, req Request) error {
	subject := fmt.Sprintf("Handoff %s: %s", req.ConversationID, req.Reason)
	h, err := Send(d.db, req.ConversationID, req.Reason, subject, req.Detail, SendOpts{
		Source:   req.Source,
		Priority: PriorityUrgent,
		At:       d.now(),
	})
	if err != nil {
		return err
	}
	d.log.Info("handoff raised",
		zap.Uint("handoff", h.ID),
		zap.String("conversation", req.ConversationID),
		zap.String("reason", req.Reason))

	Notify(ctx, h, NotifyConfig{Command: d.command, Logger: d.log})

	if err := telegraph.Broadcast(ctx, d.notifiers, alertFor(req, subject)); err != nil {
		d.log.Warn("handoff alert failed", zap.Uint("handoff", h.ID), zap.Error(err))
	}
	return nil
}

func alertFor(req Request, title string) telegraph.Alert {
	a := telegraph.Alert{
		Title:    title,
		Body:     req.Detail,
		Severity: "warning",
		Color:    telegraph.ColorWarning,
		Fields: []telegraph.Field{
			{Name: "Conversation", Value: req.ConversationID, Short: true},
			{Name: "Reason", Value: req.Reason, Short: true},
		},
	}
	if req.Reason == ReasonDispatchFailures {
		a.Severity = "error"
		a.Color = telegraph.ColorError
	}
	if req.Stage != "" {
		a.Fields = append(a.Fields, telegraph.Field{Name: "Stage", Value: req.Stage, Short: true})
	}
	for _, k := range []string{"claim_ref", "insured_name", "claim_type_label", "severity_band"} {
		if v := req.Fields[k]; v != "" {
			a.Fields = append(a.Fields, telegraph.Field{Name: k, Value: v, Short: true})
		}
	}
	return a
}
