package intake

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zulandar/perito/internal/compose"
	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/identity"
	"github.com/zulandar/perito/internal/models"
	"github.com/zulandar/perito/internal/store"
	"github.com/zulandar/perito/internal/sweep"
)

// Contact is the claim data an outbound-initiated conversation opens with.
type Contact struct {
	ClaimRef     string
	InsuredName  string
	Address      string
	IncidentDate string
}

func (ct Contact) fields() map[string]string {
	out := map[string]string{}
	for k, v := range map[string]string{
		dialogue.FieldClaimRef:     ct.ClaimRef,
		dialogue.FieldInsuredName:  ct.InsuredName,
		dialogue.FieldAddress:      ct.Address,
		dialogue.FieldIncidentDate: ct.IncidentDate,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// ContactResult reports what StartContact did.
type ContactResult struct {
	Conversation *models.Conversation
	Prompt       dialogue.Prompt
	Sent         bool
	Err          error // dispatch failure; the conversation is still opened
}

// StartContact opens a conversation with a claimant and sends the initial
// verification prompt. Outside the send window nothing is sent and the
// first reminder is armed for the next window opening. A finished
// conversation for the same claimant is reopened; an active one is left
// alone and ErrActive returned.
func (e *Engine) StartContact(ctx context.Context, rawIdentity string, ct Contact) (*ContactResult, error) {
	if e.opts.Dispatcher == nil {
		return nil, fmt.Errorf("intake: dispatcher is required to start contacts")
	}
	id, err := identity.Normalize(rawIdentity)
	if err != nil {
		e.log.Warn("intake: rejected contact", zap.String("to", rawIdentity), zap.Error(err))
		return nil, fmt.Errorf("intake: %w", err)
	}

	fields := ct.fields()
	p := compose.WithFallback(ctx, e.opts.Composer, compose.Request{
		Key:    dialogue.PromptInitial,
		Kind:   dialogue.FixedChoice,
		Stage:  dialogue.StageInitial,
		Fields: fields,
	})

	now := e.opts.Now()
	open := e.opts.Window.IsWithinWindow(now)
	opened, err := e.opts.Store.Upsert(ctx, id, func(c *models.Conversation) error {
		if c.Revision > 0 && !dialogue.Stage(c.Stage).Terminal() {
			return ErrActive
		}
		reset(c)
		for k, v := range fields {
			c.SetField(k, v)
		}
		c.LastPromptKind = string(p.Kind)
		c.LastPromptKey = string(p.Key)
		c.LastPromptText = p.Text
		next := e.opts.Window.NextWindowStart(now)
		if open {
			next = now.Add(e.opts.Timing.ReminderInterval)
			c.Append(models.ActorSystem, p.Text, string(p.Key), now)
		}
		c.NextReminderAt = &next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("intake: start contact %s: %w", id, err)
	}

	res := &ContactResult{Conversation: opened, Prompt: p}
	if !open {
		e.log.Info("intake: contact deferred to send window",
			zap.String("conversation", id), zap.Timep("first_send", opened.NextReminderAt))
		return res, nil
	}

	dctx, cancel := e.dispatchContext(ctx)
	res.Err = e.opts.Dispatcher.Dispatch(dctx, id, p)
	cancel()
	if res.Err == nil {
		res.Sent = true
		return res, nil
	}

	e.log.Warn("intake: initial dispatch failed", zap.String("conversation", id), zap.Error(res.Err))
	updated, err := e.opts.Store.Upsert(ctx, id, func(c *models.Conversation) error {
		if c.Stage != string(dialogue.StageInitial) || c.Status != string(dialogue.StatusPending) {
			return store.ErrUnchanged
		}
		c.DispatchFailures++
		due := now
		c.NextReminderAt = &due
		return nil
	})
	if err == nil {
		res.Conversation = updated
	}
	return res, nil
}

// reset returns c to a fresh initial conversation. History is kept.
func reset(c *models.Conversation) {
	c.Stage = string(dialogue.StageInitial)
	c.Status = string(dialogue.StatusPending)
	c.Fields = nil
	c.Attempts = 0
	c.Unparsed = 0
	c.DispatchFailures = 0
	c.EscalatedAt = nil
	c.CompletedAt = nil
	sweep.ClearTimers(c)
	sweep.ClearReturn(c)
	sweep.ClearLease(c)
}

// Reset returns a conversation to its initial stage, keeping claim data and
// history, without sending anything.
func (e *Engine) Reset(ctx context.Context, rawIdentity string) (*models.Conversation, error) {
	id, err := identity.Normalize(rawIdentity)
	if err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	now := e.opts.Now()
	c, err := e.opts.Store.Upsert(ctx, id, func(c *models.Conversation) error {
		if c.Revision == 0 {
			return store.ErrUnchanged
		}
		keep := map[string]string{}
		for _, k := range []string{dialogue.FieldClaimRef, dialogue.FieldInsuredName, dialogue.FieldAddress, dialogue.FieldIncidentDate} {
			if v := c.Field(k); v != "" {
				keep[k] = v
			}
		}
		reset(c)
		for k, v := range keep {
			c.SetField(k, v)
		}
		e.stagePrompt(c)
		e.armReminder(c, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("intake: reset %s: %w", id, err)
	}
	return c, nil
}
