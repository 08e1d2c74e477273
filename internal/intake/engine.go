// Package intake handles the inbound side of a conversation: every message a
// claimant sends is read against the current stage and answered, and
// outbound-initiated contacts open new conversations.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zulandar/perito/internal/compose"
	"github.com/zulandar/perito/internal/config"
	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/identity"
	"github.com/zulandar/perito/internal/messaging"
	"github.com/zulandar/perito/internal/models"
	"github.com/zulandar/perito/internal/store"
	"github.com/zulandar/perito/internal/sweep"
	"github.com/zulandar/perito/internal/telegraph"
)

// ErrActive is returned by StartContact when the claimant already has an
// open conversation.
var ErrActive = errors.New("intake: conversation already active")

const defaultClassifyTimeout = 5 * time.Second

// Classifier reads the intent of a reply.
type Classifier interface {
	Classify(ctx context.Context, text string) (dialogue.Classification, error)
}

// Timing is the subset of timer settings the inbound path uses.
type Timing struct {
	ReminderInterval time.Duration
	SnoozeDuration   time.Duration
	ClassifyTimeout  time.Duration
	DispatchTimeout  time.Duration
}

// TimingFrom reads the inbound timers from config.
func TimingFrom(cfg config.TimingConfig) Timing {
	return Timing{
		ReminderInterval: cfg.ReminderInterval.Duration,
		SnoozeDuration:   cfg.SnoozeDuration.Duration,
		ClassifyTimeout:  cfg.ClassifyTimeout.Duration,
		DispatchTimeout:  cfg.DispatchTimeout.Duration,
	}
}

// RulesFrom reads the transition cutoffs and admin offer guard from config.
func RulesFrom(cfg config.ClaimsConfig) (dialogue.Rules, dialogue.AdminOfferGuard) {
	rules := dialogue.Rules{
		PresencialClaimTypes:    cfg.PresencialClaimTypes,
		PresencialSeverityBands: cfg.PresencialSeverityBands,
		MinConfidence:           cfg.MinConfidence,
	}
	return rules, dialogue.AdminOfferGuard{Threshold: cfg.AdminOfferThreshold, MinConfidence: cfg.MinConfidence}
}

// Opts configures an Engine.
type Opts struct {
	Store      store.Store
	Dispatcher telegraph.Dispatcher // used by StartContact, and for replies when DispatchReplies is set
	Composer   compose.Composer     // nil uses the catalog
	Classifier Classifier           // nil uses the built-in guards only
	Window     sweep.Window
	Handoffs   sweep.Handoffs // optional
	Rules      dialogue.Rules
	AdminOffer dialogue.AdminOfferGuard
	Timing     Timing

	// DispatchReplies sends inbound replies through Dispatcher instead of
	// leaving delivery to the caller.
	DispatchReplies bool

	Logger *zap.Logger
	Now    func() time.Time
}

// Engine is the inbound entry point of the lifecycle.
type Engine struct {
	opts Opts
	log  *zap.Logger
}

// New creates an Engine.
func New(opts Opts) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("intake: store is required")
	}
	if opts.Window == nil {
		return nil, fmt.Errorf("intake: send window is required")
	}
	if opts.DispatchReplies && opts.Dispatcher == nil {
		return nil, fmt.Errorf("intake: dispatcher is required to dispatch replies")
	}
	if opts.Timing.ClassifyTimeout <= 0 {
		opts.Timing.ClassifyTimeout = defaultClassifyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{opts: opts, log: opts.Logger}, nil
}

// reply is what the decide step chose to answer with: either a request to
// compose, or a prompt restored verbatim from the record.
type reply struct {
	req      *compose.Request
	verbatim dialogue.Prompt
	handoff  string // handoff reason when the reply escalated
	stage    string // stage before escalation
}

// HandleInbound processes one message from a claimant and returns the
// prompt to answer with.
func (e *Engine) HandleInbound(ctx context.Context, rawIdentity, text string) (dialogue.Prompt, error) {
	id, err := identity.Normalize(rawIdentity)
	if err != nil {
		e.log.Warn("intake: rejected inbound message", zap.String("from", rawIdentity), zap.Error(err))
		return dialogue.Prompt{}, fmt.Errorf("intake: %w", err)
	}

	cls := e.classify(ctx, text)
	now := e.opts.Now()

	var r reply
	saved, err := e.opts.Store.Upsert(ctx, id, func(c *models.Conversation) error {
		r = e.decide(c, text, cls, now)
		return nil
	})
	if err != nil {
		return dialogue.Prompt{}, fmt.Errorf("intake: %s: %w", id, err)
	}

	p, err := e.finish(ctx, saved, r, now)
	if err != nil {
		return dialogue.Prompt{}, err
	}
	if r.handoff != "" {
		e.raise(ctx, saved, r.handoff, r.stage, "intake")
	}
	if e.opts.DispatchReplies {
		dctx, cancel := e.dispatchContext(ctx)
		err := e.opts.Dispatcher.Dispatch(dctx, id, p)
		cancel()
		if err != nil {
			e.log.Warn("intake: reply dispatch failed", zap.String("conversation", id), zap.Error(err))
		}
	}
	e.log.Debug("intake: handled inbound",
		zap.String("conversation", id),
		zap.String("stage", saved.Stage),
		zap.String("status", saved.Status),
		zap.String("reply", string(p.Key)))
	return p, nil
}

func (e *Engine) classify(ctx context.Context, text string) dialogue.Classification {
	if e.opts.Classifier == nil {
		return dialogue.Classification{}
	}
	cctx, cancel := context.WithTimeout(ctx, e.opts.Timing.ClassifyTimeout)
	defer cancel()
	cls, err := e.opts.Classifier.Classify(cctx, text)
	if err != nil {
		e.log.Debug("intake: classifier unavailable, using guards only", zap.Error(err))
		return dialogue.Classification{}
	}
	return cls
}

// decide applies one inbound message to c under the store's per-key lock.
// It performs no I/O.
func (e *Engine) decide(c *models.Conversation, text string, cls dialogue.Classification, now time.Time) reply {
	fresh := c.Revision == 0
	c.Append(models.ActorUser, text, "", now)
	sweep.ClearLease(c)

	stage := dialogue.Stage(c.Stage)
	if fresh {
		// No fixed-choice prompt has gone out yet, so the admin offer cannot
		// apply; the message is read against the initial stage as is.
		res := dialogue.Transition(dialogue.Input{Stage: stage, Text: text, Classification: cls}, e.opts.Rules)
		if !res.Matched {
			e.armReminder(c, now)
			return e.stagePrompt(c)
		}
		return e.take(c, stage, res, now)
	}

	if stage.Terminal() {
		return reply{req: &compose.Request{Key: dialogue.PromptFinished, Kind: dialogue.FreeText, Stage: stage}}
	}

	switch dialogue.Status(c.Status) {
	case dialogue.StatusAwaitingContinuation:
		return e.continuation(c, text, now)
	case dialogue.StatusAwaitingAdminOffer:
		return e.adminOfferAnswer(c, text, now)
	case dialogue.StatusSnoozed:
		c.SnoozedUntil = nil
		if !sweep.RestoreReturn(c) {
			c.Status = string(dialogue.StatusPending)
		}
		stage = dialogue.Stage(c.Stage)
	}

	if e.opts.AdminOffer.ShouldOffer(stage, dialogue.PromptKind(c.LastPromptKind), text, cls, c.Unparsed) {
		sweep.SaveReturn(c)
		c.NextReminderAt = nil
		c.DeferredUntil = nil
		c.Status = string(dialogue.StatusAwaitingAdminOffer)
		c.Unparsed++
		return e.setReply(c, dialogue.PromptAdminOffer, dialogue.FixedChoice)
	}

	res := dialogue.Transition(dialogue.Input{Stage: stage, Text: text, Classification: cls}, e.opts.Rules)
	if !res.Matched {
		c.Unparsed++
		if dialogue.Status(c.Status) == dialogue.StatusPending {
			e.armReminder(c, now)
		}
		return e.setReply(c, res.Prompt, res.PromptKind)
	}
	return e.take(c, stage, res, now)
}

// take applies a matched transition to c.
func (e *Engine) take(c *models.Conversation, stage dialogue.Stage, res dialogue.Result, now time.Time) reply {
	if res.Snooze {
		sweep.SaveReturn(c)
		until := now.Add(e.opts.Timing.SnoozeDuration)
		c.Status = string(dialogue.StatusSnoozed)
		c.SnoozedUntil = &until
		c.NextReminderAt = nil
		c.DeferredUntil = nil
		c.Attempts = 0
		c.Unparsed = 0
		// The saved prompt stays outstanding; the notice is not a question.
		return reply{req: &compose.Request{
			Key:    res.Prompt,
			Kind:   dialogue.FreeText,
			Stage:  stage,
			Fields: c.StringFields(),
			Snooze: e.opts.Timing.SnoozeDuration,
		}}
	}

	for k, v := range res.Updates {
		c.SetField(k, v)
	}
	c.Attempts = 0
	c.Unparsed = 0
	c.NextReminderAt = nil
	c.DeferredUntil = nil
	if res.Stage.Terminal() {
		sweep.Complete(c, now, res.Updates[dialogue.FieldOutcome])
	} else {
		c.Stage = string(res.Stage)
		c.Status = string(res.Status)
		if res.Status == dialogue.StatusPending {
			e.armReminder(c, now)
		}
	}
	return e.setReply(c, res.Prompt, res.PromptKind)
}

func (e *Engine) continuation(c *models.Conversation, text string, now time.Time) reply {
	switch intent, _ := dialogue.YesNo(text); intent {
	case dialogue.IntentYes:
		c.ContinuationAskedAt = nil
		c.ContinuationTimeoutAt = nil
		if !sweep.RestoreReturn(c) {
			c.Status = string(dialogue.StatusFor(dialogue.Stage(c.Stage)))
		}
		if dialogue.Status(c.Status) == dialogue.StatusPending {
			e.armReminder(c, now)
		}
		return reply{verbatim: lastPrompt(c)}
	case dialogue.IntentNo:
		stage := returnStage(c)
		sweep.Escalate(c, now)
		r := e.setReply(c, dialogue.PromptHandoff, dialogue.FreeText)
		r.handoff, r.stage = messaging.ReasonNoContinuation, stage
		return r
	}
	return reply{req: &compose.Request{Key: dialogue.PromptYesNo, Kind: dialogue.FixedChoice, Stage: dialogue.Stage(c.Stage)}}
}

func (e *Engine) adminOfferAnswer(c *models.Conversation, text string, now time.Time) reply {
	switch e.opts.AdminOffer.Answer(text) {
	case dialogue.OfferAccepted:
		stage := returnStage(c)
		sweep.Escalate(c, now)
		r := e.setReply(c, dialogue.PromptHandoff, dialogue.FreeText)
		r.handoff, r.stage = messaging.ReasonAdminOffer, stage
		return r
	case dialogue.OfferDeclined:
		if !sweep.RestoreReturn(c) {
			c.Status = string(dialogue.StatusFor(dialogue.Stage(c.Stage)))
		}
		c.Unparsed = 0
		if dialogue.Status(c.Status) == dialogue.StatusPending {
			e.armReminder(c, now)
		}
		return reply{verbatim: lastPrompt(c)}
	}
	return reply{req: &compose.Request{Key: dialogue.PromptYesNo, Kind: dialogue.FixedChoice, Stage: dialogue.Stage(c.Stage)}}
}

// setReply records key as the outstanding prompt, rendered from the catalog
// until the composed text replaces it.
func (e *Engine) setReply(c *models.Conversation, key dialogue.PromptKey, kind dialogue.PromptKind) reply {
	req := compose.Request{Key: key, Kind: kind, Stage: dialogue.Stage(c.Stage), Fields: c.StringFields()}
	text, err := compose.Render(req)
	if err != nil {
		text = ""
	}
	c.LastPromptKind = string(kind)
	c.LastPromptKey = string(key)
	c.LastPromptText = text
	return reply{req: &req}
}

func (e *Engine) stagePrompt(c *models.Conversation) reply {
	stage := dialogue.Stage(c.Stage)
	return e.setReply(c, dialogue.PromptFor(stage), dialogue.KindFor(stage))
}

func (e *Engine) armReminder(c *models.Conversation, now time.Time) {
	next := now.Add(e.opts.Timing.ReminderInterval)
	c.NextReminderAt = &next
}

// finish composes the reply outside the lock and records what was actually
// sent in history.
func (e *Engine) finish(ctx context.Context, saved *models.Conversation, r reply, now time.Time) (dialogue.Prompt, error) {
	p := r.verbatim
	if r.req != nil {
		p = compose.WithFallback(ctx, e.opts.Composer, *r.req)
	}
	if p.Text == "" {
		return p, nil
	}
	rev := saved.Revision
	_, err := e.opts.Store.Upsert(ctx, saved.ID, func(c *models.Conversation) error {
		if c.Revision == rev && r.req != nil && c.LastPromptKey == string(p.Key) {
			c.LastPromptText = p.Text
		}
		c.Append(models.ActorSystem, p.Text, string(p.Key), now)
		return nil
	})
	if err != nil {
		return dialogue.Prompt{}, fmt.Errorf("intake: record reply %s: %w", saved.ID, err)
	}
	return p, nil
}

func (e *Engine) raise(ctx context.Context, c *models.Conversation, reason, stage, source string) {
	e.log.Info("intake: conversation handed to staff",
		zap.String("conversation", c.ID), zap.String("reason", reason))
	if e.opts.Handoffs == nil {
		return
	}
	err := e.opts.Handoffs.Raise(ctx, messaging.Request{
		ConversationID: c.ID,
		Source:         source,
		Reason:         reason,
		Stage:          stage,
		Detail:         lastUserText(c),
		Fields:         c.StringFields(),
	})
	if err != nil {
		e.log.Error("intake: raise handoff", zap.String("conversation", c.ID), zap.Error(err))
	}
}

func (e *Engine) dispatchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.Timing.DispatchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.Timing.DispatchTimeout)
}

func lastPrompt(c *models.Conversation) dialogue.Prompt {
	return dialogue.Prompt{
		Kind: dialogue.PromptKind(c.LastPromptKind),
		Key:  dialogue.PromptKey(c.LastPromptKey),
		Text: c.LastPromptText,
		Vars: map[string]string{"resent": "true"},
	}
}

func returnStage(c *models.Conversation) string {
	if c.ReturnStage != "" {
		return c.ReturnStage
	}
	return c.Stage
}

func lastUserText(c *models.Conversation) string {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Actor == models.ActorUser {
			return "Last message: " + c.History[i].Text
		}
	}
	return ""
}
