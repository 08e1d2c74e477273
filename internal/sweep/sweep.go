// Package sweep runs the timer side of the conversation lifecycle: on every
// tick it finds records whose reminder, continuation, inactivity, snooze or
// escalation timer is due and takes at most one action on each.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/perito/internal/compose"
	"github.com/zulandar/perito/internal/config"
	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/messaging"
	"github.com/zulandar/perito/internal/models"
	"github.com/zulandar/perito/internal/store"
	"github.com/zulandar/perito/internal/telegraph"
)

const (
	defaultConcurrency     = 4
	defaultDispatchTimeout = 15 * time.Second
	defaultTick            = 5 * time.Minute
)

// Window gates when prompts may be sent.
type Window interface {
	IsWithinWindow(now time.Time) bool
	NextWindowStart(now time.Time) time.Time
}

// Handoffs raises a staff handoff for an escalated conversation.
type Handoffs interface {
	Raise(ctx context.Context, req messaging.Request) error
}

// Action is one thing a tick did to one record.
type Action struct {
	ConversationID string
	Kind           Kind
	Prompt         dialogue.PromptKey
	Dispatched     bool
	DeferredTo     *time.Time // set when the send window held the action back
	Escalated      bool       // set when repeated dispatch failures forced escalation
	Err            error
}

// Opts configures a Sweeper.
type Opts struct {
	Store               store.Store
	Dispatcher          telegraph.Dispatcher
	Composer            compose.Composer // nil uses the catalog
	Window              Window
	Handoffs            Handoffs // optional
	Timing              Timing
	MaxDispatchFailures int
	DispatchTimeout     time.Duration
	Concurrency         int
	Logger              *zap.Logger
	Now                 func() time.Time
}

// Sweeper evaluates and acts on due conversations.
type Sweeper struct {
	opts Opts
	log  *zap.Logger
}

// TimingFrom reads the sweep timers from config.
func TimingFrom(cfg config.TimingConfig) Timing {
	return Timing{
		ReminderInterval:    cfg.ReminderInterval.Duration,
		MaxReminderAttempts: cfg.MaxReminderAttempts,
		InactivityTimeout:   cfg.InactivityTimeout.Duration,
		ContinuationWindow:  cfg.ContinuationWindow.Duration,
		DispatchGrace:       cfg.DispatchGrace.Duration,
	}
}

// New creates a Sweeper.
func New(opts Opts) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("sweep: store is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("sweep: dispatcher is required")
	}
	if opts.Window == nil {
		return nil, fmt.Errorf("sweep: send window is required")
	}
	if opts.Timing.MaxReminderAttempts <= 0 {
		return nil, fmt.Errorf("sweep: max reminder attempts must be positive")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = defaultDispatchTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sweeper{opts: opts, log: opts.Logger}, nil
}

// Tick evaluates every due record once at now and returns the actions taken.
// A failure on one record is logged and reported in its Action; it never
// stops the tick for the others.
func (s *Sweeper) Tick(ctx context.Context, now time.Time) ([]Action, error) {
	due, err := s.opts.Store.ScanDue(ctx, now, func(c *models.Conversation) bool {
		return Evaluate(c, now, s.opts.Timing) != KindNone
	})
	if err != nil {
		return nil, fmt.Errorf("sweep: scan: %w", err)
	}

	var (
		mu      sync.Mutex
		actions []Action
		g       errgroup.Group
	)
	g.SetLimit(s.opts.Concurrency)
	for i := range due {
		id := due[i].ID
		g.Go(func() error {
			a, ok := s.process(ctx, id, now)
			if !ok {
				return nil
			}
			mu.Lock()
			actions = append(actions, a)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(actions, func(i, j int) bool { return actions[i].ConversationID < actions[j].ConversationID })
	for _, a := range actions {
		s.logAction(a)
	}
	return actions, nil
}

// process takes the action due for one record. ok is false when a
// concurrent change made the record ineligible.
func (s *Sweeper) process(ctx context.Context, id string, now time.Time) (Action, bool) {
	a := Action{ConversationID: id}
	leaseID := uuid.NewString()

	var snapshot models.Conversation
	claimed, err := s.opts.Store.Upsert(ctx, id, func(c *models.Conversation) error {
		a.Kind, a.DeferredTo, snapshot = KindNone, nil, models.Conversation{}
		if c.Revision == 0 {
			return store.ErrUnchanged
		}
		kind := Evaluate(c, now, s.opts.Timing)
		if kind == KindNone {
			return store.ErrUnchanged
		}
		a.Kind = kind

		if !kind.Dispatches() {
			s.applySilent(c, kind, now)
			return nil
		}
		if !s.opts.Window.IsWithinWindow(now) {
			next := s.opts.Window.NextWindowStart(now)
			a.DeferredTo = &next
			if kind == KindRemind {
				c.NextReminderAt = &next
			} else {
				c.DeferredUntil = &next
			}
			return nil
		}
		at := now
		c.LeaseID = leaseID
		c.LeaseKind = string(kind)
		c.LeasedAt = &at
		snapshot = *c
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return a, false
		}
		a.Err = err
		return a, a.Kind != KindNone
	}
	if a.Kind == KindNone || claimed.LeaseID != leaseID {
		return a, a.Kind != KindNone
	}

	p := s.promptFor(ctx, &snapshot, a.Kind)
	a.Prompt = p.Key

	dctx, cancel := context.WithTimeout(ctx, s.opts.DispatchTimeout)
	dispatchErr := s.opts.Dispatcher.Dispatch(dctx, id, p)
	cancel()

	var applied, forced bool
	committed, err := s.opts.Store.Upsert(ctx, id, func(c *models.Conversation) error {
		applied, forced = false, false
		if c.LeaseID != leaseID {
			return store.ErrUnchanged
		}
		applied = true
		ClearLease(c)
		if dispatchErr != nil {
			c.DispatchFailures++
			if s.opts.MaxDispatchFailures > 0 && c.DispatchFailures >= s.opts.MaxDispatchFailures {
				Escalate(c, now)
				forced = true
			}
			return nil
		}
		c.DispatchFailures = 0
		c.DeferredUntil = nil
		s.applyDispatched(c, a.Kind, p, now)
		return nil
	})
	if err != nil {
		a.Err = err
		return a, true
	}
	a.Dispatched = dispatchErr == nil

	switch {
	case dispatchErr != nil:
		a.Err = dispatchErr
		s.log.Warn("sweep: dispatch failed",
			zap.String("conversation", id),
			zap.String("action", string(a.Kind)),
			zap.Int("failures", committed.DispatchFailures),
			zap.Error(dispatchErr))
		if forced {
			a.Escalated = true
			s.log.Error("sweep: escalating after repeated dispatch failures",
				zap.String("conversation", id), zap.Int("failures", committed.DispatchFailures))
			s.raise(ctx, &snapshot, messaging.ReasonDispatchFailures,
				fmt.Sprintf("%d consecutive dispatch failures; last error: %v", committed.DispatchFailures, dispatchErr))
		}
	case !applied:
		s.log.Info("sweep: record changed during dispatch, effect not recorded",
			zap.String("conversation", id), zap.String("action", string(a.Kind)))
	case a.Kind == KindEscalate:
		s.raise(ctx, &snapshot, messaging.ReasonReminders,
			fmt.Sprintf("no reply after %d reminders", snapshot.Attempts))
	}
	return a, true
}

// applySilent applies the actions that send nothing.
func (s *Sweeper) applySilent(c *models.Conversation, kind Kind, now time.Time) {
	switch kind {
	case KindExpire:
		Complete(c, now, dialogue.OutcomeExpiredNoContinuation)
	case KindUnsnooze:
		c.SnoozedUntil = nil
		if !RestoreReturn(c) {
			c.Status = string(dialogue.StatusPending)
		}
		if dialogue.Status(c.Status) == dialogue.StatusPending {
			at := now
			c.NextReminderAt = &at
		}
	}
}

// applyDispatched records the effect of a delivered prompt.
func (s *Sweeper) applyDispatched(c *models.Conversation, kind Kind, p dialogue.Prompt, now time.Time) {
	switch kind {
	case KindRemind:
		if p.Key == dialogue.PromptReminder {
			c.Attempts++
		}
		next := now.Add(s.opts.Timing.ReminderInterval)
		c.NextReminderAt = &next
		c.Append(models.ActorSystem, p.Text, string(p.Key), now)
	case KindInactivity:
		SaveReturn(c)
		asked := now
		timeout := now.Add(s.opts.Timing.ContinuationWindow)
		c.Status = string(dialogue.StatusAwaitingContinuation)
		c.ContinuationAskedAt = &asked
		c.ContinuationTimeoutAt = &timeout
		SetPrompt(c, p, now)
	case KindEscalate:
		Escalate(c, now)
		SetPrompt(c, p, now)
	}
}

func (s *Sweeper) promptFor(ctx context.Context, c *models.Conversation, kind Kind) dialogue.Prompt {
	req := compose.Request{Stage: dialogue.Stage(c.Stage), Fields: c.StringFields()}
	switch kind {
	case KindRemind:
		if _, sent := c.LastSystemMessage(); !sent && c.LastPromptText != "" {
			// Held back by the send window before it was ever delivered.
			return dialogue.Prompt{
				Kind: dialogue.PromptKind(c.LastPromptKind),
				Key:  dialogue.PromptKey(c.LastPromptKey),
				Text: c.LastPromptText,
			}
		}
		req.Key = dialogue.PromptReminder
		req.Kind = dialogue.PromptKind(c.LastPromptKind)
		req.Attempt = c.Attempts + 1
		req.Pending = c.LastPromptText
	case KindInactivity:
		req.Key = dialogue.PromptContinuation
		req.Kind = dialogue.FixedChoice
	case KindEscalate:
		req.Key = dialogue.PromptEscalation
		req.Kind = dialogue.FreeText
	}
	return compose.WithFallback(ctx, s.opts.Composer, req)
}

func (s *Sweeper) raise(ctx context.Context, c *models.Conversation, reason, detail string) {
	if s.opts.Handoffs == nil {
		return
	}
	err := s.opts.Handoffs.Raise(ctx, messaging.Request{
		ConversationID: c.ID,
		Source:         "sweep",
		Reason:         reason,
		Stage:          c.Stage,
		Detail:         detail,
		Fields:         c.StringFields(),
	})
	if err != nil {
		s.log.Error("sweep: raise handoff", zap.String("conversation", c.ID), zap.Error(err))
	}
}

func (s *Sweeper) logAction(a Action) {
	fields := []zap.Field{
		zap.String("conversation", a.ConversationID),
		zap.String("action", string(a.Kind)),
		zap.Bool("dispatched", a.Dispatched),
	}
	if a.DeferredTo != nil {
		fields = append(fields, zap.Time("deferred_to", *a.DeferredTo))
	}
	if a.Err != nil {
		s.log.Warn("sweep: action failed", append(fields, zap.Error(a.Err))...)
		return
	}
	s.log.Info("sweep: action", fields...)
}

// RunDaemon ticks every interval until ctx is cancelled. Tick errors are
// logged and the loop continues.
func (s *Sweeper) RunDaemon(ctx context.Context, interval time.Duration, out io.Writer) error {
	if interval <= 0 {
		interval = defaultTick
	}
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintf(out, "Sweep daemon starting (tick every %s)...\n", interval)
	defer fmt.Fprintf(out, "Sweep daemon stopped.\n")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		actions, err := s.Tick(ctx, s.opts.Now())
		if err != nil {
			s.log.Error("sweep: tick", zap.Error(err))
		} else if len(actions) > 0 {
			fmt.Fprintf(out, "Sweep: %d action(s)\n", len(actions))
		}

		sleepWithContext(ctx, interval)
	}
}

// sleepWithContext sleeps for duration d, returning early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
