package sweep

import (
	"time"

	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/models"
)

// Kind is the timer action taken on a record.
type Kind string

const (
	KindNone       Kind = ""
	KindEscalate   Kind = "escalate"
	KindRemind     Kind = "remind"
	KindExpire     Kind = "expire_continuation"
	KindInactivity Kind = "inactivity"
	KindUnsnooze   Kind = "unsnooze"
)

// Dispatches reports whether the action sends a message to the claimant.
func (k Kind) Dispatches() bool {
	return k == KindEscalate || k == KindRemind || k == KindInactivity
}

// Timing is the subset of timer settings Evaluate and NextDue read.
type Timing struct {
	ReminderInterval    time.Duration
	MaxReminderAttempts int
	InactivityTimeout   time.Duration
	ContinuationWindow  time.Duration
	DispatchGrace       time.Duration
}

// Evaluate returns the single action due for c at now, in priority order:
// escalate, remind, expire continuation, inactivity, unsnooze. A record
// holding a fresh dispatch lease, or whose dispatch is deferred past now,
// gets no dispatching action.
func Evaluate(c *models.Conversation, now time.Time, t Timing) Kind {
	status := dialogue.Status(c.Status)
	if dialogue.Stage(c.Stage).Terminal() || status.Terminal() {
		return KindNone
	}
	if leased(c, now, t.DispatchGrace) {
		return KindNone
	}
	deferred := c.DeferredUntil != nil && c.DeferredUntil.After(now)

	if status == dialogue.StatusPending && c.Attempts >= t.MaxReminderAttempts && c.EscalatedAt == nil &&
		(c.NextReminderAt == nil || !c.NextReminderAt.After(now)) {
		if deferred {
			return KindNone
		}
		return KindEscalate
	}
	if status == dialogue.StatusPending && c.NextReminderAt != nil && !c.NextReminderAt.After(now) &&
		c.Attempts < t.MaxReminderAttempts {
		if deferred {
			return KindNone
		}
		return KindRemind
	}
	if status == dialogue.StatusAwaitingContinuation && c.ContinuationTimeoutAt != nil && !c.ContinuationTimeoutAt.After(now) {
		return KindExpire
	}
	if inactive(status) && !inactiveSince(c).Add(t.InactivityTimeout).After(now) {
		if deferred {
			return KindNone
		}
		return KindInactivity
	}
	if status == dialogue.StatusSnoozed && c.SnoozedUntil != nil && !c.SnoozedUntil.After(now) {
		return KindUnsnooze
	}
	return KindNone
}

// NextDue returns a store DueFunc giving the earliest instant Evaluate could
// return an action for a record.
func NextDue(t Timing) func(c *models.Conversation) *time.Time {
	return func(c *models.Conversation) *time.Time {
		status := dialogue.Status(c.Status)
		if dialogue.Stage(c.Stage).Terminal() || status.Terminal() {
			return nil
		}

		var due *time.Time
		switch {
		case status == dialogue.StatusPending && c.Attempts >= t.MaxReminderAttempts && c.EscalatedAt == nil:
			due = c.NextReminderAt
			if due == nil {
				due = &c.LastMessageAt
			}
		case status == dialogue.StatusPending:
			due = c.NextReminderAt
		case status == dialogue.StatusAwaitingContinuation:
			due = c.ContinuationTimeoutAt
		case status == dialogue.StatusSnoozed:
			due = c.SnoozedUntil
		case inactive(status):
			v := inactiveSince(c).Add(t.InactivityTimeout)
			due = &v
		}
		if due == nil {
			return nil
		}

		at := *due
		if c.DeferredUntil != nil && c.DeferredUntil.After(at) {
			at = *c.DeferredUntil
		}
		if c.LeaseID != "" && c.LeasedAt != nil {
			if expiry := c.LeasedAt.Add(t.DispatchGrace); expiry.After(at) {
				at = expiry
			}
		}
		return &at
	}
}

// inactive reports whether the status is subject to the inactivity check:
// the claimant owes a free-text answer and no prompt or waiting mode is
// outstanding.
func inactive(s dialogue.Status) bool {
	return s == dialogue.StatusResponded
}

func inactiveSince(c *models.Conversation) time.Time {
	if c.LastUserMessageAt != nil {
		return *c.LastUserMessageAt
	}
	return c.LastMessageAt
}

func leased(c *models.Conversation, now time.Time, grace time.Duration) bool {
	if c.LeaseID == "" || c.LeasedAt == nil {
		return false
	}
	return c.LeasedAt.Add(grace).After(now)
}
