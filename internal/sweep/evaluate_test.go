package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/perito/internal/compose"
	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/models"
)

type failingComposer struct{}

func (failingComposer) Compose(context.Context, compose.Request) (dialogue.Prompt, error) {
	return dialogue.Prompt{}, errors.New("model unavailable")
}

func conv(stage dialogue.Stage, status dialogue.Status, fn func(c *models.Conversation)) *models.Conversation {
	c := &models.Conversation{ID: ana, Stage: string(stage), Status: string(status), LastMessageAt: t0.Add(-time.Hour)}
	if fn != nil {
		fn(c)
	}
	return c
}

func TestEvaluate(t *testing.T) {
	past := t0.Add(-time.Minute)
	future := t0.Add(time.Minute)

	tests := []struct {
		name string
		c    *models.Conversation
		want Kind
	}{
		{"nothing armed", conv(dialogue.StageInitial, dialogue.StatusPending, nil), KindNone},
		{"reminder due", conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
			c.NextReminderAt = tp(past)
		}), KindRemind},
		{"reminder not yet due", conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
			c.NextReminderAt = tp(future)
		}), KindNone},
		{"reminder due exactly now", conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
			c.NextReminderAt = tp(t0)
		}), KindRemind},
		{"attempts exhausted escalates before reminding", conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
			c.Attempts = 3
			c.NextReminderAt = tp(past)
		}), KindEscalate},
		{"attempts exhausted waits for last interval", conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
			c.Attempts = 3
			c.NextReminderAt = tp(future)
		}), KindNone},
		{"attempts exhausted without timer", conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
			c.Attempts = 4
		}), KindEscalate},
		{"continuation timed out", conv(dialogue.StageClaimType, dialogue.StatusAwaitingContinuation, func(c *models.Conversation) {
			c.ContinuationAskedAt = tp(t0.Add(-24 * time.Hour))
			c.ContinuationTimeoutAt = tp(past)
		}), KindExpire},
		{"continuation still open", conv(dialogue.StageClaimType, dialogue.StatusAwaitingContinuation, func(c *models.Conversation) {
			c.ContinuationTimeoutAt = tp(future)
		}), KindNone},
		{"inactive responder", conv(dialogue.StageAwaitingDate, dialogue.StatusResponded, func(c *models.Conversation) {
			c.LastUserMessageAt = tp(t0.Add(-2 * time.Hour))
		}), KindInactivity},
		{"recent responder", conv(dialogue.StageAwaitingDate, dialogue.StatusResponded, func(c *models.Conversation) {
			c.LastUserMessageAt = tp(t0.Add(-10 * time.Minute))
		}), KindNone},
		{"awaiting prompt is not inactivity", conv(dialogue.StageAttendeeSelect, dialogue.StatusAwaitingAttendee, func(c *models.Conversation) {
			c.LastUserMessageAt = tp(t0.Add(-5 * time.Hour))
		}), KindNone},
		{"admin offer is not inactivity", conv(dialogue.StageSeverity, dialogue.StatusAwaitingAdminOffer, func(c *models.Conversation) {
			c.LastUserMessageAt = tp(t0.Add(-5 * time.Hour))
		}), KindNone},
		{"snooze over", conv(dialogue.StageInitial, dialogue.StatusSnoozed, func(c *models.Conversation) {
			c.SnoozedUntil = tp(past)
		}), KindUnsnooze},
		{"snooze running", conv(dialogue.StageInitial, dialogue.StatusSnoozed, func(c *models.Conversation) {
			c.SnoozedUntil = tp(future)
		}), KindNone},
		{"terminal", conv(dialogue.StageCompleted, dialogue.StatusCompleted, nil), KindNone},
		{"escalated", conv(dialogue.StageEscalated, dialogue.StatusEscalated, nil), KindNone},
		{"fresh lease", conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
			c.NextReminderAt = tp(past)
			c.LeaseID = "l1"
			c.LeasedAt = tp(t0.Add(-time.Minute))
		}), KindNone},
		{"stale lease", conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
			c.NextReminderAt = tp(past)
			c.LeaseID = "l1"
			c.LeasedAt = tp(t0.Add(-10 * time.Minute))
		}), KindRemind},
		{"deferred dispatch", conv(dialogue.StageAwaitingDate, dialogue.StatusResponded, func(c *models.Conversation) {
			c.LastUserMessageAt = tp(t0.Add(-2 * time.Hour))
			c.DeferredUntil = tp(future)
		}), KindNone},
		{"deferral does not hold silent actions", conv(dialogue.StageClaimType, dialogue.StatusAwaitingContinuation, func(c *models.Conversation) {
			c.ContinuationTimeoutAt = tp(past)
			c.DeferredUntil = tp(future)
		}), KindExpire},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.c, t0, testTiming); got != tt.want {
				t.Errorf("Evaluate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	c := conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) { c.NextReminderAt = tp(t0) })
	for i := 0; i < 5; i++ {
		if got := Evaluate(c, t0, testTiming); got != KindRemind {
			t.Fatalf("run %d: Evaluate = %q", i, got)
		}
	}
}

func TestNextDue(t *testing.T) {
	due := NextDue(testTiming)

	tests := []struct {
		name string
		c    *models.Conversation
		want *time.Time
	}{
		{"terminal", conv(dialogue.StageCompleted, dialogue.StatusCompleted, nil), nil},
		{"pending reminder", conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
			c.NextReminderAt = tp(t0)
		}), tp(t0)},
		{"exhausted without timer is due now", conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
			c.Attempts = 3
		}), tp(t0.Add(-time.Hour))},
		{"responded", conv(dialogue.StageAwaitingDate, dialogue.StatusResponded, func(c *models.Conversation) {
			c.LastUserMessageAt = tp(t0)
		}), tp(t0.Add(time.Hour))},
		{"responded without inbound uses last message", conv(dialogue.StageAwaitingDate, dialogue.StatusResponded, nil), tp(t0)},
		{"awaiting fixed choice", conv(dialogue.StageAttendeeSelect, dialogue.StatusAwaitingAttendee, nil), nil},
		{"deferral pushes due", conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
			c.NextReminderAt = tp(t0)
			c.DeferredUntil = tp(t0.Add(3 * time.Hour))
		}), tp(t0.Add(3 * time.Hour))},
		{"lease pushes due past grace", conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
			c.NextReminderAt = tp(t0)
			c.LeaseID = "l1"
			c.LeasedAt = tp(t0)
		}), tp(t0.Add(2 * time.Minute))},
		{"snoozed", conv(dialogue.StageInitial, dialogue.StatusSnoozed, func(c *models.Conversation) {
			c.SnoozedUntil = tp(t0.Add(6 * time.Hour))
		}), tp(t0.Add(6 * time.Hour))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := due(tt.c)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("NextDue = %v, want nil", *got)
			case tt.want != nil && (got == nil || !got.Equal(*tt.want)):
				t.Errorf("NextDue = %v, want %v", got, *tt.want)
			}
		})
	}
}

func TestKind_Dispatches(t *testing.T) {
	for k, want := range map[Kind]bool{
		KindEscalate: true, KindRemind: true, KindInactivity: true,
		KindExpire: false, KindUnsnooze: false, KindNone: false,
	} {
		if got := k.Dispatches(); got != want {
			t.Errorf("%q.Dispatches() = %v, want %v", k, got, want)
		}
	}
}

func TestSaveRestoreReturn(t *testing.T) {
	c := conv(dialogue.StageSeverity, dialogue.StatusAwaitingSeverityPrompt, func(c *models.Conversation) {
		c.LastPromptKind = string(dialogue.FixedChoice)
		c.LastPromptKey = string(dialogue.PromptSeverity)
		c.LastPromptText = "tramos"
	})
	SaveReturn(c)
	c.Status = string(dialogue.StatusAwaitingAdminOffer)
	c.LastPromptText = "¿Desea hablar con una persona?"

	if !RestoreReturn(c) {
		t.Fatal("RestoreReturn = false")
	}
	if c.Status != string(dialogue.StatusAwaitingSeverityPrompt) || c.LastPromptText != "tramos" || c.ReturnStage != "" {
		t.Errorf("restored = %+v", c)
	}
	if RestoreReturn(c) {
		t.Error("second RestoreReturn should report nothing saved")
	}
}

func TestEscalate_ClearsEverything(t *testing.T) {
	c := conv(dialogue.StageInitial, dialogue.StatusPending, func(c *models.Conversation) {
		c.Attempts = 3
		c.NextReminderAt = tp(t0)
		c.DeferredUntil = tp(t0)
		c.LeaseID = "l1"
	})
	Escalate(c, t0)
	if c.NextReminderAt != nil || c.DeferredUntil != nil || c.LeaseID != "" || c.Attempts != 0 {
		t.Errorf("escalated record still armed: %+v", c)
	}
	if c.Field(dialogue.FieldOutcome) != dialogue.OutcomeEscalated || c.EscalatedAt == nil {
		t.Errorf("outcome = %q escalatedAt = %v", c.Field(dialogue.FieldOutcome), c.EscalatedAt)
	}
}
