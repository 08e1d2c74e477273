package sweep

import (
	"time"

	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/models"
)

// Escalate moves c to the escalated terminal state and disarms every timer.
func Escalate(c *models.Conversation, now time.Time) {
	at := now
	c.Stage = string(dialogue.StageEscalated)
	c.Status = string(dialogue.StatusEscalated)
	c.EscalatedAt = &at
	c.SetField(dialogue.FieldOutcome, dialogue.OutcomeEscalated)
	settle(c)
}

// Complete moves c to the completed terminal state with the given outcome.
func Complete(c *models.Conversation, now time.Time, outcome string) {
	at := now
	c.Stage = string(dialogue.StageCompleted)
	c.Status = string(dialogue.StatusCompleted)
	c.CompletedAt = &at
	c.SetField(dialogue.FieldOutcome, outcome)
	settle(c)
}

func settle(c *models.Conversation) {
	ClearTimers(c)
	ClearReturn(c)
	ClearLease(c)
	c.Attempts = 0
	c.Unparsed = 0
}

// ClearTimers disarms every timer and waiting mode marker.
func ClearTimers(c *models.Conversation) {
	c.NextReminderAt = nil
	c.ContinuationAskedAt = nil
	c.ContinuationTimeoutAt = nil
	c.SnoozedUntil = nil
	c.DeferredUntil = nil
}

// ClearLease drops any dispatch lease.
func ClearLease(c *models.Conversation) {
	c.LeaseID = ""
	c.LeaseKind = ""
	c.LeasedAt = nil
}

// SaveReturn remembers the current stage, status and outstanding prompt so a
// waiting mode can restore them.
func SaveReturn(c *models.Conversation) {
	c.ReturnStage = c.Stage
	c.ReturnStatus = c.Status
	c.ReturnPromptKind = c.LastPromptKind
	c.ReturnPromptKey = c.LastPromptKey
	c.ReturnPromptText = c.LastPromptText
}

// RestoreReturn reinstates what SaveReturn remembered. It returns false when
// nothing was saved.
func RestoreReturn(c *models.Conversation) bool {
	if c.ReturnStage == "" {
		return false
	}
	c.Stage = c.ReturnStage
	c.Status = c.ReturnStatus
	c.LastPromptKind = c.ReturnPromptKind
	c.LastPromptKey = c.ReturnPromptKey
	c.LastPromptText = c.ReturnPromptText
	ClearReturn(c)
	return true
}

// ClearReturn forgets the saved return point.
func ClearReturn(c *models.Conversation) {
	c.ReturnStage = ""
	c.ReturnStatus = ""
	c.ReturnPromptKind = ""
	c.ReturnPromptKey = ""
	c.ReturnPromptText = ""
}

// SetPrompt records p as the outstanding prompt and appends it to history.
func SetPrompt(c *models.Conversation, p dialogue.Prompt, now time.Time) {
	c.LastPromptKind = string(p.Kind)
	c.LastPromptKey = string(p.Key)
	c.LastPromptText = p.Text
	c.Append(models.ActorSystem, p.Text, string(p.Key), now)
}
