package store

import (
	"fmt"

	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/models"
)

// Check verifies the record-level invariants every persisted conversation
// must hold. Violations wrap ErrInvariant.
func Check(c *models.Conversation) error {
	status := dialogue.Status(c.Status)
	stage := dialogue.Stage(c.Stage)

	waiting := 0
	if c.SnoozedUntil != nil {
		waiting++
	}
	if c.ContinuationAskedAt != nil {
		waiting++
	}
	if status == dialogue.StatusAwaitingAdminOffer {
		waiting++
	}
	if waiting > 1 {
		return fmt.Errorf("%w: %s has %d waiting modes active", ErrInvariant, c.ID, waiting)
	}

	if c.NextReminderAt != nil && status != dialogue.StatusPending {
		return fmt.Errorf("%w: %s has a reminder armed while %s", ErrInvariant, c.ID, status)
	}

	if stage.Terminal() && (c.NextReminderAt != nil || c.ContinuationAskedAt != nil || c.SnoozedUntil != nil) {
		return fmt.Errorf("%w: %s is %s with timers armed", ErrInvariant, c.ID, stage)
	}

	if c.Attempts < 0 || c.Unparsed < 0 || c.DispatchFailures < 0 {
		return fmt.Errorf("%w: %s has a negative counter", ErrInvariant, c.ID)
	}

	for i := 1; i < len(c.History); i++ {
		if c.History[i].SentAt.Before(c.History[i-1].SentAt) {
			return fmt.Errorf("%w: %s history goes backwards at entry %d", ErrInvariant, c.ID, i)
		}
	}
	return nil
}
