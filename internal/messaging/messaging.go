// Package messaging keeps the staff handoff inbox: every conversation that
// needs a human lands here as a Handoff row addressed to "human".
package messaging

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/perito/internal/models"
)

// Human is the recipient of the staff inbox.
const Human = "human"

// Priorities.
const (
	PriorityNormal = "normal"
	PriorityUrgent = "urgent"
)

// Handoff reasons.
const (
	ReasonReminders        = "reminders_exhausted"
	ReasonAdminOffer       = "admin_offer_accepted"
	ReasonNoContinuation   = "continuation_declined"
	ReasonDispatchFailures = "dispatch_failures"
	ReasonManual           = "manual"
)

// ErrNotFound is returned when acknowledging an unknown handoff.
var ErrNotFound = errors.New("messaging: handoff not found")

// SendOpts holds optional parameters for sending a handoff.
type SendOpts struct {
	Source    string    // "sweep" (default), "intake", "cli"
	Recipient string    // default Human
	Priority  string    // "normal" (default), "urgent"
	At        time.Time // default time.Now()
}

// Send records a handoff for a conversation.
func Send(db *gorm.DB, conversationID, reason, subject, body string, opts SendOpts) (*models.Handoff, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("messaging: conversation id is required")
	}
	if reason == "" {
		return nil, fmt.Errorf("messaging: reason is required")
	}
	if subject == "" {
		return nil, fmt.Errorf("messaging: subject is required")
	}

	h := models.Handoff{
		ConversationID: conversationID,
		Source:         opts.Source,
		Recipient:      opts.Recipient,
		Reason:         reason,
		Subject:        subject,
		Body:           body,
		Priority:       opts.Priority,
		CreatedAt:      opts.At,
	}
	if h.Source == "" {
		h.Source = "sweep"
	}
	if h.Recipient == "" {
		h.Recipient = Human
	}
	if h.Priority == "" {
		h.Priority = PriorityNormal
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}

	if err := db.Create(&h).Error; err != nil {
		return nil, fmt.Errorf("messaging: send: %w", err)
	}
	return &h, nil
}

// Inbox returns unacknowledged handoffs for a recipient, urgent first, then
// oldest first.
func Inbox(db *gorm.DB, recipient string) ([]models.Handoff, error) {
	if recipient == "" {
		return nil, fmt.Errorf("messaging: recipient is required")
	}

	var hs []models.Handoff
	if err := db.Where("recipient = ? AND acknowledged = ?", recipient, false).
		Order(fmt.Sprintf("CASE WHEN priority = '%s' THEN 0 ELSE 1 END, created_at ASC, id ASC", PriorityUrgent)).
		Find(&hs).Error; err != nil {
		return nil, fmt.Errorf("messaging: inbox %s: %w", recipient, err)
	}
	return hs, nil
}

// ForConversation returns every handoff raised for one conversation,
// oldest first.
func ForConversation(db *gorm.DB, conversationID string) ([]models.Handoff, error) {
	var hs []models.Handoff
	if err := db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").Find(&hs).Error; err != nil {
		return nil, fmt.Errorf("messaging: handoffs for %s: %w", conversationID, err)
	}
	return hs, nil
}

// Acknowledge marks a handoff as handled.
func Acknowledge(db *gorm.DB, id uint, at time.Time) error {
	result := db.Model(&models.Handoff{}).Where("id = ?", id).
		Updates(map[string]interface{}{"acknowledged": true, "acknowledged_at": at})
	if result.Error != nil {
		return fmt.Errorf("messaging: acknowledge %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}
