package models

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation is the persistent record of one claimant's intake dialogue,
// keyed by canonical identity. Stage tracks dialogue progress; Status tracks
// which outbound prompt or waiting mode is outstanding.
type Conversation struct {
	ID               string `gorm:"primaryKey;size:64"`
	Stage            string `gorm:"size:32;not null;default:initial;index"`
	Status           string `gorm:"size:40;not null;default:pending;index"`
	Attempts         int    `gorm:"not null;default:0"`
	Unparsed         int    `gorm:"not null;default:0"`
	DispatchFailures int    `gorm:"not null;default:0"`
	Revision         int64  `gorm:"not null;default:0"`

	LastPromptKind string `gorm:"size:16"` // fixed_choice, free_text
	LastPromptKey  string `gorm:"size:48"`
	LastPromptText string `gorm:"type:text"`

	// Saved on entering a waiting mode (snooze, continuation, admin offer)
	// and restored on leaving it.
	ReturnStage      string `gorm:"size:32"`
	ReturnStatus     string `gorm:"size:40"`
	ReturnPromptKind string `gorm:"size:16"`
	ReturnPromptKey  string `gorm:"size:48"`
	ReturnPromptText string `gorm:"type:text"`

	Fields datatypes.JSONMap

	CreatedAt             time.Time
	UpdatedAt             time.Time `gorm:"autoUpdateTime:false"`
	LastMessageAt         time.Time `gorm:"index"`
	LastUserMessageAt     *time.Time
	NextReminderAt        *time.Time
	ContinuationAskedAt   *time.Time
	ContinuationTimeoutAt *time.Time
	SnoozedUntil          *time.Time
	EscalatedAt           *time.Time
	CompletedAt           *time.Time
	DeferredUntil         *time.Time // dispatch held back until the send window opens

	LeaseID   string `gorm:"size:36"`
	LeaseKind string `gorm:"size:24"`
	LeasedAt  *time.Time

	NextDueAt *time.Time `gorm:"index"`

	History []ConversationMessage `gorm:"foreignKey:ConversationID"`
}

// ConversationMessage is one entry in a conversation's append-only history.
type ConversationMessage struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ConversationID string    `gorm:"size:64;not null;index"`
	Sequence       int       `gorm:"not null"`
	Actor          string    `gorm:"size:8;not null"` // "user" or "system"
	Text           string    `gorm:"type:text;not null"`
	PromptKey      string    `gorm:"size:48"`
	SentAt         time.Time `gorm:"not null"`
}

// History actors.
const (
	ActorUser   = "user"
	ActorSystem = "system"
)

// Field returns a collected field as a string, or "" when unset.
func (c *Conversation) Field(key string) string {
	if c.Fields == nil {
		return ""
	}
	v, ok := c.Fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// SetField stores a collected field. Empty values delete the key.
func (c *Conversation) SetField(key, value string) {
	if c.Fields == nil {
		c.Fields = datatypes.JSONMap{}
	}
	if value == "" {
		delete(c.Fields, key)
		return
	}
	c.Fields[key] = value
}

// StringFields returns a copy of the collected fields as plain strings.
func (c *Conversation) StringFields() map[string]string {
	out := make(map[string]string, len(c.Fields))
	for k := range c.Fields {
		if v := c.Field(k); v != "" {
			out[k] = v
		}
	}
	return out
}

// Append adds a history entry. Timestamps never go backwards: an entry
// older than the current tail is stamped with the tail's time.
func (c *Conversation) Append(actor, text, promptKey string, at time.Time) {
	seq := 1
	if n := len(c.History); n > 0 {
		last := c.History[n-1]
		seq = last.Sequence + 1
		if at.Before(last.SentAt) {
			at = last.SentAt
		}
	}
	c.History = append(c.History, ConversationMessage{
		ConversationID: c.ID,
		Sequence:       seq,
		Actor:          actor,
		Text:           text,
		PromptKey:      promptKey,
		SentAt:         at,
	})
	if at.After(c.LastMessageAt) {
		c.LastMessageAt = at
	}
	if actor == ActorUser {
		t := at
		c.LastUserMessageAt = &t
	}
}

// LastSystemMessage returns the most recent system history entry.
func (c *Conversation) LastSystemMessage() (ConversationMessage, bool) {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Actor == ActorSystem {
			return c.History[i], true
		}
	}
	return ConversationMessage{}, false
}
