package models

import "time"

// Handoff is a request for a human to take over a conversation. Rows
// addressed to "human" form the staff inbox.
type Handoff struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ConversationID string `gorm:"size:64;not null;index"`
	Source         string `gorm:"size:16;not null"` // "sweep", "intake"
	Recipient      string `gorm:"size:64;not null;index"`
	Reason         string `gorm:"size:32;not null"`
	Subject        string `gorm:"size:256"`
	Body           string `gorm:"type:text"`
	Priority       string `gorm:"size:8;default:normal"`
	Acknowledged   bool   `gorm:"default:false;index"`
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
}
