package dashboard

import (
	"context"
	"sort"
	"time"

	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/models"
	"github.com/zulandar/perito/internal/store"
)

var timeNow = time.Now

// ConversationRow is one line of the conversation list.
type ConversationRow struct {
	ID             string     `json:"id"`
	Stage          string     `json:"stage"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	ClaimRef       string     `json:"claim_ref,omitempty"`
	Outcome        string     `json:"outcome,omitempty"`
	LastMessageAt  time.Time  `json:"last_message_at"`
	NextReminderAt *time.Time `json:"next_reminder_at,omitempty"`
	NextDueAt      *time.Time `json:"next_due_at,omitempty"`
}

// MessageRow is one history entry.
type MessageRow struct {
	Sequence  int       `json:"sequence"`
	Actor     string    `json:"actor"`
	Text      string    `json:"text"`
	PromptKey string    `json:"prompt_key,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// HandoffRow is one entry of the staff inbox.
type HandoffRow struct {
	ID             uint      `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Reason         string    `json:"reason"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body,omitempty"`
	Priority       string    `json:"priority"`
	Acknowledged   bool      `json:"acknowledged"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationDetail is the full view of one conversation.
type ConversationDetail struct {
	ConversationRow
	Unparsed         int               `json:"unparsed"`
	DispatchFailures int               `json:"dispatch_failures"`
	LastPromptKey    string            `json:"last_prompt_key,omitempty"`
	LastPromptText   string            `json:"last_prompt_text,omitempty"`
	Fields           map[string]string `json:"fields"`
	SnoozedUntil     *time.Time        `json:"snoozed_until,omitempty"`
	ContinuationEnds *time.Time        `json:"continuation_timeout_at,omitempty"`
	History          []MessageRow      `json:"history"`
	Handoffs         []HandoffRow      `json:"handoffs"`
}

// Stats counts conversations by status and by stage.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByStage  map[string]int `json:"by_stage"`
}

func rowFor(c *models.Conversation) ConversationRow {
	return ConversationRow{
		ID:             c.ID,
		Stage:          c.Stage,
		Status:         c.Status,
		Attempts:       c.Attempts,
		ClaimRef:       c.Field(dialogue.FieldClaimRef),
		Outcome:        c.Field(dialogue.FieldOutcome),
		LastMessageAt:  c.LastMessageAt,
		NextReminderAt: c.NextReminderAt,
		NextDueAt:      c.NextDueAt,
	}
}

func detailFor(c *models.Conversation, handoffs []models.Handoff) ConversationDetail {
	d := ConversationDetail{
		ConversationRow:  rowFor(c),
		Unparsed:         c.Unparsed,
		DispatchFailures: c.DispatchFailures,
		LastPromptKey:    c.LastPromptKey,
		LastPromptText:   c.LastPromptText,
		Fields:           c.StringFields(),
		SnoozedUntil:     c.SnoozedUntil,
		ContinuationEnds: c.ContinuationTimeoutAt,
		History:          make([]MessageRow, len(c.History)),
		Handoffs:         make([]HandoffRow, len(handoffs)),
	}
	for i, m := range c.History {
		d.History[i] = MessageRow{
			Sequence:  m.Sequence,
			Actor:     m.Actor,
			Text:      m.Text,
			PromptKey: m.PromptKey,
			SentAt:    m.SentAt,
		}
	}
	for i := range handoffs {
		d.Handoffs[i] = handoffRowFor(&handoffs[i])
	}
	return d
}

func handoffRowFor(h *models.Handoff) HandoffRow {
	return HandoffRow{
		ID:             h.ID,
		ConversationID: h.ConversationID,
		Reason:         h.Reason,
		Subject:        h.Subject,
		Body:           h.Body,
		Priority:       h.Priority,
		Acknowledged:   h.Acknowledged,
		CreatedAt:      h.CreatedAt,
	}
}

// Summarize counts every stored conversation by status and stage.
func Summarize(ctx context.Context, st store.Store) (Stats, error) {
	rows, err := st.List(ctx, store.Filter{})
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Total: len(rows), ByStatus: map[string]int{}, ByStage: map[string]int{}}
	for _, c := range rows {
		s.ByStatus[c.Status]++
		s.ByStage[c.Stage]++
	}
	return s, nil
}

// SortedKeys returns the keys of m in order, for stable CLI output.
func SortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
