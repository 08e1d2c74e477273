package store

import (
	"sort"
	"time"

	"github.com/zulandar/perito/internal/identity"
	"github.com/zulandar/perito/internal/models"
)

// healPlan groups stored keys by canonical identity. Only groups that need
// rewriting are kept: a single key already in canonical form is left alone.
type healPlan map[string][]string

func planHeal(keys []string) (plan healPlan, invalid []string) {
	groups := make(map[string][]string)
	for _, k := range keys {
		id, err := identity.Normalize(k)
		if err != nil {
			invalid = append(invalid, k)
			continue
		}
		groups[id] = append(groups[id], k)
	}
	plan = make(healPlan)
	for id, ks := range groups {
		if len(ks) == 1 && ks[0] == id {
			continue
		}
		sort.Strings(ks)
		plan[id] = ks
	}
	return plan, invalid
}

type historyKey struct {
	at    time.Time
	actor string
	text  string
}

// Merge folds records stored under different encodings of one identity into
// a single record keyed id. The record with the latest LastMessageAt wins
// every scalar field; collected fields missing from the winner are taken from
// the others; histories are unioned, deduplicated and renumbered.
func Merge(id string, records []models.Conversation) models.Conversation {
	if len(records) == 0 {
		return models.Conversation{ID: id}
	}
	sorted := make([]models.Conversation, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].LastMessageAt.Equal(sorted[j].LastMessageAt) {
			return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
		}
		return sorted[i].LastMessageAt.After(sorted[j].LastMessageAt)
	})

	out := sorted[0]
	out.ID = id
	out.LeaseID, out.LeaseKind, out.LeasedAt = "", "", nil

	fields := make(map[string]interface{})
	for i := len(sorted) - 1; i >= 0; i-- {
		for k, v := range sorted[i].Fields {
			fields[k] = v
		}
	}
	out.Fields = fields

	var revision int64
	created := out.CreatedAt
	seen := make(map[historyKey]bool)
	var history []models.ConversationMessage
	for _, r := range sorted {
		if r.Revision > revision {
			revision = r.Revision
		}
		if !r.CreatedAt.IsZero() && (created.IsZero() || r.CreatedAt.Before(created)) {
			created = r.CreatedAt
		}
		for _, m := range r.History {
			k := historyKey{at: m.SentAt.UTC(), actor: m.Actor, text: m.Text}
			if seen[k] {
				continue
			}
			seen[k] = true
			history = append(history, m)
		}
	}
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].SentAt.Equal(history[j].SentAt) {
			return history[i].Sequence < history[j].Sequence
		}
		return history[i].SentAt.Before(history[j].SentAt)
	})
	for i := range history {
		history[i].ID = 0
		history[i].ConversationID = id
		history[i].Sequence = i + 1
	}
	out.History = history
	out.Revision = revision
	out.CreatedAt = created
	return out
}
