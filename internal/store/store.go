// Package store persists conversations behind a per-key atomic upsert.
//
// Two backends share the same contract: SQL (gorm, sqlite or mysql) and an
// embedded bbolt file. Both serialize mutations per canonical identity with
// an in-process keyed lock, so concurrent upserts on different identities
// never wait on each other.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/identity"
	"github.com/zulandar/perito/internal/models"
)

var (
	// ErrNotFound is returned by Get for an unknown identity.
	ErrNotFound = errors.New("store: conversation not found")
	// ErrUnchanged may be returned by a Mutator to skip the write.
	ErrUnchanged = errors.New("store: unchanged")
	// ErrInvariant wraps every record-level invariant violation.
	ErrInvariant = errors.New("store: invariant violated")
)

// Mutator edits a conversation in place. A record that does not exist yet is
// passed with Revision 0. Returning ErrUnchanged leaves the stored record as
// it was; any other error aborts the upsert.
type Mutator func(c *models.Conversation) error

// Predicate filters ScanDue results.
type Predicate func(c *models.Conversation) bool

// DueFunc returns the earliest instant at which a record may need sweep
// attention, or nil if none of its timers are armed.
type DueFunc func(c *models.Conversation) *time.Time

// Filter narrows List results.
type Filter struct {
	Status string
	Limit  int
}

// Store is the conversation persistence contract.
type Store interface {
	Get(ctx context.Context, id string) (*models.Conversation, error)
	Upsert(ctx context.Context, id string, fn Mutator) (*models.Conversation, error)
	ScanDue(ctx context.Context, now time.Time, pred Predicate) ([]models.Conversation, error)
	List(ctx context.Context, f Filter) ([]models.Conversation, error)
	Delete(ctx context.Context, id string) error
	Heal(ctx context.Context) (int, error)
	Close() error
}

// Options configures either backend.
type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
	DueAt  DueFunc
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.DueAt == nil {
		o.DueAt = EarliestTimer
	}
}

// EarliestTimer is the default DueFunc: the earliest armed timer of a record.
func EarliestTimer(c *models.Conversation) *time.Time {
	var due *time.Time
	for _, t := range []*time.Time{c.NextReminderAt, c.ContinuationTimeoutAt, c.SnoozedUntil, c.DeferredUntil} {
		if t != nil && (due == nil || t.Before(*due)) {
			v := *t
			due = &v
		}
	}
	return due
}

// keyedMutex hands out one mutex per key and frees it when the last holder
// unlocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// canonical resolves id to its canonical identity.
func canonical(id string) (string, error) {
	key, err := identity.Normalize(id)
	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	return key, nil
}

func newConversation(id string, now time.Time) *models.Conversation {
	return &models.Conversation{
		ID:            id,
		Stage:         string(dialogue.StageInitial),
		Status:        string(dialogue.StatusPending),
		CreatedAt:     now,
		LastMessageAt: now,
	}
}

// apply runs fn against c and stamps the bookkeeping fields every write
// carries. changed is false when fn returned ErrUnchanged.
func apply(c *models.Conversation, fn Mutator, opts Options) (changed bool, err error) {
	if err := fn(c); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return false, nil
		}
		return false, err
	}
	if err := Check(c); err != nil {
		return false, err
	}
	c.Revision++
	c.UpdatedAt = opts.Now()
	c.NextDueAt = opts.DueAt(c)
	if c.NextDueAt != nil {
		utc := c.NextDueAt.UTC()
		c.NextDueAt = &utc
	}
	return true, nil
}

func sortByLastMessage(cs []models.Conversation) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].LastMessageAt.After(cs[j].LastMessageAt)
	})
}
