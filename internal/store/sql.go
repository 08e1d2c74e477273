package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/perito/internal/models"
)

// SQL is the gorm-backed Store. Conversations and their history live in two
// tables; the indexed next_due_at column lets ScanDue skip idle rows.
type SQL struct {
	db    *gorm.DB
	locks *keyedMutex
	opts  Options
}

// NewSQL wraps a migrated gorm database and heals any legacy keys.
func NewSQL(ctx context.Context, db *gorm.DB, opts Options) (*SQL, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	opts.defaults()
	s := &SQL{db: db, locks: newKeyedMutex(), opts: opts}
	if _, err := s.Heal(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func withHistory(db *gorm.DB) *gorm.DB {
	return db.Preload("History", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence ASC")
	})
}

// Get returns the conversation for id.
func (s *SQL) Get(ctx context.Context, id string) (*models.Conversation, error) {
	key, err := canonical(id)
	if err != nil {
		return nil, err
	}
	var c models.Conversation
	err = withHistory(s.db.WithContext(ctx)).Where("id = ?", key).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	return &c, nil
}

// maxConflictRetries bounds how often Upsert reloads after another process
// wrote the same record between load and save.
const maxConflictRetries = 5

var errConflict = errors.New("revision conflict")

// Upsert applies fn to the conversation for id while holding the per-key
// lock. The write is a compare-and-swap on Revision, so a concurrent writer
// in another process makes Upsert reload and run fn again.
func (s *SQL) Upsert(ctx context.Context, id string, fn Mutator) (*models.Conversation, error) {
	key, err := canonical(id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		out, err := s.upsertOnce(ctx, key, fn)
		if errors.Is(err, errConflict) {
			s.opts.Logger.Debug("store: revision conflict, retrying",
				zap.String("id", key), zap.Int("attempt", attempt+1))
			continue
		}
		return out, err
	}
	return nil, fmt.Errorf("store: upsert %s: %w after %d attempts", key, errConflict, maxConflictRetries)
}

func (s *SQL) upsertOnce(ctx context.Context, key string, fn Mutator) (*models.Conversation, error) {
	var c models.Conversation
	exists := true
	if err := withHistory(s.db.WithContext(ctx)).Where("id = ?", key).First(&c).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("store: upsert %s: load: %w", key, err)
		}
		exists = false
		c = *newConversation(key, s.opts.Now())
	}
	prevRevision := c.Revision

	changed, err := apply(&c, fn, s.opts)
	if err != nil {
		return nil, fmt.Errorf("store: upsert %s: %w", key, err)
	}
	if !changed {
		if !exists {
			return nil, ErrNotFound
		}
		return &c, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if exists {
			res := tx.Model(&c).Select("*").Omit(clause.Associations).
				Where("revision = ?", prevRevision).Updates(&c)
			if res.Error != nil {
				return fmt.Errorf("save: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return errConflict
			}
		} else {
			var n int64
			if err := tx.Model(&models.Conversation{}).Where("id = ?", key).Count(&n).Error; err != nil {
				return fmt.Errorf("save: %w", err)
			}
			if n > 0 {
				return errConflict
			}
			if err := tx.Omit(clause.Associations).Create(&c).Error; err != nil {
				return fmt.Errorf("save: %w", err)
			}
		}
		for i := range c.History {
			if c.History[i].ID != 0 {
				continue
			}
			c.History[i].ConversationID = key
			if err := tx.Create(&c.History[i]).Error; err != nil {
				return fmt.Errorf("append history: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, errConflict) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("store: upsert %s: %w", key, err)
	}
	return &c, nil
}

// ScanDue returns every conversation whose next_due_at has passed and that
// satisfies pred. Rows are read in one transaction so no record is seen
// half-written.
func (s *SQL) ScanDue(ctx context.Context, now time.Time, pred Predicate) ([]models.Conversation, error) {
	var rows []models.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return withHistory(tx).
			Where("next_due_at IS NOT NULL AND next_due_at <= ?", now.UTC()).
			Order("next_due_at ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan due: %w", err)
	}
	if pred == nil {
		return rows, nil
	}
	out := rows[:0]
	for i := range rows {
		if pred(&rows[i]) {
			out = append(out, rows[i])
		}
	}
	return out, nil
}

// List returns conversations, most recently active first, without history.
func (s *SQL) List(ctx context.Context, f Filter) ([]models.Conversation, error) {
	q := s.db.WithContext(ctx).Order("last_message_at DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []models.Conversation
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return rows, nil
}

// Delete removes a conversation and its history.
func (s *SQL) Delete(ctx context.Context, id string) error {
	key, err := canonical(id)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	var n int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", key).Delete(&models.ConversationMessage{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", key).Delete(&models.Conversation{})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Heal merges rows stored under non-canonical or duplicate keys into one
// canonical row each. It returns the number of canonical records rewritten.
func (s *SQL) Heal(ctx context.Context) (int, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).Pluck("id", &keys).Error; err != nil {
		return 0, fmt.Errorf("store: heal: list keys: %w", err)
	}
	plan, invalid := planHeal(keys)
	for _, k := range invalid {
		s.opts.Logger.Warn("store: unnormalizable key left in place", zap.String("key", k))
	}

	healed := 0
	for id, legacy := range plan {
		unlock := s.locks.Lock(id)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			q := withHistory(tx)
			if tx.Dialector.Name() == "mysql" {
				q = q.Clauses(clause.Locking{Strength: "UPDATE"})
			}
			var rows []models.Conversation
			if err := q.Where("id IN ?", legacy).Find(&rows).Error; err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			merged := Merge(id, rows)
			if err := tx.Where("conversation_id IN ?", legacy).Delete(&models.ConversationMessage{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", legacy).Delete(&models.Conversation{}).Error; err != nil {
				return err
			}
			merged.NextDueAt = s.opts.DueAt(&merged)
			if err := tx.Omit(clause.Associations).Create(&merged).Error; err != nil {
				return err
			}
			for i := range merged.History {
				if err := tx.Create(&merged.History[i]).Error; err != nil {
					return err
				}
			}
			return nil
		})
		unlock()
		if err != nil {
			return healed, fmt.Errorf("store: heal %s: %w", id, err)
		}
		healed++
		s.opts.Logger.Info("store: merged legacy keys",
			zap.String("id", id), zap.Strings("keys", legacy))
	}
	return healed, nil
}

// Close releases the database connection pool.
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return sqlDB.Close()
}
