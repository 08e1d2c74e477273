package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/zulandar/perito/internal/models"
)

var (
	bucketConversations = []byte("conversations")
	bucketDue           = []byte("due")
)

// dueKeyLayout sorts lexicographically in time order.
const dueKeyLayout = "2006-01-02T15:04:05.000000000Z"

// Bolt is the embedded-file Store. Each conversation is one JSON value; a
// second bucket indexes records by next due time so ScanDue reads only the
// records that could be due.
type Bolt struct {
	db    *bolt.DB
	path  string
	locks *keyedMutex
	opts  Options
}

// OpenBolt opens (or creates) the store file at path. A file that cannot be
// opened is moved aside and replaced with an empty store.
func OpenBolt(ctx context.Context, path string, opts Options) (*Bolt, error) {
	opts.defaults()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db, err := openBoltFile(path)
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("store: open %s: %w", path, err)
		}
		aside := fmt.Sprintf("%s.corrupt-%d", path, opts.Now().Unix())
		opts.Logger.Error("store: unreadable store file, reinitializing empty",
			zap.String("path", path), zap.String("moved_to", aside), zap.Error(err))
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, fmt.Errorf("store: move aside %s: %w", path, rerr)
		}
		if db, err = openBoltFile(path); err != nil {
			return nil, fmt.Errorf("store: reinitialize %s: %w", path, err)
		}
	}
	s := &Bolt{db: db, path: path, locks: newKeyedMutex(), opts: opts}
	if _, err := s.Heal(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func openBoltFile(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketConversations, bucketDue} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func dueKey(at time.Time, id string) []byte {
	return []byte(at.UTC().Format(dueKeyLayout) + "\x00" + id)
}

func decode(v []byte) (*models.Conversation, error) {
	var c models.Conversation
	if err := json.Unmarshal(v, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Bolt) load(key string) (*models.Conversation, error) {
	var c *models.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketConversations).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		var err error
		c, err = decode(v)
		return err
	})
	return c, err
}

// Get returns the conversation for id.
func (s *Bolt) Get(_ context.Context, id string) (*models.Conversation, error) {
	key, err := canonical(id)
	if err != nil {
		return nil, err
	}
	c, err := s.load(key)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	return c, nil
}

// put writes c and moves its due-index entry from prevDue to c.NextDueAt.
func putTx(tx *bolt.Tx, c *models.Conversation, prevDue *time.Time) error {
	enc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketConversations).Put([]byte(c.ID), enc); err != nil {
		return err
	}
	due := tx.Bucket(bucketDue)
	if prevDue != nil {
		if err := due.Delete(dueKey(*prevDue, c.ID)); err != nil {
			return err
		}
	}
	if c.NextDueAt != nil {
		return due.Put(dueKey(*c.NextDueAt, c.ID), []byte(c.ID))
	}
	return nil
}

// Upsert applies fn to the conversation for id while holding the per-key
// lock. The mutator runs outside bolt's write transaction.
func (s *Bolt) Upsert(_ context.Context, id string, fn Mutator) (*models.Conversation, error) {
	key, err := canonical(id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	c, err := s.load(key)
	exists := err == nil
	switch {
	case errors.Is(err, ErrNotFound):
		c = newConversation(key, s.opts.Now())
	case err != nil:
		s.opts.Logger.Error("store: unreadable record, starting over",
			zap.String("id", key), zap.Error(err))
		c = newConversation(key, s.opts.Now())
	}

	var prevDue *time.Time
	if exists && c.NextDueAt != nil {
		t := *c.NextDueAt
		prevDue = &t
	}
	for i := range c.History {
		c.History[i].ID = uint(i + 1)
	}
	c.ID = key

	changed, err := apply(c, fn, s.opts)
	if err != nil {
		return nil, fmt.Errorf("store: upsert %s: %w", key, err)
	}
	if !changed {
		if !exists {
			return nil, ErrNotFound
		}
		return c, nil
	}
	for i := range c.History {
		c.History[i].ConversationID = key
		c.History[i].ID = uint(i + 1)
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return putTx(tx, c, prevDue)
	}); err != nil {
		return nil, fmt.Errorf("store: upsert %s: %w", key, err)
	}
	return c, nil
}

// ScanDue walks the due index up to now and returns the matching records.
func (s *Bolt) ScanDue(_ context.Context, now time.Time, pred Predicate) ([]models.Conversation, error) {
	limit := []byte(now.UTC().Format(dueKeyLayout) + "\x01")
	var out []models.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		convs := tx.Bucket(bucketConversations)
		cur := tx.Bucket(bucketDue).Cursor()
		for k, v := cur.First(); k != nil && bytes.Compare(k, limit) < 0; k, v = cur.Next() {
			raw := convs.Get(v)
			if raw == nil {
				continue
			}
			c, err := decode(raw)
			if err != nil {
				s.opts.Logger.Warn("store: skipping malformed record", zap.ByteString("id", v), zap.Error(err))
				continue
			}
			if pred == nil || pred(c) {
				out = append(out, *c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan due: %w", err)
	}
	return out, nil
}

// List returns conversations, most recently active first.
func (s *Bolt) List(_ context.Context, f Filter) ([]models.Conversation, error) {
	var out []models.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			c, err := decode(v)
			if err != nil {
				return nil
			}
			if f.Status != "" && c.Status != f.Status {
				return nil
			}
			c.History = nil
			out = append(out, *c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	sortByLastMessage(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Delete removes a conversation.
func (s *Bolt) Delete(_ context.Context, id string) error {
	key, err := canonical(id)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		if c, err := decode(v); err == nil && c.NextDueAt != nil {
			if err := tx.Bucket(bucketDue).Delete(dueKey(*c.NextDueAt, key)); err != nil {
				return err
			}
		}
		return b.Delete([]byte(key))
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// Heal drops malformed entries, merges entries stored under non-canonical
// or duplicate keys, and rebuilds the due index.
func (s *Bolt) Heal(_ context.Context) (int, error) {
	healed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		records := make(map[string]models.Conversation)
		var keys, malformed []string
		if err := b.ForEach(func(k, v []byte) error {
			c, err := decode(v)
			if err != nil {
				malformed = append(malformed, string(k))
				return nil
			}
			keys = append(keys, string(k))
			records[string(k)] = *c
			return nil
		}); err != nil {
			return err
		}
		for _, k := range malformed {
			s.opts.Logger.Error("store: dropping malformed record", zap.String("key", k))
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}

		plan, invalid := planHeal(keys)
		for _, k := range invalid {
			s.opts.Logger.Warn("store: unnormalizable key left in place", zap.String("key", k))
		}
		for id, legacy := range plan {
			group := make([]models.Conversation, 0, len(legacy))
			for _, k := range legacy {
				group = append(group, records[k])
				delete(records, k)
				if err := b.Delete([]byte(k)); err != nil {
					return err
				}
			}
			merged := Merge(id, group)
			for i := range merged.History {
				merged.History[i].ID = uint(i + 1)
			}
			records[id] = merged
			healed++
			s.opts.Logger.Info("store: merged legacy keys",
				zap.String("id", id), zap.Strings("keys", legacy))
		}

		if err := tx.DeleteBucket(bucketDue); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(bucketDue); err != nil {
			return err
		}
		for k, c := range records {
			c.ID = k
			c.NextDueAt = s.opts.DueAt(&c)
			if err := putTx(tx, &c, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return healed, fmt.Errorf("store: heal: %w", err)
	}
	return healed, nil
}

// Close closes the store file.
func (s *Bolt) Close() error {
	return s.db.Close()
}
