package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"github.com/zulandar/perito/internal/config"
	"github.com/zulandar/perito/internal/db"
	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/models"
)

func legacyPair() []models.Conversation {
	older := models.Conversation{
		ID:            "34600111222",
		Stage:         string(dialogue.StageAttendeeSelect),
		Status:        string(dialogue.StatusAwaitingAttendee),
		Revision:      4,
		Fields:        datatypes.JSONMap{dialogue.FieldInsuredName: "Ana Ruiz", dialogue.FieldAddress: "Calle Mayor 5"},
		CreatedAt:     t0.Add(-48 * time.Hour),
		LastMessageAt: t0.Add(-2 * time.Hour),
		History: []models.ConversationMessage{
			{Sequence: 1, Actor: models.ActorSystem, Text: "¿Son correctos?", SentAt: t0.Add(-3 * time.Hour)},
			{Sequence: 2, Actor: models.ActorUser, Text: "sí", SentAt: t0.Add(-2 * time.Hour)},
		},
	}
	newer := models.Conversation{
		ID:            "whatsapp:34 600 111 222",
		Stage:         string(dialogue.StageClaimType),
		Status:        string(dialogue.StatusResponded),
		Revision:      2,
		Fields:        datatypes.JSONMap{dialogue.FieldAttendee: "self", dialogue.FieldInsuredName: "Ana R."},
		CreatedAt:     t0.Add(-24 * time.Hour),
		LastMessageAt: t0.Add(-time.Hour),
		History: []models.ConversationMessage{
			{Sequence: 1, Actor: models.ActorUser, Text: "sí", SentAt: t0.Add(-2 * time.Hour)},
			{Sequence: 2, Actor: models.ActorUser, Text: "yo", SentAt: t0.Add(-time.Hour)},
		},
	}
	return []models.Conversation{older, newer}
}

func assertMerged(t *testing.T, c *models.Conversation) {
	t.Helper()
	if c.ID != ana {
		t.Errorf("ID = %q, want %q", c.ID, ana)
	}
	if c.Stage != string(dialogue.StageClaimType) {
		t.Errorf("Stage = %q, want the newer record's claim_type", c.Stage)
	}
	if c.Field(dialogue.FieldInsuredName) != "Ana R." {
		t.Errorf("insured_name = %q, want newer value", c.Field(dialogue.FieldInsuredName))
	}
	if c.Field(dialogue.FieldAddress) != "Calle Mayor 5" {
		t.Errorf("address = %q, want value carried from older record", c.Field(dialogue.FieldAddress))
	}
	if len(c.History) != 3 {
		t.Fatalf("History len = %d, want 3 (duplicate \"sí\" merged)", len(c.History))
	}
	for i, m := range c.History {
		if m.Sequence != i+1 {
			t.Errorf("History[%d].Sequence = %d", i, m.Sequence)
		}
	}
	if c.History[0].Text != "¿Son correctos?" || c.History[2].Text != "yo" {
		t.Errorf("History order = %+v", c.History)
	}
}

func TestMerge(t *testing.T) {
	m := Merge(ana, legacyPair())
	assertMerged(t, &m)
	if m.Revision != 4 {
		t.Errorf("Revision = %d, want max of inputs (4)", m.Revision)
	}
	if !m.CreatedAt.Equal(t0.Add(-48 * time.Hour)) {
		t.Errorf("CreatedAt = %v, want earliest", m.CreatedAt)
	}
}

func TestPlanHeal(t *testing.T) {
	plan, invalid := planHeal([]string{ana, "34600333444", "whatsapp:+34600555666", "whatsapp:+34 600 555 666", "bogus"})
	if len(invalid) != 1 || invalid[0] != "bogus" {
		t.Errorf("invalid = %v", invalid)
	}
	if _, ok := plan[ana]; ok {
		t.Error("canonical single key should not be rewritten")
	}
	if ks := plan[luis]; len(ks) != 1 {
		t.Errorf("plan[luis] = %v, want the one legacy key", ks)
	}
	if ks := plan["whatsapp:+34600555666"]; len(ks) != 2 {
		t.Errorf("duplicate group = %v, want 2 keys", ks)
	}
}

func TestSQL_HealOnLoad(t *testing.T) {
	gdb, err := db.Prepare(config.DatabaseConfig{Driver: "sqlite", Path: db.MemoryPath})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range legacyPair() {
		c := c
		history := c.History
		c.History = nil
		if err := gdb.Omit(clause.Associations).Create(&c).Error; err != nil {
			t.Fatalf("seed %s: %v", c.ID, err)
		}
		for _, m := range history {
			m.ConversationID = c.ID
			if err := gdb.Create(&m).Error; err != nil {
				t.Fatalf("seed history: %v", err)
			}
		}
	}

	s, err := NewSQL(context.Background(), gdb, Options{Now: fixedClock()})
	if err != nil {
		t.Fatalf("NewSQL: %v", err)
	}
	defer s.Close()

	c, err := s.Get(context.Background(), ana)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertMerged(t, c)

	var n int64
	gdb.Model(&models.Conversation{}).Count(&n)
	if n != 1 {
		t.Errorf("conversation rows = %d, want 1", n)
	}
	gdb.Model(&models.ConversationMessage{}).Count(&n)
	if n != 3 {
		t.Errorf("history rows = %d, want 3", n)
	}

	healed, err := s.Heal(context.Background())
	if err != nil || healed != 0 {
		t.Errorf("second Heal = %d, %v; want 0, nil", healed, err)
	}
}

func seedBolt(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	bdb, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer bdb.Close()
	err = bdb.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketConversations)
		if err != nil {
			return err
		}
		for k, v := range entries {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestBolt_HealOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conv.bolt")
	entries := map[string][]byte{"whatsapp:+34600999888": []byte("{not json")}
	for _, c := range legacyPair() {
		enc, err := json.Marshal(c)
		if err != nil {
			t.Fatal(err)
		}
		entries[c.ID] = enc
	}
	seedBolt(t, path, entries)

	s, err := OpenBolt(context.Background(), path, Options{Now: fixedClock()})
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	defer s.Close()

	c, err := s.Get(context.Background(), ana)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertMerged(t, c)

	all, _ := s.List(context.Background(), Filter{})
	if len(all) != 1 {
		t.Errorf("List = %v, want only the merged record (malformed entry dropped)", ids(all))
	}
}

func TestBolt_CorruptFileReinitializes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conv.bolt")
	if err := os.WriteFile(path, []byte("this is not a bolt database"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := OpenBolt(context.Background(), path, Options{Now: fixedClock()})
	if err != nil {
		t.Fatalf("OpenBolt on corrupt file: %v", err)
	}
	defer s.Close()

	if _, err := s.Upsert(context.Background(), ana, func(c *models.Conversation) error { return nil }); err != nil {
		t.Fatalf("Upsert after reinit: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "conv.bolt.corrupt-*"))
	if len(matches) != 1 {
		t.Errorf("corrupt file moved aside: %v, want one match", matches)
	}
}
