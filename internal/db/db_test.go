package db

import (
	"strings"
	"testing"

	"github.com/zulandar/perito/internal/config"
	"github.com/zulandar/perito/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.DatabaseConfig
		database string
		want     string
	}{
		{
			name:     "default local",
			cfg:      config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, User: "root"},
			database: "perito",
			want:     "root@tcp(127.0.0.1:3306)/perito?parseTime=true",
		},
		{
			name:     "with password",
			cfg:      config.DatabaseConfig{Host: "10.0.0.5", Port: 3307, User: "perito", Pass: "s3cret"},
			database: "claims",
			want:     "perito:s3cret@tcp(10.0.0.5:3307)/claims?parseTime=true",
		},
		{
			name:     "admin without schema",
			cfg:      config.DatabaseConfig{Host: "db.internal", Port: 3306, User: "root"},
			database: "",
			want:     "root@tcp(db.internal:3306)/?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg, tt.database)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAllModels_Count(t *testing.T) {
	if n := len(AllModels()); n != 3 {
		t.Errorf("AllModels() returned %d models, want 3", n)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "postgres"})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if !strings.Contains(err.Error(), "unknown driver") {
		t.Errorf("error = %q", err)
	}
}

func TestPrepare_SQLiteMemory(t *testing.T) {
	gdb, err := Prepare(config.DatabaseConfig{Driver: "sqlite", Path: MemoryPath})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer Close(gdb)

	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}

	h := models.Handoff{ConversationID: "whatsapp:+34600000001", Source: "sweep", Recipient: "human", Reason: "no_response"}
	if err := gdb.Create(&h).Error; err != nil {
		t.Fatalf("create handoff: %v", err)
	}
	var got models.Handoff
	if err := gdb.First(&got, h.ID).Error; err != nil {
		t.Fatalf("read handoff: %v", err)
	}
	if got.Priority != "normal" {
		t.Errorf("Priority default = %q, want normal", got.Priority)
	}
}

func TestPrepare_SQLiteFile(t *testing.T) {
	path := t.TempDir() + "/perito.db"
	gdb, err := Prepare(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := Close(gdb); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Migrating an existing file is a no-op.
	gdb, err = Prepare(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	Close(gdb)
}
