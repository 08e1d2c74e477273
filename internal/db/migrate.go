package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/perito/internal/config"
	"github.com/zulandar/perito/internal/models"
)

// AllModels returns every GORM model Perito persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.Conversation{},
		&models.ConversationMessage{},
		&models.Handoff{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Prepare opens the configured database, creating the MySQL schema first
// when needed, and migrates it.
func Prepare(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Driver == "mysql" {
		admin, err := ConnectAdmin(cfg)
		if err != nil {
			return nil, err
		}
		err = CreateDatabase(admin, cfg.Name)
		Close(admin)
		if err != nil {
			return nil, err
		}
	}
	gdb, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(gdb); err != nil {
		Close(gdb)
		return nil, err
	}
	return gdb, nil
}
