package db

import (
	"github.com/glebarez/sqlite"
	"github.com/pysugar/linkvault/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB initializes the SQLite database connection and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Auto-migrate all models
	if err := db.AutoMigrate(
		&models.TokenRecord{},
		&models.OAuthState{},
		&models.InventoryAccount{},
		&models.InventoryResource{},
		&models.RediscoveryJob{},
	); err != nil {
		return nil, err
	}

	return db, nil
}
